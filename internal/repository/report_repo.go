package repository

import (
	"context"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/oggyb/anon-relay/internal/db"
	svcErr "github.com/oggyb/anon-relay/internal/errors"
	"github.com/oggyb/anon-relay/internal/session"
	"github.com/oggyb/anon-relay/internal/utils/pagination"
)

// MaxReasonLength caps a stored report reason, in characters.
const MaxReasonLength = 1000

// ReportRepository persists abuse reports.
type ReportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a new repository bound to the given DB connection.
func NewReportRepository(database *gorm.DB) *ReportRepository {
	return &ReportRepository{db: database}
}

// Create stores a report, truncating reason to MaxReasonLength characters.
func (r *ReportRepository) Create(
	ctx context.Context,
	reporterID, reportedID session.UserID,
	reason string,
) (db.Report, error) {
	report := db.Report{
		ReporterID: reporterID,
		ReportedID: reportedID,
		Reason:     truncate(reason, MaxReasonLength),
	}
	err := retryOnContention(ctx, func() error {
		return r.db.WithContext(ctx).Create(&report).Error
	})
	if err != nil {
		return db.Report{}, svcErr.Storage(err)
	}
	return report, nil
}

// CountAgainst returns how many reports were filed against reportedID.
func (r *ReportRepository) CountAgainst(ctx context.Context, reportedID session.UserID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Report{}).
		Where("reported_id = ?", reportedID).
		Count(&count).Error
	if err != nil {
		return 0, svcErr.Storage(err)
	}
	return count, nil
}

// List returns reports newest first, optionally filtered by reported user.
//
// Behavior:
//   - Ordered by id DESC, which is insertion order reversed.
//   - Supports cursor-based pagination via paginationToken.
//
// Example:
//
//	repo.List(ctx, nil, nil, 20) // first 20 reports
func (r *ReportRepository) List(
	ctx context.Context,
	reportedID *session.UserID,
	paginationToken *string,
	limit int,
) ([]db.Report, *string, error) {
	if limit <= 0 {
		return nil, nil, svcErr.InvalidArgument("limit must be positive")
	}
	var reports []db.Report

	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, svcErr.InvalidArgument(err.Error())
	}

	query := r.db.WithContext(ctx).
		Model(&db.Report{}).
		Order("id DESC").
		Limit(limit + 1)
	if reportedID != nil {
		query = query.Where("reported_id = ?", *reportedID)
	}

	// apply cursor
	if cursor.ID > 0 {
		query = query.Where("id < ?", cursor.ID)
	}

	if err := query.Find(&reports).Error; err != nil {
		return nil, nil, svcErr.Storage(err)
	}

	// pagination: build next cursor if needed
	var nextToken *string
	if len(reports) > limit {
		last := reports[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{ID: last.ID})
		nextToken = &token
		reports = reports[:limit]
	}

	return reports, nextToken, nil
}

// getString safely dereferences a string pointer for pagination tokens.
func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
