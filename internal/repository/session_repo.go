package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/anon-relay/internal/db"
	svcErr "github.com/oggyb/anon-relay/internal/errors"
	"github.com/oggyb/anon-relay/internal/session"
)

// SessionStore is the durable record of every known user's pairing state.
// All writes are committed before the call returns.
type SessionStore interface {
	Load(ctx context.Context, id session.UserID) (session.Record, error)
	LoadOrCreate(ctx context.Context, id session.UserID) (session.Record, error)
	Upsert(ctx context.Context, rec session.Record) error
	ListByState(ctx context.Context, state session.State) ([]session.Record, error)
	AtomicPair(ctx context.Context, a, b session.UserID) error
	AtomicUnpair(ctx context.Context, id session.UserID) (session.UserID, bool, error)
	Reset(ctx context.Context, ids ...session.UserID) error
	NormalizeMalformed(ctx context.Context) (int64, error)
}

var _ SessionStore = (*SessionRepository)(nil)

var errMalformed = errors.New("malformed session row")

// SessionRepository implements SessionStore on gorm.
type SessionRepository struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewSessionRepository creates a repository bound to the given DB connection.
// A nil clock means wall-clock time.
func NewSessionRepository(database *gorm.DB, clk clock.Clock) *SessionRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &SessionRepository{db: database, clock: clk}
}

func (r *SessionRepository) now() time.Time { return r.clock.Now().UTC() }

// Load returns the record for id, or ErrNotFound.
func (r *SessionRepository) Load(ctx context.Context, id session.UserID) (session.Record, error) {
	var row db.User
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session.Record{}, svcErr.ErrNotFound
	}
	if err != nil {
		return session.Record{}, svcErr.Storage(err)
	}
	return fromRow(row)
}

// LoadOrCreate returns the record for id, creating it as Idle on first
// interaction. Concurrent first interactions are safe.
func (r *SessionRepository) LoadOrCreate(ctx context.Context, id session.UserID) (session.Record, error) {
	row := db.User{ID: id, State: string(session.StateIdle), StateChangedAt: r.now()}
	err := retryOnContention(ctx, func() error {
		return r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&row).Error
	})
	if err != nil {
		return session.Record{}, svcErr.Storage(err)
	}
	return r.Load(ctx, id)
}

// Upsert writes rec. A zero StateChangedAt is stamped with the current time.
func (r *SessionRepository) Upsert(ctx context.Context, rec session.Record) error {
	if rec.StateChangedAt.IsZero() {
		rec.StateChangedAt = r.now()
	}
	row := toRow(rec)
	return r.write(ctx, func(tx *gorm.DB) error {
		return upsertRow(tx, row)
	})
}

// ListByState returns all records in state, oldest state change first.
func (r *SessionRepository) ListByState(ctx context.Context, state session.State) ([]session.Record, error) {
	var rows []db.User
	err := r.db.WithContext(ctx).
		Where("state = ?", string(state)).
		Order("state_changed_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, svcErr.Storage(err)
	}

	out := make([]session.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// AtomicPair links a and b in one transaction.
//
// Behavior:
//   - Both rows are locked in ascending id order before any check.
//   - Missing rows are created.
//   - ErrConflict if a == b or either side is already paired; nothing is written.
func (r *SessionRepository) AtomicPair(ctx context.Context, a, b session.UserID) error {
	if a == b {
		return svcErr.ErrConflict
	}
	now := r.now()
	return r.write(ctx, func(tx *gorm.DB) error {
		rows, err := lockRows(tx, a, b)
		if err != nil {
			return err
		}
		for _, id := range []session.UserID{a, b} {
			if row, ok := rows[id]; ok && row.State == string(session.StatePaired) {
				return svcErr.ErrConflict
			}
		}
		if err := upsertRow(tx, toRow(session.Record{ID: a, Status: session.PairedWith(b), StateChangedAt: now})); err != nil {
			return err
		}
		return upsertRow(tx, toRow(session.Record{ID: b, Status: session.PairedWith(a), StateChangedAt: now}))
	})
}

// AtomicUnpair moves id to Idle and, if its partner still points back,
// moves the partner to Idle in the same transaction.
//
// Returns the former partner and whether id was paired at all. A waiting
// user is simply moved to Idle.
func (r *SessionRepository) AtomicUnpair(ctx context.Context, id session.UserID) (session.UserID, bool, error) {
	var (
		partner session.UserID
		paired  bool
	)
	now := r.now()
	err := r.write(ctx, func(tx *gorm.DB) error {
		partner, paired = 0, false

		var self db.User
		if err := tx.Where("id = ?", id).Take(&self).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return svcErr.ErrNotFound
			}
			return err
		}
		if self.State != string(session.StatePaired) || self.PartnerID == nil {
			return resetRows(tx, now, id)
		}

		p := *self.PartnerID
		rows, err := lockRows(tx, id, p)
		if err != nil {
			return err
		}
		// re-read under lock: the link may have changed since the first read
		self = rows[id]
		if self.State != string(session.StatePaired) || self.PartnerID == nil || *self.PartnerID != p {
			return resetRows(tx, now, id)
		}

		partner, paired = p, true
		if other, ok := rows[p]; ok && other.State == string(session.StatePaired) &&
			other.PartnerID != nil && *other.PartnerID == id {
			return resetRows(tx, now, id, p)
		}
		return resetRows(tx, now, id)
	})
	if err != nil {
		return 0, false, err
	}
	return partner, paired, nil
}

// Reset forces ids to Idle. Used by recovery and the relay self-heal.
func (r *SessionRepository) Reset(ctx context.Context, ids ...session.UserID) error {
	if len(ids) == 0 {
		return nil
	}
	now := r.now()
	return r.write(ctx, func(tx *gorm.DB) error {
		return resetRows(tx, now, ids...)
	})
}

// NormalizeMalformed repairs rows whose columns do not encode a valid
// session.Status and returns how many rows changed.
//
//   - unknown state, paired without partner, paired with self -> idle
//   - idle/waiting carrying a partner_id -> partner_id cleared
func (r *SessionRepository) NormalizeMalformed(ctx context.Context) (int64, error) {
	now := r.now()
	var total int64
	err := r.write(ctx, func(tx *gorm.DB) error {
		total = 0
		res := tx.Model(&db.User{}).
			Where("state NOT IN ? OR (state = ? AND (partner_id IS NULL OR partner_id = id))",
				[]string{string(session.StateIdle), string(session.StateWaiting), string(session.StatePaired)},
				string(session.StatePaired)).
			Updates(map[string]any{
				"state":            string(session.StateIdle),
				"partner_id":       nil,
				"state_changed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected

		res = tx.Model(&db.User{}).
			Where("state <> ? AND partner_id IS NOT NULL", string(session.StatePaired)).
			Update("partner_id", nil)
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	return total, err
}

// write runs fn in a transaction, retrying lock contention. Core sentinel
// errors returned by fn pass through; everything else becomes ErrStorage.
func (r *SessionRepository) write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := retryOnContention(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(fn)
	})
	return svcErr.Storage(err)
}

// lockRows selects the given rows FOR UPDATE in ascending id order.
// SQLite ignores the locking clause; its writer lock is taken at BEGIN.
func lockRows(tx *gorm.DB, ids ...session.UserID) (map[session.UserID]db.User, error) {
	sorted := append([]session.UserID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var rows []db.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", sorted).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[session.UserID]db.User, len(rows))
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func upsertRow(tx *gorm.DB, row db.User) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "partner_id", "state_changed_at", "updated_at"}),
	}).Create(&row).Error
}

func resetRows(tx *gorm.DB, now time.Time, ids ...session.UserID) error {
	return tx.Model(&db.User{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"state":            string(session.StateIdle),
			"partner_id":       nil,
			"state_changed_at": now,
		}).Error
}

func toRow(rec session.Record) db.User {
	row := db.User{
		ID:             rec.ID,
		State:          string(rec.Status.State()),
		StateChangedAt: rec.StateChangedAt,
	}
	if p, ok := rec.Status.Partner(); ok {
		row.PartnerID = &p
	}
	return row
}

func fromRow(row db.User) (session.Record, error) {
	rec := session.Record{ID: row.ID, StateChangedAt: row.StateChangedAt}
	switch session.State(row.State) {
	case session.StateIdle, session.StateWaiting:
		if row.PartnerID != nil {
			return session.Record{}, svcErr.Storage(fmt.Errorf("%w: user %d is %s with a partner", errMalformed, row.ID, row.State))
		}
		if row.State == string(session.StateWaiting) {
			rec.Status = session.Waiting()
		} else {
			rec.Status = session.Idle()
		}
	case session.StatePaired:
		if row.PartnerID == nil || *row.PartnerID == row.ID {
			return session.Record{}, svcErr.Storage(fmt.Errorf("%w: user %d is paired without a valid partner", errMalformed, row.ID))
		}
		rec.Status = session.PairedWith(*row.PartnerID)
	default:
		return session.Record{}, svcErr.Storage(fmt.Errorf("%w: user %d has state %q", errMalformed, row.ID, row.State))
	}
	return rec, nil
}
