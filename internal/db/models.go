package db

import (
	"time"
)

// User is the durable session record of one platform user.
//
// Rows are never deleted, only transitioned. State and PartnerID together
// encode the session.Status variant:
//   - idle:    PartnerID = NULL
//   - waiting: PartnerID = NULL
//   - paired:  PartnerID = partner's id, and the partner row points back
//
// Indexes:
//   - idx_state_changed(state, state_changed_at)
//     Recovery lists waiting users oldest first to rebuild the FIFO pool.
type User struct {
	ID             int64     `gorm:"primaryKey;autoIncrement:false"`
	State          string    `gorm:"size:16;not null;default:idle;index:idx_state_changed,priority:1"`
	PartnerID      *int64    `gorm:"index"`
	StateChangedAt time.Time `gorm:"not null;index:idx_state_changed,priority:2"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// Report is an abuse report filed by a user against their partner.
type Report struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	ReporterID int64     `gorm:"not null;index"`
	ReportedID int64     `gorm:"not null;index:idx_reported_created,priority:1"`
	Reason     string    `gorm:"size:1000"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index:idx_reported_created,priority:2"`
}
