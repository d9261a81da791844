package db

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// SeedDemoData resets the session tables and writes a small population that
// exercises every recovery path.
//
// Dataset (ids):
//   - 1..10:   idle
//   - 11..14:  waiting, 11 oldest
//   - 21 <-> 22, 23 <-> 24: healthy links
//   - 31 -> 32 while 32 is idle: ghost link left by a crash mid-stop
//   - 41 paired without partner: malformed row
//
// A report from 21 against 22 is added so the admin listing has data.
func SeedDemoData(db *gorm.DB, now time.Time) error {
	if err := db.Exec("DELETE FROM reports").Error; err != nil {
		return fmt.Errorf("failed to clear reports: %w", err)
	}
	if err := db.Exec("DELETE FROM users").Error; err != nil {
		return fmt.Errorf("failed to clear users: %w", err)
	}

	switch db.Dialector.Name() {
	case "mysql":
		db.Exec("ALTER TABLE reports AUTO_INCREMENT = 1")
	case "sqlite":
		db.Exec("DELETE FROM sqlite_sequence WHERE name = 'reports'")
	}

	ptr := func(v int64) *int64 { return &v }

	var users []User
	for i := int64(1); i <= 10; i++ {
		users = append(users, User{ID: i, State: "idle", StateChangedAt: now})
	}
	for i := int64(11); i <= 14; i++ {
		users = append(users, User{ID: i, State: "waiting", StateChangedAt: now.Add(time.Duration(i-15) * time.Minute)})
	}
	users = append(users,
		User{ID: 21, State: "paired", PartnerID: ptr(22), StateChangedAt: now},
		User{ID: 22, State: "paired", PartnerID: ptr(21), StateChangedAt: now},
		User{ID: 23, State: "paired", PartnerID: ptr(24), StateChangedAt: now},
		User{ID: 24, State: "paired", PartnerID: ptr(23), StateChangedAt: now},
		User{ID: 31, State: "paired", PartnerID: ptr(32), StateChangedAt: now},
		User{ID: 32, State: "idle", StateChangedAt: now},
		User{ID: 41, State: "paired", StateChangedAt: now},
	)
	if err := db.Create(&users).Error; err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}
	slog.Info("seeded users", "count", len(users))

	report := Report{ReporterID: 21, ReportedID: 22, Reason: "demo report"}
	if err := db.Create(&report).Error; err != nil {
		return fmt.Errorf("failed to seed report: %w", err)
	}
	return nil
}
