package recovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/anon-relay/internal/db"
	"github.com/oggyb/anon-relay/internal/db/dbtest"
	"github.com/oggyb/anon-relay/internal/pairing"
	"github.com/oggyb/anon-relay/internal/recovery"
	"github.com/oggyb/anon-relay/internal/repository"
	"github.com/oggyb/anon-relay/internal/session"
	"github.com/oggyb/anon-relay/internal/transport/transporttest"
)

func ptr(v int64) *int64 { return &v }

func TestRunClearsHalfWrittenPair(t *testing.T) {
	ctx := context.Background()
	database := dbtest.Open(t)
	repo := repository.NewSessionRepository(database, nil)
	eng := pairing.NewEngine(repo, transporttest.NewRecorder(), nil)

	// crash after writing A's side only
	now := time.Now().UTC()
	require.NoError(t, database.Create(&[]db.User{
		{ID: 1, State: "paired", PartnerID: ptr(2), StateChangedAt: now},
		{ID: 2, State: "idle", StateChangedAt: now},
	}).Error)

	rep, err := recovery.Run(ctx, repo, eng, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Repaired)

	for _, id := range []session.UserID{1, 2} {
		rec, err := repo.Load(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Status.IsIdle(), "user %d", id)
	}
}

func TestRunKeepsSymmetricPairsAndResetsDangling(t *testing.T) {
	ctx := context.Background()
	database := dbtest.Open(t)
	repo := repository.NewSessionRepository(database, nil)
	eng := pairing.NewEngine(repo, transporttest.NewRecorder(), nil)

	now := time.Now().UTC()
	require.NoError(t, database.Create(&[]db.User{
		{ID: 1, State: "paired", PartnerID: ptr(2), StateChangedAt: now}, // 2 is linked to 3
		{ID: 2, State: "paired", PartnerID: ptr(3), StateChangedAt: now},
		{ID: 3, State: "paired", PartnerID: ptr(2), StateChangedAt: now},
		{ID: 4, State: "paired", PartnerID: ptr(404), StateChangedAt: now}, // partner never existed
		{ID: 5, State: "paired", StateChangedAt: now},                      // malformed
	}).Error)

	rep, err := recovery.Run(ctx, repo, eng, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Normalized)
	assert.Equal(t, 2, rep.Repaired)

	want := map[session.UserID]session.Status{
		1: session.Idle(),
		2: session.PairedWith(3),
		3: session.PairedWith(2),
		4: session.Idle(),
		5: session.Idle(),
	}
	for id, st := range want {
		rec, err := repo.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, st, rec.Status, "user %d", id)
	}

	again, err := recovery.Run(ctx, repo, eng, nil)
	require.NoError(t, err)
	assert.Equal(t, recovery.Report{}, again)
}

func TestRunRestoresWaitingInOrder(t *testing.T) {
	ctx := context.Background()
	database := dbtest.Open(t)
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	repo := repository.NewSessionRepository(database, clk)

	for _, id := range []session.UserID{7, 3, 9} {
		require.NoError(t, repo.Upsert(ctx, session.Record{ID: id, Status: session.Waiting()}))
		clk.Add(time.Second)
	}
	// same timestamp: id breaks the tie
	require.NoError(t, repo.Upsert(ctx, session.Record{ID: 2, Status: session.Waiting(), StateChangedAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}))

	eng := pairing.NewEngine(repo, transporttest.NewRecorder(), nil)
	rep, err := recovery.Run(ctx, repo, eng, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Requeued)
	assert.Equal(t, []session.UserID{2, 7, 3, 9}, eng.Waiting())

	// the oldest waiter is matched first after restart
	res, err := eng.Find(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, pairing.Matched, res.Outcome)
	rec, err := repo.Load(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, session.PairedWith(2), rec.Status)
}
