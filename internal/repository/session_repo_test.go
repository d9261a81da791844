package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oggyb/anon-relay/internal/db"
	"github.com/oggyb/anon-relay/internal/db/dbtest"
	svcErr "github.com/oggyb/anon-relay/internal/errors"
	"github.com/oggyb/anon-relay/internal/repository"
	"github.com/oggyb/anon-relay/internal/session"
)

func setupRepo(t *testing.T) (*repository.SessionRepository, *gorm.DB, *clock.Mock) {
	t.Helper()
	database := dbtest.Open(t)
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	return repository.NewSessionRepository(database, clk), database, clk
}

func ptr(v int64) *int64 { return &v }

func TestLoadOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := setupRepo(t)

	_, err := repo.Load(ctx, 1)
	assert.ErrorIs(t, err, svcErr.ErrNotFound)

	rec, err := repo.LoadOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.True(t, rec.Status.IsIdle())

	require.NoError(t, repo.Upsert(ctx, session.Record{ID: 1, Status: session.Waiting()}))

	// second first-interaction must not clobber the state
	rec, err = repo.LoadOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.True(t, rec.Status.IsWaiting())
}

func TestAtomicPairLinksBothSides(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := setupRepo(t)

	_, err := repo.LoadOrCreate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, session.Record{ID: 2, Status: session.Waiting()}))

	require.NoError(t, repo.AtomicPair(ctx, 1, 2))

	a, err := repo.Load(ctx, 1)
	require.NoError(t, err)
	b, err := repo.Load(ctx, 2)
	require.NoError(t, err)
	assert.True(t, a.PairedWith(2))
	assert.True(t, b.PairedWith(1))
}

func TestAtomicPairConflicts(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := setupRepo(t)

	assert.ErrorIs(t, repo.AtomicPair(ctx, 5, 5), svcErr.ErrConflict)

	require.NoError(t, repo.AtomicPair(ctx, 1, 2))
	err := repo.AtomicPair(ctx, 3, 2)
	assert.ErrorIs(t, err, svcErr.ErrConflict)

	// the losing attempt wrote nothing
	_, err = repo.Load(ctx, 3)
	assert.ErrorIs(t, err, svcErr.ErrNotFound)
	b, err := repo.Load(ctx, 2)
	require.NoError(t, err)
	assert.True(t, b.PairedWith(1))
}

func TestAtomicPairConcurrentClaimsOneWinner(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := setupRepo(t)
	require.NoError(t, repo.Upsert(ctx, session.Record{ID: 100, Status: session.Waiting()}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := int64(1); i <= 8; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := repo.AtomicPair(ctx, id, 100); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, svcErr.ErrConflict)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestAtomicUnpair(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := setupRepo(t)
	require.NoError(t, repo.AtomicPair(ctx, 1, 2))

	partner, ok, err := repo.AtomicUnpair(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, session.UserID(1), partner)

	for _, id := range []session.UserID{1, 2} {
		rec, err := repo.Load(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Status.IsIdle(), "user %d", id)
	}

	// unpairing an idle user is a plain reset
	_, ok, err = repo.AtomicUnpair(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = repo.AtomicUnpair(ctx, 99)
	assert.ErrorIs(t, err, svcErr.ErrNotFound)
}

func TestAtomicUnpairLeavesForeignLinkAlone(t *testing.T) {
	ctx := context.Background()
	repo, database, _ := setupRepo(t)

	// 1 -> 2, but 2 <-> 3
	now := time.Now().UTC()
	require.NoError(t, database.Create(&[]db.User{
		{ID: 1, State: "paired", PartnerID: ptr(2), StateChangedAt: now},
		{ID: 2, State: "paired", PartnerID: ptr(3), StateChangedAt: now},
		{ID: 3, State: "paired", PartnerID: ptr(2), StateChangedAt: now},
	}).Error)

	partner, ok, err := repo.AtomicUnpair(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, session.UserID(2), partner)

	two, err := repo.Load(ctx, 2)
	require.NoError(t, err)
	assert.True(t, two.PairedWith(3))
}

func TestListByStateOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo, _, clk := setupRepo(t)

	for _, id := range []session.UserID{30, 10, 20} {
		require.NoError(t, repo.Upsert(ctx, session.Record{ID: id, Status: session.Waiting()}))
		clk.Add(time.Second)
	}
	_, err := repo.LoadOrCreate(ctx, 40)
	require.NoError(t, err)

	recs, err := repo.ListByState(ctx, session.StateWaiting)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []session.UserID{30, 10, 20}, []session.UserID{recs[0].ID, recs[1].ID, recs[2].ID})
}

func TestNormalizeMalformed(t *testing.T) {
	ctx := context.Background()
	repo, database, _ := setupRepo(t)

	now := time.Now().UTC()
	require.NoError(t, database.Create(&[]db.User{
		{ID: 1, State: "paired", StateChangedAt: now},                    // no partner
		{ID: 2, State: "paired", PartnerID: ptr(2), StateChangedAt: now}, // self
		{ID: 3, State: "searching", StateChangedAt: now},                 // unknown
		{ID: 4, State: "waiting", PartnerID: ptr(9), StateChangedAt: now},
		{ID: 5, State: "idle", StateChangedAt: now},
	}).Error)

	_, err := repo.Load(ctx, 1)
	assert.ErrorIs(t, err, svcErr.ErrStorage)

	n, err := repo.NormalizeMalformed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	for id, want := range map[session.UserID]session.State{1: "idle", 2: "idle", 3: "idle", 4: "waiting", 5: "idle"} {
		rec, err := repo.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, rec.Status.State(), "user %d", id)
	}

	n, err = repo.NormalizeMalformed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResetAndStorageErrors(t *testing.T) {
	ctx := context.Background()
	repo, database, _ := setupRepo(t)
	require.NoError(t, repo.AtomicPair(ctx, 1, 2))

	require.NoError(t, repo.Reset(ctx, 1, 2))
	rec, err := repo.Load(ctx, 2)
	require.NoError(t, err)
	assert.True(t, rec.Status.IsIdle())
	require.NoError(t, repo.Reset(ctx))

	sqlDB, err := database.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	err = repo.Upsert(ctx, session.Record{ID: 1, Status: session.Waiting()})
	assert.ErrorIs(t, err, svcErr.ErrStorage)
	_, err = repo.ListByState(ctx, session.StateWaiting)
	assert.ErrorIs(t, err, svcErr.ErrStorage)
}
