package relay_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/anon-relay/internal/db/dbtest"
	svcErr "github.com/oggyb/anon-relay/internal/errors"
	"github.com/oggyb/anon-relay/internal/pairing"
	"github.com/oggyb/anon-relay/internal/relay"
	"github.com/oggyb/anon-relay/internal/repository"
	"github.com/oggyb/anon-relay/internal/session"
	"github.com/oggyb/anon-relay/internal/transport"
	"github.com/oggyb/anon-relay/internal/transport/transporttest"
)

type fixture struct {
	repo    *repository.SessionRepository
	pairing *pairing.Engine
	relay   *relay.Engine
	sink    *transporttest.Recorder
}

func setup(t *testing.T, sink transport.Sink) fixture {
	t.Helper()
	repo := repository.NewSessionRepository(dbtest.Open(t), nil)
	rec := transporttest.NewRecorder()
	if sink == nil {
		sink = rec
	}
	eng := pairing.NewEngine(repo, rec, nil)
	return fixture{
		repo:    repo,
		pairing: eng,
		relay:   relay.NewEngine(repo, eng.Locker(), sink, 50*time.Millisecond, nil),
		sink:    rec,
	}
}

func (f fixture) pair(t *testing.T, a, b session.UserID) {
	t.Helper()
	require.NoError(t, f.repo.AtomicPair(context.Background(), a, b))
}

func (f fixture) status(t *testing.T, id session.UserID) session.Status {
	t.Helper()
	rec, err := f.repo.Load(context.Background(), id)
	require.NoError(t, err)
	return rec.Status
}

var hello = transport.Content{Kind: transport.KindText, Text: "hello"}

func TestRelayDeliversOnlyContent(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	f.pair(t, 1, 2)

	photo := transport.Content{Kind: transport.KindPhoto, FileRef: "AgADBAAD", Caption: "look"}
	require.NoError(t, f.relay.Relay(ctx, 1, hello))
	require.NoError(t, f.relay.Relay(ctx, 2, photo))

	got := f.sink.Deliveries()
	require.Len(t, got, 2)
	assert.Equal(t, transporttest.Delivery{To: 2, Content: hello}, got[0])
	assert.Equal(t, transporttest.Delivery{To: 1, Content: photo}, got[1])
}

func TestContentCarriesNoSenderIdentity(t *testing.T) {
	typ := reflect.TypeOf(transport.Content{})
	for i := 0; i < typ.NumField(); i++ {
		name := strings.ToLower(typ.Field(i).Name)
		for _, banned := range []string{"sender", "from", "user", "chat", "author"} {
			assert.NotContains(t, name, banned)
		}
	}
}

func TestRelayWithoutPartner(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)

	assert.ErrorIs(t, f.relay.Relay(ctx, 1, hello), svcErr.ErrNoPartner)

	_, err := f.pairing.Find(ctx, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, f.relay.Relay(ctx, 1, hello), svcErr.ErrNoPartner)
	assert.Empty(t, f.sink.Deliveries())
}

func TestRelayRejectsInvalidContent(t *testing.T) {
	f := setup(t, nil)
	f.pair(t, 1, 2)
	err := f.relay.Relay(context.Background(), 1, transport.Content{Kind: transport.KindText})
	assert.ErrorIs(t, err, transport.ErrInvalidContent)
}

func TestRelayRecipientGoneEndsPair(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	f.pair(t, 1, 2)
	f.sink.FailForward(2, transport.ErrRecipientGone)

	err := f.relay.Relay(ctx, 1, hello)
	assert.ErrorIs(t, err, relay.ErrPartnerGone)
	assert.ErrorIs(t, err, svcErr.ErrNoPartner)
	assert.True(t, f.status(t, 1).IsIdle())
	assert.True(t, f.status(t, 2).IsIdle())
}

func TestRelayTransportFailureKeepsPair(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	f.pair(t, 1, 2)
	f.sink.FailForward(2, errors.New("502 bad gateway"))

	err := f.relay.Relay(ctx, 1, hello)
	assert.ErrorIs(t, err, svcErr.ErrDeliveryFailed)
	assert.Equal(t, session.PairedWith(2), f.status(t, 1))
	assert.Equal(t, session.PairedWith(1), f.status(t, 2))
}

func TestRelayHealsAsymmetricLink(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	f.pair(t, 2, 3)
	require.NoError(t, f.repo.Upsert(ctx, session.Record{ID: 1, Status: session.PairedWith(2)}))

	assert.ErrorIs(t, f.relay.Relay(ctx, 1, hello), svcErr.ErrNoPartner)
	assert.True(t, f.status(t, 1).IsIdle())
	assert.Equal(t, session.PairedWith(3), f.status(t, 2))
	assert.Empty(t, f.sink.Deliveries())
}

// blockingSink holds every Forward until released or the context ends.
type blockingSink struct {
	*transporttest.Recorder
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSink) Forward(ctx context.Context, to session.UserID, c transport.Content) error {
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return b.Recorder.Forward(ctx, to, c)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRelayTimesOut(t *testing.T) {
	sink := &blockingSink{Recorder: transporttest.NewRecorder(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := setup(t, sink)
	f.pair(t, 1, 2)

	err := f.relay.Relay(context.Background(), 1, hello)
	assert.ErrorIs(t, err, svcErr.ErrDeliveryFailed)
	assert.Equal(t, session.PairedWith(2), f.status(t, 1))
}

func TestStopWaitsForInFlightRelay(t *testing.T) {
	ctx := context.Background()
	sink := &blockingSink{Recorder: transporttest.NewRecorder(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	repo := repository.NewSessionRepository(dbtest.Open(t), nil)
	eng := pairing.NewEngine(repo, transporttest.NewRecorder(), nil)
	r := relay.NewEngine(repo, eng.Locker(), sink, time.Second, nil)
	require.NoError(t, repo.AtomicPair(ctx, 1, 2))

	relayed := make(chan error, 1)
	go func() { relayed <- r.Relay(ctx, 1, hello) }()
	<-sink.entered

	stopped := make(chan struct{})
	go func() {
		_, _ = eng.Stop(ctx, 2)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop finished while a relay was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	require.NoError(t, <-relayed)
	<-stopped
	assert.Len(t, sink.Deliveries(), 1)
}
