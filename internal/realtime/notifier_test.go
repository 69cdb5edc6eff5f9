package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSubscription struct {
	ch        chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{ch: make(chan []byte, 4), closed: make(chan struct{})}
}

func (s *fakeSubscription) Messages() <-chan []byte { return s.ch }

func (s *fakeSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeTransport struct {
	mu    sync.Mutex
	sub   *fakeSubscription
	err   error
	rooms []string
}

func (t *fakeTransport) Join(_ context.Context, room string) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms = append(t.rooms, room)
	if t.err != nil {
		return nil, t.err
	}
	return t.sub, nil
}

func (t *fakeTransport) joined() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.rooms...)
}

const lockPayload = `{"event":"accountLocked","data":{"message":"Your account has been locked by an administrator."}}`

func waitEvent(t *testing.T, n *Notifier) Event {
	t.Helper()
	select {
	case evt := <-n.Events():
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func waitDone(t *testing.T, n *Notifier) {
	t.Helper()
	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for done")
	}
}

func TestStartWithoutTokenDoesNothing(t *testing.T) {
	transport := &fakeTransport{sub: newFakeSubscription()}
	n := NewNotifier(transport, quietLogger)

	require.NoError(t, n.Start(context.Background(), "", "u-1"))
	assert.Equal(t, StateUninitialized, n.State())
	assert.Empty(t, transport.joined())
}

func TestLockEventDelivered(t *testing.T) {
	sub := newFakeSubscription()
	transport := &fakeTransport{sub: sub}
	n := NewNotifier(transport, quietLogger)
	var hooked int
	n.OnLock(func() { hooked++ })

	require.NoError(t, n.Start(context.Background(), "a.b.c", "u-1"))
	assert.Equal(t, StateSubscribed, n.State())
	assert.Equal(t, []string{"u-1"}, transport.joined())
	assert.ErrorIs(t, n.Start(context.Background(), "a.b.c", "u-1"), ErrAlreadyStarted)

	sub.ch <- []byte(`{"event":"userUpdated","data":{}}`)
	sub.ch <- []byte(`not json`)
	sub.ch <- []byte(lockPayload)

	evt := waitEvent(t, n)
	assert.Equal(t, EventAccountLocked, evt.Kind)
	assert.Equal(t, "Your account has been locked by an administrator.", evt.Message)
	waitDone(t, n)
	assert.Equal(t, StateLocked, n.State())
	assert.Equal(t, 1, hooked)

	n.Close()
	assert.Equal(t, StateLocked, n.State(), "locked is terminal")
}

func TestPausedLockHeldUntilResume(t *testing.T) {
	sub := newFakeSubscription()
	n := NewNotifier(&fakeTransport{sub: sub}, quietLogger)
	require.NoError(t, n.Start(context.Background(), "a.b.c", "u-1"))

	n.Pause()
	assert.True(t, n.Paused())
	sub.ch <- []byte(lockPayload)
	waitDone(t, n)
	assert.Equal(t, StateLocked, n.State())

	select {
	case <-n.Events():
		t.Fatal("event delivered while paused")
	default:
	}

	n.Resume()
	assert.False(t, n.Paused())
	evt := waitEvent(t, n)
	assert.Equal(t, EventAccountLocked, evt.Kind)
}

func TestJoinFailureDisconnects(t *testing.T) {
	n := NewNotifier(&fakeTransport{err: errors.New("refused")}, quietLogger)
	err := n.Start(context.Background(), "a.b.c", "u-1")
	require.Error(t, err)
	waitDone(t, n)
	assert.Equal(t, StateDisconnected, n.State())
}

func TestCloseDisconnects(t *testing.T) {
	sub := newFakeSubscription()
	n := NewNotifier(&fakeTransport{sub: sub}, quietLogger)
	require.NoError(t, n.Start(context.Background(), "a.b.c", "u-1"))

	n.Close()
	waitDone(t, n)
	assert.Equal(t, StateDisconnected, n.State())
	select {
	case <-sub.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestDroppedSubscriptionDisconnects(t *testing.T) {
	sub := newFakeSubscription()
	n := NewNotifier(&fakeTransport{sub: sub}, quietLogger)
	require.NoError(t, n.Start(context.Background(), "a.b.c", "u-1"))

	close(sub.ch)
	waitDone(t, n)
	assert.Equal(t, StateDisconnected, n.State())
}

func TestRedisTransportRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	transport := NewRedisTransport(client, "")
	assert.Equal(t, "emis:room:u-7", transport.Channel("u-7"))

	n := NewNotifier(transport, quietLogger)
	require.NoError(t, n.Start(context.Background(), "a.b.c", "u-7"))
	t.Cleanup(n.Close)

	require.NoError(t, transport.Publish(context.Background(), "u-7", EventAccountLocked, "locked"))
	evt := waitEvent(t, n)
	assert.Equal(t, "locked", evt.Message)
}

func TestHubVisibility(t *testing.T) {
	hub := NewHub()
	first := NewNotifier(&fakeTransport{sub: newFakeSubscription()}, quietLogger)
	second := NewNotifier(&fakeTransport{sub: newFakeSubscription()}, quietLogger)

	assert.False(t, hub.SetVisible("s-1", "tab-a", false))

	hub.Register("s-1", "tab-a", first)
	assert.True(t, hub.SetVisible("s-1", "tab-a", false))
	assert.True(t, first.Paused())

	hub.Register("s-1", "tab-a", second)
	assert.Equal(t, 1, hub.Len())
	hub.Unregister("s-1", "tab-a", first)
	assert.Equal(t, 1, hub.Len(), "stale notifier does not evict the current one")

	assert.True(t, hub.SetVisible("s-1", "tab-a", true))
	assert.False(t, second.Paused())
	hub.Unregister("s-1", "tab-a", second)
	assert.Equal(t, 0, hub.Len())
}

func TestHubKeepsTabsOfOneSessionApart(t *testing.T) {
	hub := NewHub()
	tabA := NewNotifier(&fakeTransport{sub: newFakeSubscription()}, quietLogger)
	tabB := NewNotifier(&fakeTransport{sub: newFakeSubscription()}, quietLogger)
	require.NoError(t, tabA.Start(context.Background(), "a.b.c", "u-1"))
	require.NoError(t, tabB.Start(context.Background(), "a.b.c", "u-1"))
	t.Cleanup(tabA.Close)
	t.Cleanup(tabB.Close)

	hub.Register("s-1", "tab-a", tabA)
	hub.Register("s-1", "tab-b", tabB)
	assert.Equal(t, 2, hub.Len())

	select {
	case <-tabA.Done():
		t.Fatalf("first tab stream ended when the second opened: state=%s", tabA.State())
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StateSubscribed, tabA.State())

	assert.True(t, hub.SetVisible("s-1", "tab-b", false))
	assert.True(t, tabB.Paused())
	assert.False(t, tabA.Paused())

	assert.True(t, hub.SetVisible("s-1", "", false))
	assert.True(t, tabA.Paused())

	hub.Unregister("s-1", "tab-b", tabB)
	assert.Equal(t, 1, hub.Len())
}

func TestStreamID(t *testing.T) {
	assert.Equal(t, "lx3k-9f2a", StreamID("lx3k-9f2a"))
	assert.NotEqual(t, "", StreamID(""))
	assert.NotEqual(t, "bad id!", StreamID("bad id!"))
	assert.NotEqual(t, StreamID(""), StreamID(""))
}
