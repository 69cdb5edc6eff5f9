// Package realtime relays per-user account events from the EMIS real-time
// channel to open portal pages.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

// EventAccountLocked is emitted when an administrator locks the account.
const EventAccountLocked = "accountLocked"

// ErrAlreadyStarted is returned when Start is called twice on one notifier.
var ErrAlreadyStarted = errors.New("realtime: notifier already started")

// State is the lifecycle position of a Notifier.
type State int32

const (
	StateUninitialized State = iota
	StateSubscribed
	StateLocked
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateLocked:
		return "locked"
	case StateDisconnected:
		return "disconnected"
	default:
		return "uninitialized"
	}
}

// Event is a typed notification for the page.
type Event struct {
	Kind    string `json:"event"`
	Message string `json:"message"`
}

// envelope is the wire format published into a user's room.
type envelope struct {
	Event string `json:"event"`
	Data  struct {
		Message string `json:"message"`
	} `json:"data"`
}

// Transport joins rooms on the real-time channel.
type Transport interface {
	Join(ctx context.Context, room string) (Subscription, error)
}

// Subscription is a joined room. Messages is closed when the transport
// drops the subscription.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Notifier follows one user's room for the lifetime of a page.
type Notifier struct {
	transport Transport
	logger    *slog.Logger
	onLock    func()

	mu      sync.Mutex
	state   State
	paused  bool
	pending *Event
	cancel  context.CancelFunc

	events   chan Event
	done     chan struct{}
	doneOnce sync.Once
}

// NewNotifier builds an unstarted notifier.
func NewNotifier(transport Transport, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		transport: transport,
		logger:    logger,
		events:    make(chan Event, 1),
		done:      make(chan struct{}),
	}
}

// OnLock registers a hook run once when the lock event arrives.
func (n *Notifier) OnLock(fn func()) {
	n.mu.Lock()
	n.onLock = fn
	n.mu.Unlock()
}

// Start joins the room of userID. Without a token nothing happens and the
// notifier stays uninitialized. Join failures are logged and returned; the
// notifier does not retry.
func (n *Notifier) Start(ctx context.Context, token, userID string) error {
	if token == "" {
		return nil
	}
	n.mu.Lock()
	if n.state != StateUninitialized {
		n.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.mu.Unlock()

	sub, err := n.transport.Join(runCtx, userID)
	if err != nil {
		cancel()
		n.logger.Warn("realtime join failed", slog.String("user_id", userID), slog.Any("error", err))
		n.finish(StateDisconnected)
		return err
	}
	n.setState(StateSubscribed)
	go n.run(runCtx, sub, userID)
	return nil
}

// Events delivers typed events. At most one accountLocked event is sent.
func (n *Notifier) Events() <-chan Event {
	return n.events
}

// Done is closed once the subscription has ended, locked or disconnected.
// A lock received while paused is still pending on Events after Done.
func (n *Notifier) Done() <-chan struct{} {
	return n.done
}

// State returns the current lifecycle state.
func (n *Notifier) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Pause holds events while the page is in the background.
func (n *Notifier) Pause() {
	n.mu.Lock()
	n.paused = true
	n.mu.Unlock()
}

// Resume releases a held event, if any.
func (n *Notifier) Resume() {
	n.mu.Lock()
	n.paused = false
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()
	if pending != nil {
		n.emit(*pending)
	}
}

// Paused reports whether delivery is currently held.
func (n *Notifier) Paused() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.paused
}

// Close leaves the room.
func (n *Notifier) Close() {
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (n *Notifier) run(ctx context.Context, sub Subscription, userID string) {
	defer func() {
		if err := sub.Close(); err != nil {
			n.logger.Debug("realtime close", slog.Any("error", err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			n.finish(StateDisconnected)
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				n.logger.Warn("realtime subscription dropped", slog.String("user_id", userID))
				n.finish(StateDisconnected)
				return
			}
			evt, err := decodeEvent(payload)
			if err != nil {
				n.logger.Warn("realtime payload", slog.String("user_id", userID), slog.Any("error", err))
				continue
			}
			if evt.Kind != EventAccountLocked {
				continue
			}
			n.lock(evt)
			return
		}
	}
}

func (n *Notifier) lock(evt Event) {
	n.mu.Lock()
	hook := n.onLock
	held := n.paused
	if held {
		n.pending = &evt
	}
	n.mu.Unlock()

	n.finish(StateLocked)
	if hook != nil {
		hook()
	}
	if !held {
		n.emit(evt)
	}
}

func (n *Notifier) emit(evt Event) {
	select {
	case n.events <- evt:
	default:
		n.logger.Warn("realtime event dropped", slog.String("event", evt.Kind))
	}
}

// finish moves to a terminal state. Locked is never downgraded.
func (n *Notifier) finish(state State) {
	n.mu.Lock()
	if n.state != StateLocked {
		n.state = state
	}
	n.mu.Unlock()
	n.doneOnce.Do(func() { close(n.done) })
}

func (n *Notifier) setState(state State) {
	n.mu.Lock()
	n.state = state
	n.mu.Unlock()
}

func decodeEvent(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, err
	}
	return Event{Kind: env.Event, Message: env.Data.Message}, nil
}
