// Package syncview keeps one open conversation consistent while a history
// fetch and the live message stream race each other.
package syncview

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"gopherdm/internal/model"
	"gopherdm/internal/pkg/logger"
)

type State int

const (
	Unloaded State = iota
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// ErrSuperseded is returned by Open when another Open or Close replaced the
// conversation before its history arrived.
var ErrSuperseded = errors.New("conversation view superseded")

type Fetcher interface {
	History(ctx context.Context, peer uint) ([]model.Message, error)
}

// Subscription is the capability returned by EventSource.Subscribe.
// Cancelling it stops further callbacks.
type Subscription interface {
	Cancel()
}

type EventSource interface {
	Subscribe(handler func(model.Message)) Subscription
}

// View shows the conversation between the local user and one peer.
type View struct {
	me      uint
	fetcher Fetcher
	source  EventSource
	log     *zap.Logger

	mu          sync.Mutex
	state       State
	peer        uint
	conv        model.Conversation
	messages    []model.Message
	seen        map[uint]struct{}
	pending     []model.Message
	err         error
	sub         Subscription
	cancelFetch context.CancelFunc
	// generation changes on every Open and Close; callbacks from older
	// subscriptions compare against it.
	generation uint64
	onChange   func()
}

func New(me uint, fetcher Fetcher, source EventSource, log *zap.Logger) *View {
	return &View{
		me:      me,
		fetcher: fetcher,
		source:  source,
		log:     logger.OrNop(log).Named("syncview"),
	}
}

// OnChange registers fn to run after every visible change. fn must not call
// back into Open or Close synchronously.
func (v *View) OnChange(fn func()) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Open switches the view to peer: the previous subscription and fetch are
// cancelled first, then the new subscription is established and history is
// fetched. Events arriving during the fetch are buffered and merged after.
func (v *View) Open(ctx context.Context, peer uint) error {
	v.mu.Lock()
	v.teardownLocked()
	v.generation++
	gen := v.generation
	v.state = Loading
	v.peer = peer
	v.conv = model.NewConversation(v.me, peer)
	v.messages = nil
	v.pending = nil
	v.seen = make(map[uint]struct{})
	v.err = nil

	fetchCtx, cancel := context.WithCancel(ctx)
	v.cancelFetch = cancel
	v.sub = v.source.Subscribe(func(msg model.Message) {
		v.handleEvent(gen, msg)
	})
	v.mu.Unlock()
	v.notify()

	history, err := v.fetcher.History(fetchCtx, peer)
	if err != nil {
		return v.fail(gen, err)
	}
	return v.apply(gen, peer, history)
}

// Close drops the conversation and returns to Unloaded.
func (v *View) Close() {
	v.mu.Lock()
	v.teardownLocked()
	v.generation++
	v.state = Unloaded
	v.peer = 0
	v.conv = model.Conversation{}
	v.messages = nil
	v.pending = nil
	v.seen = nil
	v.err = nil
	v.mu.Unlock()
	v.notify()
}

// ApplyOwn adds a message the local user just sent, as returned by the
// server. The server never echoes it back over the stream.
func (v *View) ApplyOwn(msg model.Message) bool {
	v.mu.Lock()
	applied := v.acceptLocked(msg)
	v.mu.Unlock()
	if applied {
		v.notify()
	}
	return applied
}

// Messages returns a copy of the visible conversation, oldest first.
func (v *View) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *View) Peer() uint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.peer
}

// Err is the last history fetch failure for the open conversation. The view
// stays Loading while it is set; calling Open again retries.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

func (v *View) teardownLocked() {
	if v.sub != nil {
		v.sub.Cancel()
		v.sub = nil
	}
	if v.cancelFetch != nil {
		v.cancelFetch()
		v.cancelFetch = nil
	}
}

func (v *View) handleEvent(gen uint64, msg model.Message) {
	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		v.log.Debug("dropping event from stale subscription", zap.Uint("message_id", msg.ID))
		return
	}
	if !v.conv.Contains(msg) {
		conv := v.conv
		v.mu.Unlock()
		v.log.Debug("discarding event outside open conversation",
			zap.Uint("message_id", msg.ID),
			zap.Uint("sender_id", msg.SenderID),
			zap.Uint("receiver_id", msg.ReceiverID),
			zap.Stringer("conversation", conv))
		return
	}
	applied := v.acceptLocked(msg)
	v.mu.Unlock()
	if applied {
		v.notify()
	}
}

// acceptLocked buffers msg while Loading and appends it once Loaded.
func (v *View) acceptLocked(msg model.Message) bool {
	if v.state == Unloaded || !v.conv.Contains(msg) {
		return false
	}
	if v.state == Loading {
		v.pending = append(v.pending, msg)
		return false
	}
	if _, dup := v.seen[msg.ID]; dup {
		return false
	}
	v.seen[msg.ID] = struct{}{}
	v.messages = append(v.messages, msg)
	return true
}

// apply installs history if the view is still loading the same peer. A late
// result from an earlier Open of that peer is equally valid, but it may be
// older than the current Open's fetch, so that fetch is kept running and
// merged in when it lands.
func (v *View) apply(gen uint64, peer uint, history []model.Message) error {
	v.mu.Lock()
	if v.peer != peer || v.state == Unloaded {
		v.mu.Unlock()
		v.log.Debug("discarding late history", zap.Uint("peer", peer))
		return ErrSuperseded
	}
	current := gen == v.generation
	if current && v.cancelFetch != nil {
		v.cancelFetch()
		v.cancelFetch = nil
	}

	if v.state == Loaded {
		if !current {
			v.mu.Unlock()
			v.log.Debug("discarding late history", zap.Uint("peer", peer))
			return ErrSuperseded
		}
		merged := v.mergeLocked(history)
		v.mu.Unlock()
		if merged {
			v.notify()
		}
		return nil
	}

	v.messages = make([]model.Message, 0, len(history)+len(v.pending))
	for _, msg := range history {
		if _, dup := v.seen[msg.ID]; dup {
			continue
		}
		v.seen[msg.ID] = struct{}{}
		v.messages = append(v.messages, msg)
	}
	v.state = Loaded
	v.err = nil
	pending := v.pending
	v.pending = nil
	for _, msg := range pending {
		v.acceptLocked(msg)
	}
	v.mu.Unlock()

	v.notify()
	return nil
}

// mergeLocked adds messages from a newer snapshot that an earlier snapshot
// missed, keeping conversation order.
func (v *View) mergeLocked(history []model.Message) bool {
	added := false
	for _, msg := range history {
		if _, dup := v.seen[msg.ID]; dup || !v.conv.Contains(msg) {
			continue
		}
		v.seen[msg.ID] = struct{}{}
		v.messages = append(v.messages, msg)
		added = true
	}
	if added {
		model.SortMessages(v.messages)
	}
	return added
}

func (v *View) fail(gen uint64, err error) error {
	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		return ErrSuperseded
	}
	v.err = err
	v.mu.Unlock()

	v.notify()
	return err
}

func (v *View) notify() {
	v.mu.Lock()
	fn := v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn()
	}
}
