package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gopherdm/internal/client/syncview"
	"gopherdm/internal/model"
	"gopherdm/internal/pkg/logger"
	"gopherdm/internal/realtime"
)

const joinTimeout = 10 * time.Second

// Stream is a joined websocket session delivering the user's live messages
// to subscribers in arrival order.
type Stream struct {
	conn   *websocket.Conn
	userID uint
	log    *zap.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[uint64]func(model.Message)
	nextID uint64
	err    error

	done      chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool
}

// DialStream connects with api's token and joins the caller's own room. It
// returns once the server confirms the join.
func DialStream(ctx context.Context, api *API, log *zap.Logger) (*Stream, error) {
	wsURL, err := api.StreamURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+api.Token())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial stream failed: %w", err)
	}

	s := &Stream{
		conn:   conn,
		userID: api.User().ID,
		log:    logger.OrNop(log).Named("stream"),
		subs:   make(map[uint64]func(model.Message)),
		done:   make(chan struct{}),
	}
	if err := s.join(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go s.readLoop()
	return s, nil
}

func (s *Stream) join(ctx context.Context) error {
	deadline := time.Now().Add(joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	if err := s.write(realtime.Event{Type: realtime.EventJoin, UserID: s.userID}); err != nil {
		return err
	}
	for {
		var ev realtime.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("await join failed: %w", err)
		}
		switch ev.Type {
		case realtime.EventJoined:
			return nil
		case realtime.EventError:
			return fmt.Errorf("join refused: %s", ev.Error)
		}
	}
}

func (s *Stream) write(ev realtime.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("write %s frame failed: %w", ev.Type, err)
	}
	return nil
}

type subscription struct {
	stream *Stream
	id     uint64
	once   sync.Once
}

func (sub *subscription) Cancel() {
	sub.once.Do(func() {
		sub.stream.mu.Lock()
		delete(sub.stream.subs, sub.id)
		sub.stream.mu.Unlock()
	})
}

// Subscribe registers fn for every pushed message until the returned
// subscription is cancelled. fn runs on the stream's read goroutine.
func (s *Stream) Subscribe(fn func(model.Message)) syncview.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.subs[s.nextID] = fn
	return &subscription{stream: s, id: s.nextID}
}

func (s *Stream) readLoop() {
	defer s.finish(nil)

	for {
		var ev realtime.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if !s.closing.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.finish(err)
			}
			return
		}

		switch ev.Type {
		case realtime.EventMessage:
			if ev.Message == nil {
				s.log.Debug("message frame without payload")
				continue
			}
			for _, fn := range s.subscribers() {
				fn(*ev.Message)
			}
		case realtime.EventError:
			s.log.Warn("server reported error", zap.String("error", ev.Error))
		default:
			s.log.Debug("ignoring frame", zap.String("type", ev.Type))
		}
	}
}

// subscribers returns handlers in subscription order.
func (s *Stream) subscribers() []func(model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fns := make([]func(model.Message), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	return fns
}

func (s *Stream) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("stream ended", zap.Error(err))
		}
		close(s.done)
	})
}

// Done is closed when the connection ends.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended, nil for a clean close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() error {
	s.closing.Store(true)
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	err := s.conn.Close()
	<-s.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
