package ws

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"realtime-chat/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 64 << 10
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer is the view of a session that protocol handlers work against.
type Peer interface {
	Info() ConnInfo
	UserID() int
	Username() string
	Identity() string
	Join(group string)
	Leave(group string)
	Send(event any) error
	// Defer registers fn to run when the session closes. Deferred functions
	// run once, in reverse registration order, after the session has left
	// every group.
	Defer(fn func())
}

// Handler implements the protocol spoken over one kind of session.
type Handler interface {
	// Open runs once after the upgrade. A returned error closes the session.
	Open(ctx context.Context, p Peer) error
	// Receive handles one inbound text frame. Frames of a session are
	// delivered sequentially.
	Receive(ctx context.Context, p Peer, frame []byte)
}

// Session owns one websocket connection. Inbound frames are read on the
// goroutine calling Run; outbound frames are queued and written by a
// dedicated pump so publishers never block on a slow peer.
type Session struct {
	info ConnInfo
	kind string
	conn *websocket.Conn
	bus  *Bus

	send chan []byte
	done chan struct{}

	state atomic.Int32

	mu      sync.Mutex
	cleanup []func()
	cancel  context.CancelFunc
	reason  string

	closeOnce  sync.Once
	finishOnce sync.Once
	log        *logrus.Entry
}

// NewSession wraps an upgraded, authenticated connection.
func NewSession(kind string, conn *websocket.Conn, bus *Bus, info ConnInfo, buffer int) *Session {
	if buffer <= 0 {
		buffer = 64
	}
	s := &Session{
		info: info,
		kind: kind,
		conn: conn,
		bus:  bus,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"kind":     kind,
			"conn_id":  info.ConnID,
			"username": info.Username,
		}),
	}
	s.state.Store(int32(StateAuthenticated))
	return s
}

func (s *Session) Info() ConnInfo   { return s.info }
func (s *Session) UserID() int      { return s.info.UserID }
func (s *Session) Username() string { return s.info.Username }
func (s *Session) Identity() string { return s.info.Identity }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Join subscribes the session to group. It is a no-op once closed.
func (s *Session) Join(group string) {
	if s.State() == StateClosed {
		return
	}
	s.bus.Join(group, s)
}

func (s *Session) Leave(group string) {
	s.bus.Leave(group, s)
}

// Defer registers a cleanup function. Registering on a closed session runs
// fn immediately.
func (s *Session) Defer(fn func()) {
	s.mu.Lock()
	if s.State() != StateClosed {
		s.cleanup = append(s.cleanup, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Send serializes event and queues it for this session only.
func (s *Session) Send(event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := s.Deliver(payload); err != nil {
		if errors.Is(err, ErrSendBufferFull) {
			s.Disconnect(err.Error())
		}
		return err
	}
	return nil
}

// Deliver queues payload without blocking.
func (s *Session) Deliver(payload []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSendBufferFull
	}
}

// Disconnect closes the underlying connection, which ends Run.
func (s *Session) Disconnect(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.reason == "" {
			s.reason = reason
		}
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if s.conn != nil {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = s.conn.Close()
		}
	})
}

// Run drives the session until the connection ends. Cleanup always runs
// before Run returns.
func (s *Session) Run(ctx context.Context, h Handler) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	observability.IncWSActive(s.kind)
	observability.IncWSEvent(s.kind, "ws_connect")
	s.emit(ctx, "ws_connect", "")
	defer s.finish(ctx)

	go s.writePump()

	if err := h.Open(ctx, s); err != nil {
		s.log.WithError(err).Warn("session open failed")
		s.setReason(err.Error())
		return
	}
	if !s.state.CompareAndSwap(int32(StateAuthenticated), int32(StateJoined)) {
		return
	}

	s.conn.SetReadLimit(maxFrame)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.setReason(err.Error())
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				observability.IncWSEvent(s.kind, "ws_error")
				s.emit(ctx, "ws_error", err.Error())
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.dispatch(ctx, h, data)
	}
}

func (s *Session) dispatch(ctx context.Context, h Handler, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).WithField("stack", string(debug.Stack())).Error("frame handler panicked")
		}
	}()
	h.Receive(ctx, s, frame)
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.Disconnect(err.Error())
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.Disconnect(err.Error())
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) finish(ctx context.Context) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosed))
		cleanup := s.cleanup
		s.cleanup = nil
		reason := s.reason
		s.mu.Unlock()

		close(s.done)
		s.bus.LeaveAll(s)

		for i := len(cleanup) - 1; i >= 0; i-- {
			s.runCleanup(cleanup[i])
		}

		s.Disconnect(reason)
		observability.DecWSActive(s.kind)
		observability.IncWSEvent(s.kind, "ws_disconnect")
		s.emit(context.WithoutCancel(ctx), "ws_disconnect", reason)
		s.log.WithField("reason", reason).Debug("session closed")
	})
}

func (s *Session) runCleanup(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("session cleanup panicked")
		}
	}()
	fn()
}

func (s *Session) setReason(reason string) {
	s.mu.Lock()
	if s.reason == "" {
		s.reason = reason
	}
	s.mu.Unlock()
}

func (s *Session) emit(ctx context.Context, event, reason string) {
	_ = observability.PublishEvent(ctx, observability.RoutingKey(s.kind), s.info.envelope(s.kind, event, reason),
		observability.BuildHeaders(s.info.RequestID, s.info.TraceID))
}
