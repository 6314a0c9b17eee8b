package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"realtime-chat/internal/db"
	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/repositories"
	"realtime-chat/internal/telemetry"
	"realtime-chat/internal/ws"
)

type signalFrame map[string]json.RawMessage

func (f signalFrame) str(key string) string {
	var s string
	if raw, ok := f[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// present reports whether key holds a non-empty value.
func (f signalFrame) present(key string) bool {
	raw := bytes.TrimSpace(f[key])
	switch string(raw) {
	case "", "null", `""`, "{}", "[]", "false", "0":
		return false
	}
	return true
}

type callAction func(ctx context.Context, p ws.Peer, recipient models.User, frame signalFrame) error

// CallRouter relays call signaling between users and tracks the state of
// each call.
type CallRouter struct {
	bus      *ws.Bus
	online   *ws.Presence
	sessions *ws.Presence
	users    repositories.UserRepository
	pool     *db.Pool
	calls    *CallRegistry
	audit    *telemetry.AuditEmitter
	now      func() time.Time
	actions  map[string]callAction
}

// NewCallRouter builds a CallRouter. online is the chat presence registry and
// decides recipient_online; sessions counts signaling sessions per identity.
func NewCallRouter(bus *ws.Bus, online, sessions *ws.Presence, users repositories.UserRepository, pool *db.Pool, calls *CallRegistry, audit *telemetry.AuditEmitter) *CallRouter {
	r := &CallRouter{
		bus:      bus,
		online:   online,
		sessions: sessions,
		users:    users,
		pool:     pool,
		calls:    calls,
		audit:    audit,
		now:      time.Now,
	}
	r.actions = map[string]callAction{
		models.ActionCall:      r.call,
		models.ActionOffer:     r.relayPayload,
		models.ActionAnswer:    r.relayPayload,
		models.ActionCandidate: r.relayPayload,
		models.ActionAccept:    r.accept,
		models.ActionDecline:   r.end,
		models.ActionEndCall:   r.end,
	}
	return r
}

func (r *CallRouter) Open(ctx context.Context, p ws.Peer) error {
	group := ws.CallGroup(p.Identity())
	p.Join(group)
	r.sessions.MarkOnline(p.Identity())
	p.Defer(func() {
		r.Close(context.WithoutCancel(ctx), p)
	})
	return p.Send(map[string]string{
		"action":   models.ActionConnectionSuccess,
		"message":  "WebSocket connection established",
		"username": p.Username(),
		"group":    group,
	})
}

// Close ends the calls of a user whose last signaling session is gone and
// tells each peer.
func (r *CallRouter) Close(ctx context.Context, p ws.Peer) {
	if !r.sessions.MarkOffline(p.Identity()) {
		return
	}
	for _, call := range r.calls.DropParty(p.Identity()) {
		peer := call.Peer(p.Identity())
		r.bus.Publish(ws.CallGroup(peer), map[string]any{
			"action":    models.ActionEndCall,
			"sender":    p.Username(),
			"reason":    "disconnected",
			"timestamp": r.timestamp(),
		})
		r.audit.Record(ctx, p.Info().RequestID, p.Username(), "call.end",
			actorAttrs("peer", peer, "reason", "disconnected", "duration_ms", r.now().Sub(call.StartedAt).Milliseconds()))
	}
}

func (r *CallRouter) Receive(ctx context.Context, p ws.Peer, raw []byte) {
	log := logrus.WithField("username", p.Username())

	var frame signalFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame == nil {
		observability.IncWSFrame("call", "malformed")
		r.fail(p, "Invalid JSON format")
		return
	}

	action := frame.str("action")
	if action == models.ActionPing {
		observability.IncWSFrame("call", action)
		_ = p.Send(map[string]string{"action": models.ActionPong})
		return
	}
	if action == "" {
		observability.IncWSFrame("call", "malformed")
		r.fail(p, "Missing action field")
		return
	}
	handle, ok := r.actions[action]
	if !ok {
		observability.IncWSFrame("call", "unknown")
		r.fail(p, "Invalid action")
		return
	}
	observability.IncWSFrame("call", action)
	log = log.WithField("action", action)

	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).WithField("stack", string(debug.Stack())).Error("call action panicked")
			r.fail(p, internalErrorMessage)
		}
	}()

	err := func() error {
		name := frame.str("recipient")
		if name == "" {
			return protocolErrorf("Missing recipient field")
		}
		recipient, err := db.Query(ctx, r.pool, func(ctx context.Context) (models.User, error) {
			return r.users.GetByUsername(ctx, name)
		})
		if isNotFound(err) {
			return protocolErrorf("Recipient not found")
		}
		if err != nil {
			return err
		}
		return handle(ctx, p, recipient, frame)
	}()
	if msg := classify(log, err); msg != "" {
		r.fail(p, msg)
	}
}

func (r *CallRouter) fail(p ws.Peer, message string) {
	_ = p.Send(models.SignalError{Action: models.ActionError, Message: message})
}

func (r *CallRouter) call(ctx context.Context, p ws.Peer, recipient models.User, _ signalFrame) error {
	callee := models.Identity(recipient.Username)
	r.calls.Ring(p.Identity(), callee)
	r.bus.Publish(ws.CallGroup(callee), models.CallRing{
		Action:          models.ActionCall,
		Caller:          p.Username(),
		Recipient:       recipient.Username,
		RecipientOnline: r.online.IsOnline(callee),
		Timestamp:       r.timestamp(),
	})
	r.audit.Record(ctx, p.Info().RequestID, p.Username(), "call.start", actorAttrs("callee", recipient.Username))
	return nil
}

func (r *CallRouter) relayPayload(_ context.Context, p ws.Peer, recipient models.User, frame signalFrame) error {
	action := frame.str("action")
	if !frame.present(action) {
		return protocolErrorf("Missing %s field", action)
	}
	r.relay(p, recipient, frame)
	return nil
}

func (r *CallRouter) accept(_ context.Context, p ws.Peer, recipient models.User, frame signalFrame) error {
	r.calls.Accept(p.Identity(), models.Identity(recipient.Username))
	r.relay(p, recipient, frame)
	return nil
}

func (r *CallRouter) end(ctx context.Context, p ws.Peer, recipient models.User, frame signalFrame) error {
	if call, ok := r.calls.End(p.Identity(), models.Identity(recipient.Username)); ok {
		r.audit.Record(ctx, p.Info().RequestID, p.Username(), "call.end",
			actorAttrs("peer", recipient.Username, "reason", frame.str("action"), "duration_ms", r.now().Sub(call.StartedAt).Milliseconds()))
	}
	r.relay(p, recipient, frame)
	return nil
}

// relay forwards the inbound frame verbatim plus sender and timestamp.
func (r *CallRouter) relay(p ws.Peer, recipient models.User, frame signalFrame) {
	out := make(map[string]any, len(frame)+2)
	for k, v := range frame {
		out[k] = v
	}
	out["sender"] = p.Username()
	out["timestamp"] = r.timestamp()
	r.bus.Publish(ws.CallGroup(models.Identity(recipient.Username)), out)
}

func (r *CallRouter) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}
