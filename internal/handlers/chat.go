package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"realtime-chat/internal/db"
	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/repositories"
	"realtime-chat/internal/storage"
	"realtime-chat/internal/telemetry"
	"realtime-chat/internal/ws"
)

const closeTimeout = 5 * time.Second

type chatRoute func(ctx context.Context, p ws.Peer, frame []byte) error

// ChatRouter speaks the chat protocol: friend requests, friend list, direct
// messages with delivery receipts, typing notices and presence updates.
type ChatRouter struct {
	bus         *ws.Bus
	presence    *ws.Presence
	users       repositories.UserRepository
	connections repositories.ConnectionRepository
	messages    repositories.MessageRepository
	avatars     storage.AvatarStore
	pool        *db.Pool
	audit       *telemetry.AuditEmitter
	routes      map[string]chatRoute

	// statusMu orders presence broadcasts against each other.
	statusMu sync.Mutex
}

// NewChatRouter builds a ChatRouter. avatars and audit may be nil.
func NewChatRouter(
	bus *ws.Bus,
	presence *ws.Presence,
	users repositories.UserRepository,
	connections repositories.ConnectionRepository,
	messages repositories.MessageRepository,
	avatars storage.AvatarStore,
	pool *db.Pool,
	audit *telemetry.AuditEmitter,
) *ChatRouter {
	r := &ChatRouter{
		bus:         bus,
		presence:    presence,
		users:       users,
		connections: connections,
		messages:    messages,
		avatars:     avatars,
		pool:        pool,
		audit:       audit,
	}
	r.routes = map[string]chatRoute{
		models.SourceSearch:         r.search,
		models.SourceThumbnail:      r.thumbnail,
		models.SourceRequestConnect: r.requestConnect,
		models.SourceRequestList:    r.requestList,
		models.SourceRequestAccept:  r.requestAccept,
		models.SourceFriendList:     r.friendList,
		models.SourceMessageSend:    r.messageSend,
		models.SourceMessageList:    r.messageList,
		models.SourceMessageTyping:  r.messageTyping,
		models.SourceMessageRead:    r.messageRead,
	}
	return r
}

// Open joins the caller's personal group, marks them online and marks every
// message waiting for them as delivered.
func (r *ChatRouter) Open(ctx context.Context, p ws.Peer) error {
	p.Join(ws.ChatGroup(p.Identity()))
	if r.presence.MarkOnline(p.Identity()) {
		r.broadcastStatus(ctx, p, true)
	}
	p.Defer(func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		r.Close(closeCtx, p)
	})

	receipts, err := db.Query(ctx, r.pool, func(ctx context.Context) ([]models.DeliveryReceipt, error) {
		return r.messages.MarkDeliveredFor(ctx, p.UserID())
	})
	if err != nil {
		logrus.WithError(err).WithField("username", p.Username()).Error("delivered sweep failed")
		return nil
	}
	r.notifyReceipts(receipts)
	return nil
}

// Close marks the caller offline and, if this was their last chat session,
// tells their friends.
func (r *ChatRouter) Close(ctx context.Context, p ws.Peer) {
	if r.presence.MarkOffline(p.Identity()) {
		r.broadcastStatus(ctx, p, false)
	}
}

// Receive dispatches one chat frame by its source tag. Unknown sources are
// ignored.
func (r *ChatRouter) Receive(ctx context.Context, p ws.Peer, frame []byte) {
	log := logrus.WithField("username", p.Username())

	var head models.ChatFrame
	if err := json.Unmarshal(frame, &head); err != nil {
		observability.IncWSFrame("chat", "malformed")
		r.fail(p, "Invalid JSON format")
		return
	}
	route, ok := r.routes[head.Source]
	if !ok {
		observability.IncWSFrame("chat", "unknown")
		log.WithField("source", head.Source).Debug("ignoring unknown chat source")
		return
	}
	observability.IncWSFrame("chat", head.Source)
	log = log.WithField("source", head.Source)

	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).WithField("stack", string(debug.Stack())).Error("chat route panicked")
			r.fail(p, internalErrorMessage)
		}
	}()

	if msg := classify(log, route(ctx, p, frame)); msg != "" {
		r.fail(p, msg)
	}
}

func (r *ChatRouter) fail(p ws.Peer, message string) {
	_ = p.Send(models.ChatEvent{Source: models.SourceError, Data: models.ErrorPayload{Message: message}})
}

// publish sends a chat event to every session of username.
func (r *ChatRouter) publish(username, source string, data any) {
	r.bus.Publish(ws.ChatGroup(models.Identity(username)), models.ChatEvent{Source: source, Data: data})
}

func (r *ChatRouter) reply(p ws.Peer, source string, data any) {
	r.bus.Publish(ws.ChatGroup(p.Identity()), models.ChatEvent{Source: source, Data: data})
}

func (r *ChatRouter) notifyReceipts(receipts []models.DeliveryReceipt) {
	for _, receipt := range receipts {
		observability.IncMessageTransition(string(receipt.Status))
		source := models.SourceMessageDelivered
		if receipt.Status == models.StatusRead {
			source = models.SourceMessageRead
		}
		r.publish(receipt.SenderUsername, source, models.StatusChange{MessageID: receipt.MessageID, Status: receipt.Status})
	}
}

// broadcastStatus sends a user.status event to every accepted friend of p.
func (r *ChatRouter) broadcastStatus(ctx context.Context, p ws.Peer, online bool) {
	friends, err := db.Query(ctx, r.pool, func(ctx context.Context) ([]models.Connection, error) {
		return r.connections.ListAccepted(ctx, p.UserID())
	})
	if err != nil {
		logrus.WithError(err).WithField("username", p.Username()).Error("presence broadcast failed")
		return
	}

	// A transition made during the lookup broadcasts its own state.
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	if r.presence.IsOnline(p.Identity()) != online {
		return
	}

	status := models.UserStatus{Username: p.Username(), Online: online}
	seen := make(map[string]struct{}, len(friends))
	for _, conn := range friends {
		friend := models.Identity(conn.Other(p.UserID()).Username)
		if friend == p.Identity() {
			continue
		}
		if _, dup := seen[friend]; dup {
			continue
		}
		seen[friend] = struct{}{}
		r.publish(friend, models.SourceUserStatus, status)
	}
}

func decodeFrame(frame []byte, dst any) error {
	if err := json.Unmarshal(frame, dst); err != nil {
		return protocolErrorf("Invalid frame: %v", err)
	}
	return nil
}

func requireField(name, value string) error {
	if value == "" {
		return protocolErrorf("Missing %s field", name)
	}
	return nil
}

func actorAttrs(kv ...any) map[string]any {
	attrs := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return attrs
}
