package handlers

import (
	"context"
	"strconv"

	"realtime-chat/internal/db"
	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/ws"
)

// PageSize is the number of messages returned by one message.list call.
const PageSize = 20

func (r *ChatRouter) messageSend(ctx context.Context, p ws.Peer, frame []byte) error {
	var req struct {
		ConnectionID int    `json:"connection_id"`
		Text         string `json:"text"`
	}
	if err := decodeFrame(frame, &req); err != nil {
		return err
	}
	if req.ConnectionID == 0 {
		return protocolErrorf("Missing connection_id field")
	}
	if err := requireField("text", req.Text); err != nil {
		return err
	}

	var (
		msg       models.Message
		other     models.User
		delivered bool
		allowed   bool
	)
	err := r.pool.Do(ctx, func(ctx context.Context) error {
		conn, err := r.connections.Get(ctx, req.ConnectionID)
		if err != nil {
			return err
		}
		if !conn.Involves(p.UserID()) {
			return nil
		}
		allowed = true
		other = conn.Other(p.UserID())

		msg, err = r.messages.Create(ctx, conn.ID, p.UserID(), req.Text)
		if err != nil {
			return err
		}
		if !r.presence.IsOnline(models.Identity(other.Username)) {
			return nil
		}
		delivered, err = r.messages.Advance(ctx, msg.ID, models.StatusDelivered)
		if delivered {
			msg.Status = models.StatusDelivered
		}
		return err
	})
	if err != nil || !allowed {
		return err
	}

	observability.IncMessageTransition(string(models.StatusSent))
	r.reply(p, models.SourceMessageSend, msg)
	r.publish(other.Username, models.SourceMessageSend, msg)
	if delivered {
		observability.IncMessageTransition(string(models.StatusDelivered))
		r.reply(p, models.SourceMessageDelivered, models.StatusChange{MessageID: msg.ID, Status: models.StatusDelivered})
	}
	return nil
}

func (r *ChatRouter) messageList(ctx context.Context, p ws.Peer, frame []byte) error {
	var req struct {
		ConnectionID int    `json:"connection_id"`
		Next         string `json:"next"`
	}
	if err := decodeFrame(frame, &req); err != nil {
		return err
	}
	if req.ConnectionID == 0 {
		return protocolErrorf("Missing connection_id field")
	}
	offset := parseOffset(req.Next)

	var (
		page     models.MessagePage
		receipts []models.DeliveryReceipt
		allowed  bool
	)
	err := r.pool.Do(ctx, func(ctx context.Context) error {
		conn, err := r.connections.Get(ctx, req.ConnectionID)
		if err != nil {
			return err
		}
		if !conn.Involves(p.UserID()) {
			return nil
		}
		allowed = true

		page.Messages, err = r.messages.ListPage(ctx, conn.ID, offset, PageSize)
		if err != nil {
			return err
		}

		var pending []int
		for _, msg := range page.Messages {
			if msg.Sender.ID != p.UserID() && msg.Status == models.StatusSent {
				pending = append(pending, msg.ID)
			}
		}
		if len(pending) > 0 && r.presence.IsOnline(p.Identity()) {
			receipts, err = r.messages.AdvanceForReceiver(ctx, pending, p.UserID(), models.StatusDelivered)
			if err != nil {
				return err
			}
			applyReceipts(page.Messages, receipts)
		}

		total, err := r.messages.Count(ctx, conn.ID)
		if err != nil {
			return err
		}
		page.Next = nextToken(offset, total)
		return nil
	})
	if err != nil || !allowed {
		return err
	}

	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	r.reply(p, models.SourceMessageList, page)
	r.notifyReceipts(receipts)
	return nil
}

func (r *ChatRouter) messageTyping(ctx context.Context, p ws.Peer, frame []byte) error {
	var req usernameFrame
	if err := decodeFrame(frame, &req); err != nil {
		return err
	}
	if err := requireField("username", req.Username); err != nil {
		return err
	}

	conn, err := db.Query(ctx, r.pool, func(ctx context.Context) (models.Connection, error) {
		return r.connections.LatestAcceptedBetween(ctx, p.UserID(), req.Username)
	})
	if err != nil {
		return err
	}
	other := conn.Other(p.UserID())
	if models.Identity(other.Username) != models.Identity(req.Username) {
		return nil
	}
	r.publish(other.Username, models.SourceMessageTyping, models.TypingNotice{
		Username:     p.Username(),
		ConnectionID: conn.ID,
	})
	return nil
}

func (r *ChatRouter) messageRead(ctx context.Context, p ws.Peer, frame []byte) error {
	var req struct {
		MessageID int `json:"message_id"`
	}
	if err := decodeFrame(frame, &req); err != nil {
		return err
	}
	if req.MessageID == 0 {
		return protocolErrorf("Missing message_id field")
	}

	var (
		msg      models.Message
		advanced bool
	)
	err := r.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		msg, err = r.messages.Get(ctx, req.MessageID)
		if err != nil {
			return err
		}
		if msg.Sender.ID == p.UserID() || !msg.Status.CanAdvanceTo(models.StatusRead) {
			return nil
		}
		conn, err := r.connections.Get(ctx, msg.ConnectionID)
		if err != nil {
			return err
		}
		if !conn.Involves(p.UserID()) {
			return nil
		}
		advanced, err = r.messages.Advance(ctx, msg.ID, models.StatusRead)
		return err
	})
	if err != nil || !advanced {
		return err
	}

	r.notifyReceipts([]models.DeliveryReceipt{{
		MessageID:      msg.ID,
		SenderUsername: msg.Sender.Username,
		Status:         models.StatusRead,
	}})
	return nil
}

// parseOffset reads a pagination token. Anything unparsable starts from the
// newest message.
func parseOffset(token string) int {
	if token == "" {
		return 0
	}
	offset, err := strconv.Atoi(token)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

func nextToken(offset, total int) *string {
	if offset+PageSize >= total {
		return nil
	}
	next := strconv.Itoa(offset + PageSize)
	return &next
}

func applyReceipts(page []models.Message, receipts []models.DeliveryReceipt) {
	status := make(map[int]models.MessageStatus, len(receipts))
	for _, receipt := range receipts {
		status[receipt.MessageID] = receipt.Status
	}
	for i := range page {
		if s, ok := status[page[i].ID]; ok {
			page[i].Status = s
		}
	}
}
