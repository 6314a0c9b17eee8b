package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"realtime-chat/internal/db"
	"realtime-chat/internal/models"
	"realtime-chat/internal/ws"
)

type usernameFrame struct {
	Username string `json:"username"`
}

func (r *ChatRouter) search(ctx context.Context, p ws.Peer, frame []byte) error {
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeFrame(frame, &req); err != nil {
		return err
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		r.reply(p, models.SourceSearch, []models.SearchResult{})
		return nil
	}

	results, err := db.Query(ctx, r.pool, func(ctx context.Context) ([]models.SearchResult, error) {
		return r.users.Search(ctx, p.UserID(), query)
	})
	if err != nil {
		return err
	}
	for i := range results {
		results[i].ResolveStatus()
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	r.reply(p, models.SourceSearch, results)
	return nil
}

func (r *ChatRouter) thumbnail(ctx context.Context, p ws.Peer, frame []byte) error {
	var req struct {
		Base64   string `json:"base64"`
		Filename string `json:"filename"`
	}
	if err := decodeFrame(frame, &req); err != nil {
		return err
	}
	if err := requireField("base64", req.Base64); err != nil {
		return err
	}
	if err := requireField("filename", req.Filename); err != nil {
		return err
	}
	if r.avatars == nil {
		return protocolErrorf("Thumbnail storage unavailable")
	}
	image, err := base64.StdEncoding.DecodeString(req.Base64)
	if err != nil {
		return protocolErrorf("Invalid base64 image")
	}

	current, err := db.Query(ctx, r.pool, func(ctx context.Context) (models.User, error) {
		return r.users.GetByUsername(ctx, p.Username())
	})
	if err != nil {
		return err
	}

	// Object-store calls run outside the pool.
	key := fmt.Sprintf("thumbnails/%d_%s", p.UserID(), strings.TrimLeft(req.Filename, "/"))
	location, err := r.avatars.Put(ctx, key, image)
	if err != nil {
		return fmt.Errorf("store thumbnail: %w", err)
	}

	updated, err := db.Query(ctx, r.pool, func(ctx context.Context) (models.User, error) {
		return r.users.UpdateThumbnail(ctx, p.UserID(), location)
	})
	if err != nil {
		return err
	}

	if current.Thumbnail != "" && current.Thumbnail != location {
		if err := r.avatars.Delete(ctx, current.Thumbnail); err != nil {
			logrus.WithError(err).WithField("location", current.Thumbnail).Warn("old thumbnail not removed")
		}
	}
	r.reply(p, models.SourceThumbnail, updated)
	return nil
}

func (r *ChatRouter) requestConnect(ctx context.Context, p ws.Peer, frame []byte) error {
	var req usernameFrame
	if err := decodeFrame(frame, &req); err != nil {
		return err
	}
	if err := requireField("username", req.Username); err != nil {
		return err
	}
	if models.Identity(req.Username) == p.Identity() {
		return nil
	}

	var (
		conn    models.Connection
		created bool
	)
	err := r.pool.Do(ctx, func(ctx context.Context) error {
		receiver, err := r.users.GetByUsername(ctx, req.Username)
		if err != nil {
			return err
		}
		conn, created, err = r.connections.CreateOrGet(ctx, p.UserID(), receiver.ID)
		return err
	})
	if err != nil {
		return err
	}

	r.publish(conn.Sender.Username, models.SourceRequestConnect, conn)
	r.publish(conn.Receiver.Username, models.SourceRequestConnect, conn)
	if created {
		r.audit.Record(ctx, p.Info().RequestID, p.Username(), "friend.request",
			actorAttrs("connection_id", conn.ID, "receiver", conn.Receiver.Username))
	}
	return nil
}

func (r *ChatRouter) requestList(ctx context.Context, p ws.Peer, _ []byte) error {
	pending, err := db.Query(ctx, r.pool, func(ctx context.Context) ([]models.Connection, error) {
		return r.connections.ListPending(ctx, p.UserID())
	})
	if err != nil {
		return err
	}
	if pending == nil {
		pending = []models.Connection{}
	}
	r.reply(p, models.SourceRequestList, pending)
	return nil
}

func (r *ChatRouter) requestAccept(ctx context.Context, p ws.Peer, frame []byte) error {
	var req usernameFrame
	if err := decodeFrame(frame, &req); err != nil {
		return err
	}
	if err := requireField("username", req.Username); err != nil {
		return err
	}

	conn, err := db.Query(ctx, r.pool, func(ctx context.Context) (models.Connection, error) {
		pending, err := r.connections.LatestPendingFrom(ctx, req.Username, p.UserID())
		if err != nil {
			return models.Connection{}, err
		}
		return r.connections.Accept(ctx, pending.ID)
	})
	if err != nil {
		return err
	}

	r.publish(conn.Sender.Username, models.SourceRequestAccept, conn)
	r.publish(conn.Receiver.Username, models.SourceRequestAccept, conn)
	r.audit.Record(ctx, p.Info().RequestID, p.Username(), "friend.accept",
		actorAttrs("connection_id", conn.ID, "sender", conn.Sender.Username))
	return nil
}

func (r *ChatRouter) friendList(ctx context.Context, p ws.Peer, _ []byte) error {
	var (
		accepted []models.Connection
		previews map[int]string
	)
	err := r.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		accepted, err = r.connections.ListAccepted(ctx, p.UserID())
		if err != nil || len(accepted) == 0 {
			return err
		}
		ids := make([]int, 0, len(accepted))
		for _, conn := range accepted {
			ids = append(ids, conn.ID)
		}
		previews, err = r.messages.Previews(ctx, ids)
		return err
	})
	if err != nil {
		return err
	}

	friends := make([]models.FriendSummary, 0, len(accepted))
	for _, conn := range accepted {
		friend := conn.Other(p.UserID())
		friends = append(friends, models.FriendSummary{
			ID:        conn.ID,
			Friend:    friend,
			Preview:   previews[conn.ID],
			UpdatedAt: conn.UpdatedAt,
			Online:    r.presence.IsOnline(models.Identity(friend.Username)),
		})
	}
	r.reply(p, models.SourceFriendList, friends)
	return nil
}
