package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"realtime-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for direct messages.
type MessageRepository interface {
	Create(ctx context.Context, connectionID int, senderID int, text string) (models.Message, error)
	Get(ctx context.Context, messageID int) (models.Message, error)
	ListPage(ctx context.Context, connectionID int, offset int, limit int) ([]models.Message, error)
	Count(ctx context.Context, connectionID int) (int, error)
	Previews(ctx context.Context, connectionIDs []int) (map[int]string, error)
	Advance(ctx context.Context, messageID int, to models.MessageStatus) (bool, error)
	AdvanceForReceiver(ctx context.Context, messageIDs []int, receiverID int, to models.MessageStatus) ([]models.DeliveryReceipt, error)
	MarkDeliveredFor(ctx context.Context, receiverID int) ([]models.DeliveryReceipt, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageSelect = `SELECT m.id, m.connection_id, m.text, m.status, m.created_at,
        u.id AS "sender.id", u.username AS "sender.username", u.first_name AS "sender.first_name",
        u.last_name AS "sender.last_name", u.thumbnail AS "sender.thumbnail"
        FROM messages m
        JOIN users u ON u.id = m.sender_id`

// Create stores a new message with status sent.
func (r *MessageRepo) Create(ctx context.Context, connectionID int, senderID int, text string) (models.Message, error) {
	var id int
	err := r.db.GetContext(ctx, &id, `INSERT INTO messages (connection_id, sender_id, text, status) VALUES ($1, $2, $3, $4) RETURNING id`,
		connectionID, senderID, text, models.StatusSent)
	if err != nil {
		return models.Message{}, err
	}
	return r.Get(ctx, id)
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, messageSelect+` WHERE m.id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListPage returns up to limit messages of a connection, newest first,
// skipping the newest offset.
func (r *MessageRepo) ListPage(ctx context.Context, connectionID int, offset int, limit int) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, messageSelect+`
        WHERE m.connection_id=$1
        ORDER BY m.created_at DESC, m.id DESC
        OFFSET $2 LIMIT $3`, connectionID, offset, limit)
	return msgs, err
}

// Count returns the number of messages in a connection.
func (r *MessageRepo) Count(ctx context.Context, connectionID int) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE connection_id=$1`, connectionID)
	return n, err
}

// Previews returns the text of the newest message per connection. Connections
// without messages are absent from the map.
func (r *MessageRepo) Previews(ctx context.Context, connectionIDs []int) (map[int]string, error) {
	out := make(map[int]string, len(connectionIDs))
	if len(connectionIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT DISTINCT ON (connection_id) connection_id, text
        FROM messages
        WHERE connection_id = ANY($1)
        ORDER BY connection_id, created_at DESC, id DESC`, pq.Array(connectionIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int
		var text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		out[id] = text
	}
	return out, rows.Err()
}

// Advance moves a message to status to if that is a forward transition from
// its current status. It reports whether the row changed, so repeating the
// call is harmless.
func (r *MessageRepo) Advance(ctx context.Context, messageID int, to models.MessageStatus) (bool, error) {
	from := to.Predecessors()
	if len(from) == 0 {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status=$2 WHERE id=$1 AND status = ANY($3)`,
		messageID, to, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AdvanceForReceiver advances the listed messages that receiverID did not
// send and returns a receipt for each one that changed.
func (r *MessageRepo) AdvanceForReceiver(ctx context.Context, messageIDs []int, receiverID int, to models.MessageStatus) ([]models.DeliveryReceipt, error) {
	receipts := []models.DeliveryReceipt{}
	from := to.Predecessors()
	if len(messageIDs) == 0 || len(from) == 0 {
		return receipts, nil
	}
	err := r.db.SelectContext(ctx, &receipts, `UPDATE messages m SET status=$3
        FROM users u
        WHERE m.id = ANY($1) AND m.sender_id <> $2 AND m.status = ANY($4) AND u.id = m.sender_id
        RETURNING m.id, u.username AS sender_username, m.status`,
		pq.Array(messageIDs), receiverID, to, pq.Array(statusStrings(from)))
	return receipts, err
}

// MarkDeliveredFor advances every sent message addressed to receiverID in
// its accepted relationships to delivered.
func (r *MessageRepo) MarkDeliveredFor(ctx context.Context, receiverID int) ([]models.DeliveryReceipt, error) {
	receipts := []models.DeliveryReceipt{}
	err := r.db.SelectContext(ctx, &receipts, `UPDATE messages m SET status=$2
        FROM connections c, users u
        WHERE m.connection_id = c.id AND c.accepted
        AND (c.sender_id=$1 OR c.receiver_id=$1)
        AND m.sender_id <> $1 AND m.status=$3 AND u.id = m.sender_id
        RETURNING m.id, u.username AS sender_username, m.status`,
		receiverID, models.StatusDelivered, models.StatusSent)
	return receipts, err
}

func statusStrings(statuses []models.MessageStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
