package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"realtime-chat/internal/models"
)

var ErrConnectionNotFound = errors.New("connection not found")

// ConnectionRepository abstracts friend request and friendship persistence.
type ConnectionRepository interface {
	CreateOrGet(ctx context.Context, senderID int, receiverID int) (models.Connection, bool, error)
	Get(ctx context.Context, connectionID int) (models.Connection, error)
	ListPending(ctx context.Context, userID int) ([]models.Connection, error)
	LatestPendingFrom(ctx context.Context, senderUsername string, receiverID int) (models.Connection, error)
	Accept(ctx context.Context, connectionID int) (models.Connection, error)
	ListAccepted(ctx context.Context, userID int) ([]models.Connection, error)
	LatestAcceptedBetween(ctx context.Context, userID int, otherUsername string) (models.Connection, error)
}

// ConnectionRepo is a sqlx implementation of ConnectionRepository.
type ConnectionRepo struct {
	db *sqlx.DB
}

// NewConnectionRepo constructs a ConnectionRepo.
func NewConnectionRepo(db *sqlx.DB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

const connectionSelect = `SELECT c.id, c.accepted, c.created_at, c.updated_at,
        s.id AS "sender.id", s.username AS "sender.username", s.first_name AS "sender.first_name",
        s.last_name AS "sender.last_name", s.thumbnail AS "sender.thumbnail",
        r.id AS "receiver.id", r.username AS "receiver.username", r.first_name AS "receiver.first_name",
        r.last_name AS "receiver.last_name", r.thumbnail AS "receiver.thumbnail"
        FROM connections c
        JOIN users s ON s.id = c.sender_id
        JOIN users r ON r.id = c.receiver_id`

// CreateOrGet returns the request from sender to receiver, creating it when
// none exists. The boolean reports whether a row was inserted.
func (r *ConnectionRepo) CreateOrGet(ctx context.Context, senderID int, receiverID int) (models.Connection, bool, error) {
	if senderID == receiverID {
		return models.Connection{}, false, errors.New("cannot connect with self")
	}

	var id int
	created := true
	err := r.db.GetContext(ctx, &id, `INSERT INTO connections (sender_id, receiver_id) VALUES ($1, $2)
        ON CONFLICT (sender_id, receiver_id) DO NOTHING RETURNING id`, senderID, receiverID)
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = r.db.GetContext(ctx, &id, `SELECT id FROM connections WHERE sender_id=$1 AND receiver_id=$2`, senderID, receiverID)
	}
	if err != nil {
		return models.Connection{}, false, err
	}

	conn, err := r.Get(ctx, id)
	return conn, created, err
}

// Get fetches a connection by id.
func (r *ConnectionRepo) Get(ctx context.Context, connectionID int) (models.Connection, error) {
	var conn models.Connection
	err := r.db.GetContext(ctx, &conn, connectionSelect+` WHERE c.id=$1`, connectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Connection{}, ErrConnectionNotFound
	}
	return conn, err
}

// ListPending returns unaccepted requests the user sent or received.
func (r *ConnectionRepo) ListPending(ctx context.Context, userID int) ([]models.Connection, error) {
	conns := []models.Connection{}
	err := r.db.SelectContext(ctx, &conns, connectionSelect+`
        WHERE (c.sender_id=$1 OR c.receiver_id=$1) AND NOT c.accepted
        ORDER BY c.created_at DESC`, userID)
	return conns, err
}

// LatestPendingFrom returns the newest unaccepted request sent by the named
// user to receiverID.
func (r *ConnectionRepo) LatestPendingFrom(ctx context.Context, senderUsername string, receiverID int) (models.Connection, error) {
	var conn models.Connection
	err := r.db.GetContext(ctx, &conn, connectionSelect+`
        WHERE LOWER(s.username)=LOWER($1) AND c.receiver_id=$2 AND NOT c.accepted
        ORDER BY c.id DESC LIMIT 1`, senderUsername, receiverID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Connection{}, ErrConnectionNotFound
	}
	return conn, err
}

// Accept marks a request accepted and returns the updated record.
func (r *ConnectionRepo) Accept(ctx context.Context, connectionID int) (models.Connection, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE connections SET accepted = TRUE, updated_at = NOW() WHERE id=$1`, connectionID)
	if err != nil {
		return models.Connection{}, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.Connection{}, err
	}
	if count == 0 {
		return models.Connection{}, ErrConnectionNotFound
	}
	return r.Get(ctx, connectionID)
}

// ListAccepted returns every accepted relationship involving the user.
func (r *ConnectionRepo) ListAccepted(ctx context.Context, userID int) ([]models.Connection, error) {
	conns := []models.Connection{}
	err := r.db.SelectContext(ctx, &conns, connectionSelect+`
        WHERE (c.sender_id=$1 OR c.receiver_id=$1) AND c.accepted
        ORDER BY c.updated_at DESC`, userID)
	return conns, err
}

// LatestAcceptedBetween returns the newest accepted relationship between the
// user and the named other user, in either direction.
func (r *ConnectionRepo) LatestAcceptedBetween(ctx context.Context, userID int, otherUsername string) (models.Connection, error) {
	var conn models.Connection
	err := r.db.GetContext(ctx, &conn, connectionSelect+`
        WHERE c.accepted
        AND ((c.sender_id=$1 AND LOWER(r.username)=LOWER($2)) OR (c.receiver_id=$1 AND LOWER(s.username)=LOWER($2)))
        ORDER BY c.id DESC LIMIT 1`, userID, otherUsername)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Connection{}, ErrConnectionNotFound
	}
	return conn, err
}
