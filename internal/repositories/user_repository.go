package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"realtime-chat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

const searchLimit = 50

// UserRepository abstracts user persistence.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (models.User, error)
	Search(ctx context.Context, callerID int, query string) ([]models.SearchResult, error)
	UpdateThumbnail(ctx context.Context, userID int, thumbnail string) (models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetByUsername looks a user up case-insensitively.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, first_name, last_name, thumbnail FROM users WHERE LOWER(username)=LOWER($1)`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// Search matches query against username, first and last name, excluding the
// caller, and annotates each match with its relationship to the caller.
func (r *UserRepo) Search(ctx context.Context, callerID int, query string) ([]models.SearchResult, error) {
	pattern := "%" + escapeLike(query) + "%"
	q := `SELECT u.id, u.username, u.first_name, u.last_name, u.thumbnail,
        EXISTS(SELECT 1 FROM connections c WHERE c.sender_id=$1 AND c.receiver_id=u.id AND NOT c.accepted) AS pending_them,
        EXISTS(SELECT 1 FROM connections c WHERE c.sender_id=u.id AND c.receiver_id=$1 AND NOT c.accepted) AS pending_me,
        EXISTS(SELECT 1 FROM connections c WHERE c.accepted
            AND ((c.sender_id=$1 AND c.receiver_id=u.id) OR (c.sender_id=u.id AND c.receiver_id=$1))) AS connected
        FROM users u
        WHERE u.id <> $1
        AND (u.username ILIKE $2 ESCAPE '\' OR u.first_name ILIKE $2 ESCAPE '\' OR u.last_name ILIKE $2 ESCAPE '\')
        ORDER BY u.username
        LIMIT $3`
	var results []models.SearchResult
	if err := r.db.SelectContext(ctx, &results, q, callerID, pattern, searchLimit); err != nil {
		return nil, err
	}
	for i := range results {
		results[i].ResolveStatus()
	}
	return results, nil
}

// UpdateThumbnail stores a new avatar location and returns the updated user.
func (r *UserRepo) UpdateThumbnail(ctx context.Context, userID int, thumbnail string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `UPDATE users SET thumbnail=$2 WHERE id=$1 RETURNING id, username, first_name, last_name, thumbnail`, userID, thumbnail)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
