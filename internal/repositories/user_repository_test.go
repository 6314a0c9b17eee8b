package repositories

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userByNameQuery = `^SELECT id, username, first_name, last_name, thumbnail FROM users WHERE LOWER\(username\)=LOWER\(\$1\)$`

func TestGetByUsername(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(userByNameQuery).
		WithArgs("Alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "first_name", "last_name", "thumbnail"}).
			AddRow(1, "alice", "Alice", "A", "https://cdn/a.png"))

	user, err := repo.GetByUsername(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, 1, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "https://cdn/a.png", user.Thumbnail)
}

func TestGetByUsernameNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(userByNameQuery).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "first_name", "last_name", "thumbnail"}))

	_, err := repo.GetByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateThumbnailNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`^UPDATE users SET thumbnail=\$2 WHERE id=\$1 RETURNING`).
		WithArgs(5, "https://cdn/new.png").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "first_name", "last_name", "thumbnail"}))

	_, err := repo.UpdateThumbnail(context.Background(), 5, "https://cdn/new.png")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSearchExcludesCallerAndEscapesPattern(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`FROM users u WHERE u.id <> \$1 AND`).
		WithArgs(9, `%50\%%`, searchLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "first_name", "last_name", "thumbnail", "pending_them", "pending_me", "connected"}).
			AddRow(2, "bob", "Bob", "B", "", false, true, false))

	results, err := repo.Search(context.Background(), 9, "50%")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bob", results[0].Username)
	assert.Equal(t, "pending_me", results[0].Status)
}
