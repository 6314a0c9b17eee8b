package repositories

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-chat/internal/models"
)

const advanceQuery = `^UPDATE messages SET status=\$2 WHERE id=\$1 AND status = ANY\(\$3\)$`

func TestAdvanceToReadAcceptsSentAndDelivered(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec(advanceQuery).
		WithArgs(7, models.StatusRead, pq.Array([]string{"sent", "delivered"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := repo.Advance(context.Background(), 7, models.StatusRead)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestAdvanceToDeliveredAcceptsOnlySent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec(advanceQuery).
		WithArgs(7, models.StatusDelivered, pq.Array([]string{"sent"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := repo.Advance(context.Background(), 7, models.StatusDelivered)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestAdvanceReportsUnchangedRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	// Already read: the status guard matches nothing.
	mock.ExpectExec(advanceQuery).
		WithArgs(7, models.StatusDelivered, pq.Array([]string{"sent"})).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.Advance(context.Background(), 7, models.StatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestAdvanceToSentNeverQueries(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewMessageRepo(db)

	changed, err := repo.Advance(context.Background(), 7, models.StatusSent)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestAdvanceForReceiverExcludesSender(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery(`^UPDATE messages m SET status=\$3 FROM users u WHERE m.id = ANY\(\$1\) AND m.sender_id <> \$2 AND m.status = ANY\(\$4\) AND u.id = m.sender_id RETURNING m.id, u.username AS sender_username, m.status$`).
		WithArgs(pq.Array([]int{4, 5}), 9, models.StatusRead, pq.Array([]string{"sent", "delivered"})).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_username", "status"}).AddRow(4, "alice", "read"))

	receipts, err := repo.AdvanceForReceiver(context.Background(), []int{4, 5}, 9, models.StatusRead)
	require.NoError(t, err)
	assert.Equal(t, []models.DeliveryReceipt{{MessageID: 4, SenderUsername: "alice", Status: models.StatusRead}}, receipts)
}

func TestAdvanceForReceiverWithoutIDs(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewMessageRepo(db)

	receipts, err := repo.AdvanceForReceiver(context.Background(), nil, 9, models.StatusRead)
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

func TestMarkDeliveredForSweepsAcceptedConnectionsOnly(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery(`^UPDATE messages m SET status=\$2 FROM connections c, users u WHERE m.connection_id = c.id AND c.accepted AND \(c.sender_id=\$1 OR c.receiver_id=\$1\) AND m.sender_id <> \$1 AND m.status=\$3 AND u.id = m.sender_id RETURNING`).
		WithArgs(9, models.StatusDelivered, models.StatusSent).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_username", "status"}).
			AddRow(1, "alice", "delivered").
			AddRow(2, "bob", "delivered"))

	receipts, err := repo.MarkDeliveredFor(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, "alice", receipts[0].SenderUsername)
	assert.Equal(t, models.StatusDelivered, receipts[1].Status)
}

func TestGetMessageNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery(`JOIN users u ON u.id = m.sender_id WHERE m.id=\$1$`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), 3)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}
