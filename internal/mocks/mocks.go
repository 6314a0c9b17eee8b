package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"realtime-chat/internal/models"
	"realtime-chat/internal/repositories"
	"realtime-chat/internal/storage"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetByUsername(ctx context.Context, username string) (models.User, error) {
	args := m.Called(ctx, username)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) Search(ctx context.Context, callerID int, query string) ([]models.SearchResult, error) {
	args := m.Called(ctx, callerID, query)
	var results []models.SearchResult
	if val := args.Get(0); val != nil {
		results = val.([]models.SearchResult)
	}
	return results, args.Error(1)
}

func (m *UserRepositoryMock) UpdateThumbnail(ctx context.Context, userID int, thumbnail string) (models.User, error) {
	args := m.Called(ctx, userID, thumbnail)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type ConnectionRepositoryMock struct {
	mock.Mock
}

func (m *ConnectionRepositoryMock) CreateOrGet(ctx context.Context, senderID int, receiverID int) (models.Connection, bool, error) {
	args := m.Called(ctx, senderID, receiverID)
	var conn models.Connection
	if val := args.Get(0); val != nil {
		conn = val.(models.Connection)
	}
	return conn, args.Bool(1), args.Error(2)
}

func (m *ConnectionRepositoryMock) Get(ctx context.Context, connectionID int) (models.Connection, error) {
	args := m.Called(ctx, connectionID)
	var conn models.Connection
	if val := args.Get(0); val != nil {
		conn = val.(models.Connection)
	}
	return conn, args.Error(1)
}

func (m *ConnectionRepositoryMock) ListPending(ctx context.Context, userID int) ([]models.Connection, error) {
	args := m.Called(ctx, userID)
	var list []models.Connection
	if val := args.Get(0); val != nil {
		list = val.([]models.Connection)
	}
	return list, args.Error(1)
}

func (m *ConnectionRepositoryMock) LatestPendingFrom(ctx context.Context, senderUsername string, receiverID int) (models.Connection, error) {
	args := m.Called(ctx, senderUsername, receiverID)
	var conn models.Connection
	if val := args.Get(0); val != nil {
		conn = val.(models.Connection)
	}
	return conn, args.Error(1)
}

func (m *ConnectionRepositoryMock) Accept(ctx context.Context, connectionID int) (models.Connection, error) {
	args := m.Called(ctx, connectionID)
	var conn models.Connection
	if val := args.Get(0); val != nil {
		conn = val.(models.Connection)
	}
	return conn, args.Error(1)
}

func (m *ConnectionRepositoryMock) ListAccepted(ctx context.Context, userID int) ([]models.Connection, error) {
	args := m.Called(ctx, userID)
	var list []models.Connection
	if val := args.Get(0); val != nil {
		list = val.([]models.Connection)
	}
	return list, args.Error(1)
}

func (m *ConnectionRepositoryMock) LatestAcceptedBetween(ctx context.Context, userID int, otherUsername string) (models.Connection, error) {
	args := m.Called(ctx, userID, otherUsername)
	var conn models.Connection
	if val := args.Get(0); val != nil {
		conn = val.(models.Connection)
	}
	return conn, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, connectionID int, senderID int, text string) (models.Message, error) {
	args := m.Called(ctx, connectionID, senderID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListPage(ctx context.Context, connectionID int, offset int, limit int) ([]models.Message, error) {
	args := m.Called(ctx, connectionID, offset, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) Count(ctx context.Context, connectionID int) (int, error) {
	args := m.Called(ctx, connectionID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) Previews(ctx context.Context, connectionIDs []int) (map[int]string, error) {
	args := m.Called(ctx, connectionIDs)
	var previews map[int]string
	if val := args.Get(0); val != nil {
		previews = val.(map[int]string)
	}
	return previews, args.Error(1)
}

func (m *MessageRepositoryMock) Advance(ctx context.Context, messageID int, to models.MessageStatus) (bool, error) {
	args := m.Called(ctx, messageID, to)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) AdvanceForReceiver(ctx context.Context, messageIDs []int, receiverID int, to models.MessageStatus) ([]models.DeliveryReceipt, error) {
	args := m.Called(ctx, messageIDs, receiverID, to)
	var receipts []models.DeliveryReceipt
	if val := args.Get(0); val != nil {
		receipts = val.([]models.DeliveryReceipt)
	}
	return receipts, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDeliveredFor(ctx context.Context, receiverID int) ([]models.DeliveryReceipt, error) {
	args := m.Called(ctx, receiverID)
	var receipts []models.DeliveryReceipt
	if val := args.Get(0); val != nil {
		receipts = val.([]models.DeliveryReceipt)
	}
	return receipts, args.Error(1)
}

type AvatarStoreMock struct {
	mock.Mock
}

func (m *AvatarStoreMock) Put(ctx context.Context, key string, body []byte) (string, error) {
	args := m.Called(ctx, key, body)
	return args.String(0), args.Error(1)
}

func (m *AvatarStoreMock) Delete(ctx context.Context, location string) error {
	args := m.Called(ctx, location)
	return args.Error(0)
}

var (
	_ repositories.UserRepository       = (*UserRepositoryMock)(nil)
	_ repositories.ConnectionRepository = (*ConnectionRepositoryMock)(nil)
	_ repositories.MessageRepository    = (*MessageRepositoryMock)(nil)
	_ storage.AvatarStore               = (*AvatarStoreMock)(nil)
)
