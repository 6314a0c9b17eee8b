package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime-chat/internal/db"
	"realtime-chat/internal/mocks"
	"realtime-chat/internal/models"
	"realtime-chat/internal/repositories"
	"realtime-chat/internal/telemetry"
	"realtime-chat/internal/ws"
)

var (
	alice = models.User{ID: 1, Username: "Alice"}
	bob   = models.User{ID: 2, Username: "Bob"}
	carol = models.User{ID: 3, Username: "Carol"}

	aliceBob = models.Connection{ID: 7, Sender: alice, Receiver: bob, Accepted: true, UpdatedAt: time.Unix(100, 0)}
)

type chatFixture struct {
	bus         *ws.Bus
	presence    *ws.Presence
	users       *mocks.UserRepositoryMock
	connections *mocks.ConnectionRepositoryMock
	messages    *mocks.MessageRepositoryMock
	avatars     *mocks.AvatarStoreMock
	publisher   *mocks.PublisherMock
	pool        *db.Pool
	router      *ChatRouter
}

func newChatFixture() *chatFixture {
	return newChatFixtureWithPool(4)
}

func newChatFixtureWithPool(size int) *chatFixture {
	f := &chatFixture{
		bus:         ws.NewBus(),
		presence:    ws.NewPresence(nil),
		users:       new(mocks.UserRepositoryMock),
		connections: new(mocks.ConnectionRepositoryMock),
		messages:    new(mocks.MessageRepositoryMock),
		avatars:     new(mocks.AvatarStoreMock),
		publisher:   new(mocks.PublisherMock),
		pool:        db.NewPool(size),
	}
	audit := telemetry.NewAuditEmitter(f.publisher, "audit.chat", "realtime-chat", "test")
	f.router = NewChatRouter(f.bus, f.presence, f.users, f.connections, f.messages, f.avatars, f.pool, audit)
	return f
}

func (f *chatFixture) assertExpectations(t *testing.T) {
	f.users.AssertExpectations(t)
	f.connections.AssertExpectations(t)
	f.messages.AssertExpectations(t)
	f.avatars.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

// joined returns a peer subscribed to its chat group and marked online.
func (f *chatFixture) joined(user models.User) *fakePeer {
	p := newPeer(f.bus, user.ID, user.Username)
	p.Join(ws.ChatGroup(p.Identity()))
	f.presence.MarkOnline(p.Identity())
	return p
}

func (f *chatFixture) receive(p *fakePeer, frame string) {
	f.router.Receive(context.Background(), p, []byte(frame))
}

func TestChatOpenBroadcastsPresenceAndSweepsDeliveries(t *testing.T) {
	f := newChatFixture()
	bobPeer := f.joined(bob)
	carolPeer := f.joined(carol)

	f.connections.On("ListAccepted", mock.Anything, 1).Return([]models.Connection{aliceBob, aliceBob}, nil).Once()
	f.messages.On("MarkDeliveredFor", mock.Anything, 1).Return([]models.DeliveryReceipt{
		{MessageID: 42, SenderUsername: "Bob", Status: models.StatusDelivered},
	}, nil).Once()

	alicePeer := newPeer(f.bus, 1, "Alice")
	require.NoError(t, f.router.Open(context.Background(), alicePeer))

	assert.True(t, f.presence.IsOnline("alice"))
	assert.Equal(t, 1, f.bus.Size(ws.ChatGroup("alice")))

	events := bobPeer.chatEvents(t)
	require.Len(t, events, 2, "duplicate relationship rows broadcast once")
	assert.Equal(t, models.SourceUserStatus, events[0].Source)
	assert.JSONEq(t, `{"username":"Alice","online":true}`, string(events[0].Data))
	assert.Equal(t, models.SourceMessageDelivered, events[1].Source)
	assert.JSONEq(t, `{"message_id":42,"status":"delivered"}`, string(events[1].Data))

	assert.Empty(t, carolPeer.chatEvents(t), "non-friends never see presence changes")
	f.assertExpectations(t)
}

func TestChatPresenceTransitionsAcrossTabs(t *testing.T) {
	f := newChatFixture()
	bobPeer := f.joined(bob)

	f.connections.On("ListAccepted", mock.Anything, 1).Return([]models.Connection{aliceBob}, nil).Twice()
	f.messages.On("MarkDeliveredFor", mock.Anything, 1).Return(nil, nil).Twice()

	first := newPeer(f.bus, 1, "Alice")
	second := newPeer(f.bus, 1, "alice")
	require.NoError(t, f.router.Open(context.Background(), first))
	require.NoError(t, f.router.Open(context.Background(), second))
	assert.Equal(t, []string{models.SourceUserStatus}, bobPeer.sources(t))

	first.close()
	assert.True(t, f.presence.IsOnline("alice"))
	assert.Len(t, bobPeer.chatEvents(t), 1)

	second.close()
	assert.False(t, f.presence.IsOnline("alice"))
	events := bobPeer.chatEvents(t)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"username":"alice","online":false}`, string(events[1].Data))
	assert.Zero(t, f.bus.Size(ws.ChatGroup("alice")))
	f.assertExpectations(t)
}

func TestChatOpenSurvivesSweepFailure(t *testing.T) {
	f := newChatFixture()
	f.connections.On("ListAccepted", mock.Anything, 1).Return(nil, nil).Once()
	f.messages.On("MarkDeliveredFor", mock.Anything, 1).Return(nil, assert.AnError).Once()

	p := newPeer(f.bus, 1, "Alice")
	require.NoError(t, f.router.Open(context.Background(), p))
	assert.True(t, f.presence.IsOnline("alice"))
	f.assertExpectations(t)
}

func TestChatReceiveUnknownAndMalformed(t *testing.T) {
	f := newChatFixture()
	p := f.joined(alice)

	f.receive(p, `{"source":"nope"}`)
	assert.Empty(t, p.chatEvents(t))

	f.receive(p, `{not json`)
	events := p.chatEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.SourceError, events[0].Source)
	assert.JSONEq(t, `{"message":"Invalid JSON format"}`, string(events[0].Data))
}

func TestChatStoreFailureRepliesGenericError(t *testing.T) {
	f := newChatFixture()
	p := f.joined(alice)
	f.connections.On("ListPending", mock.Anything, 1).Return(nil, assert.AnError).Once()

	f.receive(p, `{"source":"request.list"}`)

	events := p.chatEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.SourceError, events[0].Source)
	assert.JSONEq(t, `{"message":"Internal server error"}`, string(events[0].Data))
	f.assertExpectations(t)
}

func TestChatMissingFieldIsProtocolError(t *testing.T) {
	f := newChatFixture()
	p := f.joined(alice)

	f.receive(p, `{"source":"request.connect"}`)

	events := p.chatEvents(t)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"message":"Missing username field"}`, string(events[0].Data))
}

func TestSearchResolvesRelationship(t *testing.T) {
	f := newChatFixture()
	p := f.joined(alice)
	f.users.On("Search", mock.Anything, 1, "bo").Return([]models.SearchResult{
		{User: bob, PendingThem: true},
		{User: models.User{Username: "bobby"}, Connected: true},
		{User: models.User{Username: "boris"}},
	}, nil).Once()

	f.receive(p, `{"source":"search","query":" bo "}`)

	events := p.chatEvents(t)
	require.Len(t, events, 1)
	var results []map[string]any
	require.NoError(t, json.Unmarshal(events[0].Data, &results))
	require.Len(t, results, 3)
	assert.Equal(t, "pending_them", results[0]["status"])
	assert.Equal(t, "connected", results[1]["status"])
	assert.Equal(t, "no connection", results[2]["status"])
	f.assertExpectations(t)
}

func TestChatPresenceSkipsStaleBroadcast(t *testing.T) {
	f := newChatFixture()
	bobPeer := f.joined(bob)

	f.messages.On("MarkDeliveredFor", mock.Anything, 1).Return(nil, nil).Twice()
	f.connections.On("ListAccepted", mock.Anything, 1).Return([]models.Connection{aliceBob}, nil).Once()

	first := newPeer(f.bus, 1, "Alice")
	require.NoError(t, f.router.Open(context.Background(), first))
	bobPeer.reset()

	// A new tab opens while the closing tab is still looking up friends.
	second := newPeer(f.bus, 1, "alice")
	f.connections.On("ListAccepted", mock.Anything, 1).Run(func(mock.Arguments) {
		require.NoError(t, f.router.Open(context.Background(), second))
	}).Return([]models.Connection{aliceBob}, nil).Once()
	f.connections.On("ListAccepted", mock.Anything, 1).Return([]models.Connection{aliceBob}, nil).Once()

	first.close()

	assert.True(t, f.presence.IsOnline("alice"))
	events := bobPeer.chatEvents(t)
	require.Len(t, events, 1, "the offline broadcast is dropped once alice is back")
	assert.JSONEq(t, `{"username":"alice","online":true}`, string(events[0].Data))
	f.assertExpectations(t)
}

func TestThumbnailReplacesAvatar(t *testing.T) {
	f := newChatFixture()
	p := f.joined(alice)

	f.users.On("GetByUsername", mock.Anything, "Alice").
		Return(models.User{ID: 1, Username: "Alice", Thumbnail: "http://cdn/old.png"}, nil).Once()
	f.avatars.On("Put", mock.Anything, "thumbnails/1_me.png", []byte("png")).Return("http://cdn/thumbnails/1_me.png", nil).Once()
	f.users.On("UpdateThumbnail", mock.Anything, 1, "http://cdn/thumbnails/1_me.png").
		Return(models.User{ID: 1, Username: "Alice", Thumbnail: "http://cdn/thumbnails/1_me.png"}, nil).Once()
	f.avatars.On("Delete", mock.Anything, "http://cdn/old.png").Return(nil).Once()

	f.receive(p, `{"source":"thumbnail","base64":"cG5n","filename":"/me.png"}`)

	events := p.chatEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.SourceThumbnail, events[0].Source)
	assert.JSONEq(t, `{"username":"Alice","first_name":"","last_name":"","thumbnail":"http://cdn/thumbnails/1_me.png"}`, string(events[0].Data))
	f.assertExpectations(t)
}

func TestThumbnailUploadDoesNotHoldStoreSlot(t *testing.T) {
	f := newChatFixtureWithPool(1)
	p := f.joined(alice)

	slotFree := func(mock.Arguments) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, f.pool.Do(ctx, func(context.Context) error { return nil }))
	}

	f.users.On("GetByUsername", mock.Anything, "Alice").
		Return(models.User{ID: 1, Username: "Alice", Thumbnail: "http://cdn/old.png"}, nil).Once()
	f.avatars.On("Put", mock.Anything, "thumbnails/1_me.png", []byte("png")).
		Run(slotFree).Return("http://cdn/thumbnails/1_me.png", nil).Once()
	f.users.On("UpdateThumbnail", mock.Anything, 1, "http://cdn/thumbnails/1_me.png").
		Return(models.User{ID: 1, Username: "Alice", Thumbnail: "http://cdn/thumbnails/1_me.png"}, nil).Once()
	f.avatars.On("Delete", mock.Anything, "http://cdn/old.png").Run(slotFree).Return(nil).Once()

	f.receive(p, `{"source":"thumbnail","base64":"cG5n","filename":"me.png"}`)

	assert.Equal(t, []string{models.SourceThumbnail}, p.sources(t))
	f.assertExpectations(t)
}

func TestThumbnailWithoutStorage(t *testing.T) {
	f := newChatFixture()
	audit := telemetry.NewAuditEmitter(f.publisher, "audit.chat", "realtime-chat", "test")
	router := NewChatRouter(f.bus, f.presence, f.users, f.connections, f.messages, nil, f.pool, audit)
	p := f.joined(alice)

	router.Receive(context.Background(), p, []byte(`{"source":"thumbnail","base64":"cG5n","filename":"me.png"}`))

	events := p.chatEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.SourceError, events[0].Source)
	assert.JSONEq(t, `{"message":"Thumbnail storage unavailable"}`, string(events[0].Data))
	f.assertExpectations(t)
}

func TestRequestConnectPublishesToBothParties(t *testing.T) {
	f := newChatFixture()
	alicePeer := f.joined(alice)
	bobPeer := f.joined(bob)
	pending := models.Connection{ID: 9, Sender: alice, Receiver: bob}

	f.users.On("GetByUsername", mock.Anything, "bob").Return(bob, nil).Twice()
	f.connections.On("CreateOrGet", mock.Anything, 1, 2).Return(pending, true, nil).Once()
	f.connections.On("CreateOrGet", mock.Anything, 1, 2).Return(pending, false, nil).Once()
	f.publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == "friend.request"
	})).Return(nil).Once()

	f.receive(alicePeer, `{"source":"request.connect","username":"bob"}`)
	f.receive(alicePeer, `{"source":"request.connect","username":"bob"}`)

	aliceEvents, bobEvents := alicePeer.chatEvents(t), bobPeer.chatEvents(t)
	require.Len(t, aliceEvents, 2)
	require.Len(t, bobEvents, 2)
	assert.Equal(t, models.SourceRequestConnect, bobEvents[0].Source)
	assert.JSONEq(t, string(aliceEvents[0].Data), string(bobEvents[0].Data))
	f.assertExpectations(t)
}

func TestRequestConnectToSelfIsIgnored(t *testing.T) {
	f := newChatFixture()
	p := f.joined(alice)

	f.receive(p, `{"source":"request.connect","username":"ALICE"}`)

	assert.Empty(t, p.chatEvents(t))
	f.assertExpectations(t)
}

func TestRequestAccept(t *testing.T) {
	f := newChatFixture()
	alicePeer := f.joined(alice)
	bobPeer := f.joined(bob)
	pending := models.Connection{ID: 9, Sender: alice, Receiver: bob}
	accepted := pending
	accepted.Accepted = true

	f.connections.On("LatestPendingFrom", mock.Anything, "alice", 2).Return(pending, nil).Once()
	f.connections.On("Accept", mock.Anything, 9).Return(accepted, nil).Once()
	f.publisher.On("Publish", mock.Anything, "audit.chat", mock.Anything).Return(nil).Once()

	f.receive(bobPeer, `{"source":"request.accept","username":"alice"}`)

	assert.Equal(t, []string{models.SourceRequestAccept}, alicePeer.sources(t))
	assert.Equal(t, []string{models.SourceRequestAccept}, bobPeer.sources(t))
	f.assertExpectations(t)
}

func TestRequestAcceptWithoutPendingIsSilent(t *testing.T) {
	f := newChatFixture()
	bobPeer := f.joined(bob)
	f.connections.On("LatestPendingFrom", mock.Anything, "alice", 2).
		Return(models.Connection{}, repositories.ErrConnectionNotFound).Once()

	f.receive(bobPeer, `{"source":"request.accept","username":"alice"}`)

	assert.Empty(t, bobPeer.chatEvents(t))
	f.assertExpectations(t)
}

func TestRequestList(t *testing.T) {
	f := newChatFixture()
	p := f.joined(alice)
	f.connections.On("ListPending", mock.Anything, 1).Return(nil, nil).Once()

	f.receive(p, `{"source":"request.list"}`)

	events := p.chatEvents(t)
	require.Len(t, events, 1)
	assert.JSONEq(t, `[]`, string(events[0].Data))
	f.assertExpectations(t)
}

func TestFriendList(t *testing.T) {
	f := newChatFixture()
	p := f.joined(alice)
	f.joined(bob)
	aliceCarol := models.Connection{ID: 8, Sender: carol, Receiver: alice, Accepted: true}

	f.connections.On("ListAccepted", mock.Anything, 1).Return([]models.Connection{aliceBob, aliceCarol}, nil).Once()
	f.messages.On("Previews", mock.Anything, []int{7, 8}).Return(map[int]string{7: "hi"}, nil).Once()

	f.receive(p, `{"source":"friend.list"}`)

	events := p.chatEvents(t)
	require.Len(t, events, 1)
	var friends []models.FriendSummary
	require.NoError(t, json.Unmarshal(events[0].Data, &friends))
	require.Len(t, friends, 2)
	assert.Equal(t, "Bob", friends[0].Friend.Username)
	assert.Equal(t, "hi", friends[0].Preview)
	assert.True(t, friends[0].Online)
	assert.Equal(t, "Carol", friends[1].Friend.Username)
	assert.Equal(t, "", friends[1].Preview)
	assert.False(t, friends[1].Online)
	f.assertExpectations(t)
}
