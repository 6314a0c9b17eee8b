package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/db"
	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/repositories"
)

// TokenValidator resolves a bearer token to a username.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// UserLookup resolves the authenticated username to a stored user.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (models.User, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Endpoint authenticates websocket handshakes and runs one Session per
// accepted connection with the configured protocol Handler.
type Endpoint struct {
	kind    string
	bus     *Bus
	handler Handler
	tokens  TokenValidator
	users   UserLookup
	pool    *db.Pool
	buffer  int

	mu       sync.Mutex
	sessions map[*Session]struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewEndpoint constructs an Endpoint for sessions of the given kind.
func NewEndpoint(kind string, bus *Bus, handler Handler, tokens TokenValidator, users UserLookup, pool *db.Pool, buffer int) *Endpoint {
	return &Endpoint{
		kind:     kind,
		bus:      bus,
		handler:  handler,
		tokens:   tokens,
		users:    users,
		pool:     pool,
		buffer:   buffer,
		sessions: make(map[*Session]struct{}),
	}
}

// Handle upgrades the request and serves the session until it closes.
func (e *Endpoint) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("realtime-chat/ws").Start(c.Request.Context(), "ws.handshake")
	span.SetAttributes(attribute.String("ws.kind", e.kind))
	c.Request = c.Request.WithContext(ctx)

	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	username, err := e.tokens.ValidateToken(ctx, token)
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	user, err := db.Query(ctx, e.pool, func(ctx context.Context) (models.User, error) {
		return e.users.GetByUsername(ctx, username)
	})
	if err != nil {
		span.End()
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusForbidden, gin.H{"error": "unknown user"})
			return
		}
		logrus.WithError(err).WithField("username", username).Error("handshake user lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if !e.track() {
		span.End()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	defer e.wg.Done()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      user.ID,
		Username:    user.Username,
		Identity:    models.Identity(user.Username),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.End()

	session := NewSession(e.kind, conn, e.bus, info, e.buffer)
	e.add(session)
	defer e.remove(session)

	session.Run(context.WithoutCancel(ctx), e.handler)
}

// Shutdown disconnects every live session and waits for their cleanup.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	live := make([]*Session, 0, len(e.sessions))
	for s := range e.sessions {
		live = append(live, s)
	}
	e.mu.Unlock()

	for _, s := range live {
		s.Disconnect("server shutdown")
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns the number of live sessions.
func (e *Endpoint) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Endpoint) track() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

func (e *Endpoint) add(s *Session) {
	e.mu.Lock()
	e.sessions[s] = struct{}{}
	closed := e.closed
	e.mu.Unlock()
	if closed {
		s.Disconnect("server shutdown")
	}
}

func (e *Endpoint) remove(s *Session) {
	e.mu.Lock()
	delete(e.sessions, s)
	e.mu.Unlock()
}
