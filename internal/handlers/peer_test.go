package handlers

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"realtime-chat/internal/models"
	"realtime-chat/internal/ws"
)

// fakePeer is an in-memory session: it joins the real bus and records every
// frame the client would have received.
type fakePeer struct {
	info    ws.ConnInfo
	bus     *ws.Bus
	mu      sync.Mutex
	frames  []json.RawMessage
	cleanup []func()
}

func newPeer(bus *ws.Bus, id int, username string) *fakePeer {
	return &fakePeer{
		bus: bus,
		info: ws.ConnInfo{
			ConnID:      username + "-conn",
			UserID:      id,
			Username:    username,
			Identity:    models.Identity(username),
			RequestID:   "req-" + username,
			ConnectedAt: time.Now(),
		},
	}
}

func (f *fakePeer) Info() ws.ConnInfo  { return f.info }
func (f *fakePeer) UserID() int        { return f.info.UserID }
func (f *fakePeer) Username() string   { return f.info.Username }
func (f *fakePeer) Identity() string   { return f.info.Identity }
func (f *fakePeer) Join(group string)  { f.bus.Join(group, f) }
func (f *fakePeer) Leave(group string) { f.bus.Leave(group, f) }
func (f *fakePeer) Disconnect(string)  {}
func (f *fakePeer) Defer(fn func())    { f.cleanup = append(f.cleanup, fn) }

func (f *fakePeer) Send(event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return f.Deliver(payload)
}

func (f *fakePeer) Deliver(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append(json.RawMessage(nil), payload...))
	return nil
}

// close runs the session teardown the way ws.Session does.
func (f *fakePeer) close() {
	f.bus.LeaveAll(f)
	for i := len(f.cleanup) - 1; i >= 0; i-- {
		f.cleanup[i]()
	}
	f.cleanup = nil
}

func (f *fakePeer) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

type chatFrameSeen struct {
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

func (f *fakePeer) chatEvents(t *testing.T) []chatFrameSeen {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chatFrameSeen, 0, len(f.frames))
	for _, raw := range f.frames {
		var ev chatFrameSeen
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func (f *fakePeer) sources(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, ev := range f.chatEvents(t) {
		out = append(out, ev.Source)
	}
	return out
}

func (f *fakePeer) signals(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, raw := range f.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}
