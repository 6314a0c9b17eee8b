package handlers

import (
	"sync"
	"time"

	"realtime-chat/internal/observability"
)

// CallState is the position of a call between two users.
type CallState int

const (
	CallIdle CallState = iota
	CallRinging
	CallConnected
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallRinging:
		return "ringing"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	default:
		return "idle"
	}
}

// Call is a live call between two identities.
type Call struct {
	Caller    string
	Callee    string
	State     CallState
	StartedAt time.Time
}

// Peer returns the party of c that is not identity.
func (c Call) Peer(identity string) string {
	if c.Caller == identity {
		return c.Callee
	}
	return c.Caller
}

type callKey struct{ a, b string }

func keyFor(x, y string) callKey {
	if x > y {
		x, y = y, x
	}
	return callKey{a: x, b: y}
}

// CallRegistry holds at most one call per pair of identities. Terminal
// transitions remove the entry.
type CallRegistry struct {
	mu    sync.Mutex
	calls map[callKey]*Call
	now   func() time.Time
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{calls: make(map[callKey]*Call), now: time.Now}
}

// Ring starts a call from caller to callee, replacing any call the pair had.
func (r *CallRegistry) Ring(caller, callee string) Call {
	call := &Call{Caller: caller, Callee: callee, State: CallRinging, StartedAt: r.now()}
	r.mu.Lock()
	r.calls[keyFor(caller, callee)] = call
	r.mu.Unlock()
	observability.IncCallTransition(CallRinging.String())
	return *call
}

// Accept connects a ringing call. Only the callee may accept.
func (r *CallRegistry) Accept(callee, caller string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[keyFor(caller, callee)]
	if !ok || call.State != CallRinging || call.Callee != callee {
		return Call{}, false
	}
	call.State = CallConnected
	observability.IncCallTransition(CallConnected.String())
	return *call, true
}

// End terminates the call between x and y, if any, and returns it.
func (r *CallRegistry) End(x, y string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := keyFor(x, y)
	call, ok := r.calls[key]
	if !ok {
		return Call{}, false
	}
	delete(r.calls, key)
	call.State = CallEnded
	observability.IncCallTransition(CallEnded.String())
	return *call, true
}

// State returns the state of the call between x and y.
func (r *CallRegistry) State(x, y string) CallState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if call, ok := r.calls[keyFor(x, y)]; ok {
		return call.State
	}
	return CallIdle
}

// DropParty ends every call involving identity and returns them.
func (r *CallRegistry) DropParty(identity string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dropped []Call
	for key, call := range r.calls {
		if key.a != identity && key.b != identity {
			continue
		}
		delete(r.calls, key)
		call.State = CallEnded
		dropped = append(dropped, *call)
		observability.IncCallTransition(CallEnded.String())
	}
	return dropped
}

// Active returns a snapshot of the live calls.
func (r *CallRegistry) Active() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0, len(r.calls))
	for _, call := range r.calls {
		out = append(out, *call)
	}
	return out
}
