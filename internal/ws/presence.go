package ws

import (
	"sort"
	"sync"
)

// Presence tracks which identities have at least one live session. Each
// session adds one reference, so a second tab closing does not take the user
// offline while the first is still connected.
type Presence struct {
	mu     sync.RWMutex
	conns  map[string]int
	report func(online int)
}

// NewPresence builds an empty registry. report, if non-nil, is called with
// the number of online identities after every change. It runs with the
// registry locked, so reports arrive in the order the changes were applied,
// and it must not call back into the registry.
func NewPresence(report func(online int)) *Presence {
	return &Presence{conns: make(map[string]int), report: report}
}

// MarkOnline adds a reference for identity and reports whether it was the
// first one.
func (p *Presence) MarkOnline(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conns[identity]++
	first := p.conns[identity] == 1
	if first && p.report != nil {
		p.report(len(p.conns))
	}
	return first
}

// MarkOffline drops a reference for identity and reports whether it was the
// last one. Unknown identities are ignored.
func (p *Presence) MarkOffline(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	count, ok := p.conns[identity]
	if !ok {
		return false
	}
	last := count <= 1
	if last {
		delete(p.conns, identity)
		if p.report != nil {
			p.report(len(p.conns))
		}
	} else {
		p.conns[identity] = count - 1
	}
	return last
}

// IsOnline reports whether identity has at least one live session.
func (p *Presence) IsOnline(identity string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conns[identity] > 0
}

// Online returns the online identities in sorted order.
func (p *Presence) Online() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.conns))
	for identity := range p.conns {
		out = append(out, identity)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}
