package ws

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"realtime-chat/internal/observability"
)

// Subscriber receives the events published to the groups it joined.
// Deliver must not block; a returned error disconnects the subscriber.
type Subscriber interface {
	Deliver(payload []byte) error
	Disconnect(reason string)
}

// Bus maintains named groups of subscribers and fans published events out to
// their current members.
type Bus struct {
	groups      map[string]map[Subscriber]struct{}
	memberships map[Subscriber]map[string]struct{}
	mu          sync.RWMutex
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		groups:      make(map[string]map[Subscriber]struct{}),
		memberships: make(map[Subscriber]map[string]struct{}),
	}
}

// Join adds sub to group. Joining twice is a no-op.
func (b *Bus) Join(group string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.groups[group]; !ok {
		b.groups[group] = make(map[Subscriber]struct{})
	}
	b.groups[group][sub] = struct{}{}
	if _, ok := b.memberships[sub]; !ok {
		b.memberships[sub] = make(map[string]struct{})
	}
	b.memberships[sub][group] = struct{}{}
}

// Leave removes sub from group. Leaving a group never joined is a no-op.
func (b *Bus) Leave(group string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(group, sub)
}

// LeaveAll removes sub from every group and returns the groups it left.
func (b *Bus) LeaveAll(sub Subscriber) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	groups := make([]string, 0, len(b.memberships[sub]))
	for group := range b.memberships[sub] {
		groups = append(groups, group)
	}
	for _, group := range groups {
		b.leaveLocked(group, sub)
	}
	return groups
}

func (b *Bus) leaveLocked(group string, sub Subscriber) {
	if subs, ok := b.groups[group]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.groups, group)
		}
	}
	if groups, ok := b.memberships[sub]; ok {
		delete(groups, group)
		if len(groups) == 0 {
			delete(b.memberships, sub)
		}
	}
}

// Size returns the number of subscribers currently in group.
func (b *Bus) Size(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}

// Publish serializes event once and delivers it to every current member of
// group. It returns the number of successful deliveries.
func (b *Bus) Publish(group string, event any) int {
	payload, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).WithField("group", group).Error("bus marshal failed")
		return 0
	}
	return b.PublishRaw(group, payload)
}

// PublishRaw delivers an already serialized payload. A member whose delivery
// fails is removed from the bus and disconnected; the others still receive
// the payload.
func (b *Bus) PublishRaw(group string, payload []byte) int {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.groups[group]))
	for sub := range b.groups[group] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		return 0
	}
	observability.IncBusPublished()

	delivered := 0
	for _, sub := range subs {
		if err := sub.Deliver(payload); err != nil {
			logrus.WithError(err).WithField("group", group).Warn("bus delivery failed, dropping subscriber")
			observability.IncBusDeliveryFailure()
			b.LeaveAll(sub)
			sub.Disconnect(err.Error())
			continue
		}
		delivered++
	}
	return delivered
}
