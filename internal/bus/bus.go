// Package bus implements the group-addressed broadcast bus. Groups are named
// channels; publishing delivers an event to every subscriber joined at that
// moment. Delivery is fire-and-forget.
package bus

import (
	"context"
	"sync"

	"github.com/Tyrowin/gochat-rooms/internal/logging"
	"github.com/Tyrowin/gochat-rooms/internal/metrics"
	"github.com/Tyrowin/gochat-rooms/internal/protocol"
)

// Subscriber receives events from the groups it joined.
//
// Deliver must not block: it either queues the event and returns true, or
// refuses it and returns false. Close must be idempotent and non-blocking; the
// bus calls it when a delivery is refused and on shutdown.
type Subscriber interface {
	ID() string
	Deliver(ev protocol.Event) bool
	Close()
}

// Bus holds group membership tables.
type Bus struct {
	mu          sync.RWMutex
	groups      map[string]map[Subscriber]struct{}
	memberships map[Subscriber]map[string]struct{}
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		groups:      make(map[string]map[Subscriber]struct{}),
		memberships: make(map[Subscriber]map[string]struct{}),
	}
}

// Join adds sub to group. Joining twice is a no-op.
func (b *Bus) Join(group string, sub Subscriber) {
	if sub == nil {
		logging.Warn().Str("group", group).Msg("ignoring nil subscriber join")
		return
	}

	b.mu.Lock()
	members, ok := b.groups[group]
	if !ok {
		members = make(map[Subscriber]struct{})
		b.groups[group] = members
	}
	members[sub] = struct{}{}

	joined, ok := b.memberships[sub]
	if !ok {
		joined = make(map[string]struct{})
		b.memberships[sub] = joined
	}
	joined[group] = struct{}{}
	size := len(members)
	groupCount := len(b.groups)
	b.mu.Unlock()

	metrics.BusGroups.Set(float64(groupCount))
	logging.Debug().Str("group", group).Str("conn_id", sub.ID()).Int("members", size).Msg("joined group")
}

// Leave removes sub from group. A group is forgotten when its last subscriber
// leaves.
func (b *Bus) Leave(group string, sub Subscriber) {
	b.mu.Lock()
	b.leaveLocked(group, sub)
	groupCount := len(b.groups)
	b.mu.Unlock()

	metrics.BusGroups.Set(float64(groupCount))
}

// LeaveAll removes sub from every group it joined.
func (b *Bus) LeaveAll(sub Subscriber) {
	b.mu.Lock()
	for group := range b.memberships[sub] {
		b.leaveLocked(group, sub)
	}
	groupCount := len(b.groups)
	b.mu.Unlock()

	metrics.BusGroups.Set(float64(groupCount))
}

// leaveLocked must be called with mu held.
func (b *Bus) leaveLocked(group string, sub Subscriber) {
	if members, ok := b.groups[group]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(b.groups, group)
		}
	}
	if joined, ok := b.memberships[sub]; ok {
		delete(joined, group)
		if len(joined) == 0 {
			delete(b.memberships, sub)
		}
	}
}

// Publish delivers ev to every subscriber currently joined to group and
// returns how many accepted it. Refused deliveries close the subscriber and
// are otherwise not reported.
func (b *Bus) Publish(group string, ev protocol.Event) int {
	subscribers := b.snapshot(group)
	metrics.BusPublished.WithLabelValues(ev.Kind.String()).Inc()

	delivered := 0
	for _, sub := range subscribers {
		if sub.Deliver(ev) {
			delivered++
			continue
		}
		metrics.BusDeliveriesFailed.Inc()
		logging.Warn().
			Str("group", group).
			Str("conn_id", sub.ID()).
			Str("kind", ev.Kind.String()).
			Msg("subscriber refused event; closing")
		sub.Close()
	}
	return delivered
}

// snapshot returns the subscribers of group at this instant.
func (b *Bus) snapshot(group string) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	members := b.groups[group]
	subs := make([]Subscriber, 0, len(members))
	for sub := range members {
		subs = append(subs, sub)
	}
	return subs
}

// Size returns the number of subscribers joined to group.
func (b *Bus) Size(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}

// Subscribers returns the number of distinct subscribers across all groups.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.memberships)
}

// Run blocks until ctx is done, then closes every subscriber so that their
// own teardown runs. It implements suture.Service through Serve.
func (b *Bus) Run(ctx context.Context) error {
	<-ctx.Done()

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.memberships))
	for sub := range b.memberships {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.Close()
	}
	logging.Info().Int("subscribers_closed", len(subs)).Msg("broadcast bus stopped")
	return ctx.Err()
}

// Serve implements suture.Service.
func (b *Bus) Serve(ctx context.Context) error {
	return b.Run(ctx)
}

func (b *Bus) String() string {
	return "broadcast-bus"
}
