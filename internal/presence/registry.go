// Package presence tracks which identities are currently connected, globally
// and per room. State is in-memory only and lost on restart.
package presence

import (
	"sort"
	"strings"
	"sync"
)

// Identity is an authenticated user reference.
type Identity struct {
	ID       int64
	Username string
}

// Scope addresses a presence set: Global or a room.
type Scope string

// Global is the process-wide online scope.
const Global Scope = "global"

const roomPrefix = "room:"

// Room returns the scope of the room identified by slug.
func Room(slug string) Scope {
	return Scope(roomPrefix + slug)
}

// IsRoom reports whether s is a room scope.
func (s Scope) IsRoom() bool {
	return strings.HasPrefix(string(s), roomPrefix)
}

// Slug returns the room slug of a room scope, or "" for Global.
func (s Scope) Slug() string {
	return strings.TrimPrefix(string(s), roomPrefix)
}

type entry struct {
	identity Identity
	refs     int
}

// Registry maps scopes to the identities present in them.
//
// Presence is reference counted per (scope, identity): a second connection of
// the same identity does not change Count or Members, and the identity stays
// present until its last connection in the scope is evicted.
type Registry struct {
	mu     sync.RWMutex
	scopes map[Scope]map[int64]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[Scope]map[int64]*entry)}
}

// Admit records one more connection of id in scope.
func (r *Registry) Admit(scope Scope, id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.scopes[scope]
	if !ok {
		set = make(map[int64]*entry)
		r.scopes[scope] = set
	}
	if e, ok := set[id.ID]; ok {
		e.refs++
		return
	}
	set[id.ID] = &entry{identity: id, refs: 1}
}

// Evict releases one connection of id in scope. Evicting an absent identity
// is a no-op. Empty room scopes are discarded.
func (r *Registry) Evict(scope Scope, id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.scopes[scope]
	if !ok {
		return
	}
	e, ok := set[id.ID]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(set, id.ID)
	if len(set) == 0 {
		delete(r.scopes, scope)
	}
}

// Count returns the number of distinct identities present in scope.
func (r *Registry) Count(scope Scope) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scopes[scope])
}

// Members returns the identities present in scope ordered by username.
func (r *Registry) Members(scope Scope) []Identity {
	r.mu.RLock()
	set := r.scopes[scope]
	members := make([]Identity, 0, len(set))
	for _, e := range set {
		members = append(members, e.identity)
	}
	r.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		if members[i].Username != members[j].Username {
			return members[i].Username < members[j].Username
		}
		return members[i].ID < members[j].ID
	})
	return members
}

// Usernames returns the usernames present in scope ordered alphabetically.
func (r *Registry) Usernames(scope Scope) []string {
	members := r.Members(scope)
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Username
	}
	return names
}

// Contains reports whether id is present in scope.
func (r *Registry) Contains(scope Scope, id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.scopes[scope][id]
	return ok
}

// Exists reports whether scope currently has an entry at all.
func (r *Registry) Exists(scope Scope) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.scopes[scope]
	return ok
}

// Snapshot returns the distinct-identity count of every active scope.
func (r *Registry) Snapshot() map[Scope]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Scope]int, len(r.scopes))
	for scope, set := range r.scopes {
		out[scope] = len(set)
	}
	return out
}
