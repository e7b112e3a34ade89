package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	alice = Identity{ID: 1, Username: "alice"}
	bob   = Identity{ID: 2, Username: "bob"}
)

func TestScopeHelpers(t *testing.T) {
	s := Room("general")
	require.Equal(t, Scope("room:general"), s)
	require.True(t, s.IsRoom())
	require.Equal(t, "general", s.Slug())
	require.False(t, Global.IsRoom())
}

func TestRoomScopeDiscardedWhenEmpty(t *testing.T) {
	r := NewRegistry()
	scope := Room("r")

	r.Admit(scope, alice)
	r.Admit(scope, bob)
	require.Equal(t, 2, r.Count(scope))

	r.Evict(scope, alice)
	r.Evict(scope, bob)
	require.Equal(t, 0, r.Count(scope))
	require.False(t, r.Exists(scope))
	require.Empty(t, r.Snapshot())
}

func TestEvictAbsentIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Evict(Global, alice)
	require.Equal(t, 0, r.Count(Global))

	r.Admit(Global, bob)
	r.Evict(Global, alice)
	r.Evict(Global, alice)
	require.Equal(t, 1, r.Count(Global))
	require.Equal(t, []string{"bob"}, r.Usernames(Global))
}

func TestSecondSessionKeepsIdentityPresent(t *testing.T) {
	r := NewRegistry()
	scope := Room("general")

	r.Admit(scope, alice)
	r.Admit(scope, alice)
	require.Equal(t, 1, r.Count(scope))

	r.Evict(scope, alice)
	require.True(t, r.Contains(scope, alice.ID))

	r.Evict(scope, alice)
	require.False(t, r.Contains(scope, alice.ID))
	require.False(t, r.Exists(scope))
}

func TestMembersSortedByUsername(t *testing.T) {
	r := NewRegistry()
	r.Admit(Global, bob)
	r.Admit(Global, alice)

	require.Equal(t, []Identity{alice, bob}, r.Members(Global))
	require.Equal(t, []string{"alice", "bob"}, r.Usernames(Global))
}

func TestConcurrentAdmitEvict(t *testing.T) {
	r := NewRegistry()
	scope := Room("busy")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := Identity{ID: int64(i), Username: fmt.Sprintf("user%02d", i)}
			r.Admit(scope, id)
			_ = r.Members(scope)
			r.Evict(scope, id)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, r.Count(scope))
	require.False(t, r.Exists(scope))
}
