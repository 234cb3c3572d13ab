package registry

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/mahaj/pulse/pkg/errs"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	snapshots [][]string
}

func (r *recorder) PresenceChanged(online []string) {
	r.snapshots = append(r.snapshots, online)
}

func TestRegistry_Register_One_User(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	obs := &recorder{}
	registry := New(WithObserver(obs), WithClock(func() time.Time { return at }))

	// Given nobody is connected
	req.Empty(registry.OnlineUserIDs())

	// When a user registers a session
	req.NoError(registry.Register("u1", "s1"))

	// Then the user is routable
	sessionID, ok := registry.Lookup("u1")
	req.True(ok)
	req.Equal("s1", sessionID)
	binding, ok := registry.Binding("u1")
	req.True(ok)
	req.Equal(Binding{UserID: "u1", SessionID: "s1", ConnectedAt: at}, binding)

	// And presence was told
	req.Equal([][]string{{"u1"}}, obs.snapshots)
}

func TestRegistry_Register_Replaces_Binding(t *testing.T) {
	req := require.New(t)
	registry := New()

	// Given a user is bound to a first session
	req.NoError(registry.Register("u1", "s1"))

	// When the same user registers a second session
	req.NoError(registry.Register("u1", "s2"))

	// Then only the newest session is used for routing
	sessionID, ok := registry.Lookup("u1")
	req.True(ok)
	req.Equal("s2", sessionID)
	req.Equal(1, registry.Len())
	req.Equal([]string{"u1"}, registry.OnlineUserIDs())
}

func TestRegistry_Register_Same_Pair_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	calls := 0
	registry := New(WithClock(func() time.Time {
		calls++
		return time.Unix(int64(calls), 0)
	}))

	req.NoError(registry.Register("u1", "s1"))
	first, _ := registry.Binding("u1")

	req.NoError(registry.Register("u1", "s1"))
	second, _ := registry.Binding("u1")

	req.Equal(first, second)
	req.Equal(1, registry.Len())
}

func TestRegistry_Rejects_Empty_Input(t *testing.T) {
	req := require.New(t)
	obs := &recorder{}
	registry := New(WithObserver(obs))

	req.ErrorIs(registry.Register("", "s1"), errs.ErrInvalidArgument)
	req.ErrorIs(registry.Register("u1", ""), errs.ErrInvalidArgument)
	req.ErrorIs(registry.Unregister(""), errs.ErrInvalidArgument)

	// No state change and no presence notification
	req.Empty(registry.OnlineUserIDs())
	req.Empty(obs.snapshots)
}

func TestRegistry_Unregister_Unknown_Session_Is_Noop(t *testing.T) {
	req := require.New(t)
	registry := New()
	req.NoError(registry.Register("u1", "s1"))

	req.NoError(registry.Unregister("ghost"))

	req.Equal([]string{"u1"}, registry.OnlineUserIDs())
}

func TestRegistry_Stale_Unregister_Keeps_Newer_Session(t *testing.T) {
	req := require.New(t)
	registry := New()

	// Given U1 replaced S1 with S2
	req.NoError(registry.Register("U1", "S1"))
	req.NoError(registry.Register("U1", "S2"))

	// When the disconnect of S1 arrives late
	req.NoError(registry.Unregister("S1"))

	// Then U1 is still routed to S2
	sessionID, ok := registry.Lookup("U1")
	req.True(ok)
	req.Equal("S2", sessionID)
}

func TestRegistry_Every_Mutation_Notifies_Observer(t *testing.T) {
	req := require.New(t)
	obs := &recorder{}
	registry := New(WithObserver(obs))

	req.NoError(registry.Register("b", "s1"))
	req.NoError(registry.Register("a", "s2"))
	req.NoError(registry.Unregister("s1"))
	req.NoError(registry.Unregister("s1"))

	req.Equal([][]string{
		{"b"},
		{"a", "b"},
		{"a"},
		{"a"},
	}, obs.snapshots)
}

// The online set always equals the users whose latest register was not
// followed by an unregister of that same session.
func TestRegistry_Online_Set_Matches_Model(t *testing.T) {
	req := require.New(t)
	rnd := rand.New(rand.NewSource(42))
	users := []string{"u1", "u2", "u3", "u4"}
	sessions := []string{"s1", "s2", "s3", "s4", "s5", "s6"}

	for round := 0; round < 50; round++ {
		registry := New()
		latest := map[string]string{} // user -> latest registered session
		owner := map[string]string{}  // session -> user currently bound through it

		for step := 0; step < 200; step++ {
			sessionID := sessions[rnd.Intn(len(sessions))]
			if rnd.Intn(2) == 0 {
				userID := users[rnd.Intn(len(users))]
				req.NoError(registry.Register(userID, sessionID))
				if prev, ok := owner[sessionID]; ok && prev != userID {
					delete(latest, prev)
				}
				if old, ok := latest[userID]; ok && old != sessionID {
					delete(owner, old)
				}
				latest[userID] = sessionID
				owner[sessionID] = userID
				continue
			}
			req.NoError(registry.Unregister(sessionID))
			if userID, ok := owner[sessionID]; ok {
				delete(owner, sessionID)
				if latest[userID] == sessionID {
					delete(latest, userID)
				}
			}
		}

		var expected []string
		for userID, sessionID := range latest {
			expected = append(expected, userID)
			got, ok := registry.Lookup(userID)
			req.True(ok, fmt.Sprintf("round %d user %s", round, userID))
			req.Equal(sessionID, got)
		}
		sort.Strings(expected)
		if expected == nil {
			expected = []string{}
		}
		req.Equal(expected, registry.OnlineUserIDs(), fmt.Sprintf("round %d", round))
	}
}
