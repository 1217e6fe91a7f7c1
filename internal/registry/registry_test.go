package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/look4dennis/stride-notify/internal/notification"
)

// TestRegisterAndLookup verifies basic register/lookup behavior and that
// invalid connections are rejected.
func TestRegisterAndLookup(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(notification.Connection{ID: "c1", UserID: 1, BranchID: 7}))
	require.NoError(t, r.Register(notification.Connection{ID: "c2", UserID: 2, BranchID: 7}))

	assert.Error(t, r.Register(notification.Connection{ID: "", UserID: 1}))
	assert.Error(t, r.Register(notification.Connection{ID: "c3", UserID: 0}))

	assert.Equal(t, 2, r.Count())
	assert.True(t, r.IsOnline(1))
	assert.False(t, r.IsOnline(3))

	conn, ok := r.ByConnectionID("c1")
	require.True(t, ok)
	assert.Equal(t, 1, conn.UserID)

	_, ok = r.ByConnectionID("missing")
	assert.False(t, ok)
}

// TestRegisterOverwrites verifies that re-registering a connection id
// replaces the previous record instead of duplicating it.
func TestRegisterOverwrites(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(notification.Connection{ID: "c1", UserID: 1, BranchID: 7}))
	require.NoError(t, r.Register(notification.Connection{ID: "c1", UserID: 1, BranchID: 9}))

	assert.Equal(t, 1, r.Count())
	conn, ok := r.ByConnectionID("c1")
	require.True(t, ok)
	assert.Equal(t, 9, conn.BranchID)
}

// TestUnregisterIdempotent verifies that unregistering removes the session
// and tolerates duplicate disconnect callbacks.
func TestUnregisterIdempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(notification.Connection{ID: "c1", UserID: 1}))

	r.Unregister("c1")
	r.Unregister("c1") // duplicate callback, no effect
	r.Unregister("never-existed")

	assert.Equal(t, 0, r.Count())
	assert.False(t, r.IsOnline(1))
}

// TestByUserMultipleSessions verifies that a user with several open sessions
// is reported once in OnlineUserIDs but keeps all sessions in ByUser.
func TestByUserMultipleSessions(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(notification.Connection{ID: "tab", UserID: 5}))
	require.NoError(t, r.Register(notification.Connection{ID: "mobile", UserID: 5}))
	require.NoError(t, r.Register(notification.Connection{ID: "other", UserID: 2}))

	assert.Len(t, r.ByUser(5), 2)
	assert.Len(t, r.ByUser(2), 1)
	assert.Empty(t, r.ByUser(9))

	assert.Equal(t, []int{2, 5}, r.OnlineUserIDs())
	assert.Equal(t, 3, r.Count())
}

// TestConcurrentAccess hammers the registry from many goroutines to catch
// races under `go test -race`.
func TestConcurrentAccess(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", n)
			_ = r.Register(notification.Connection{ID: id, UserID: n, BranchID: n % 5})
			_ = r.All()
			_ = r.OnlineUserIDs()
			_ = r.IsOnline(n)
			if n%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Count())
}
