package registry_test

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sentinal-relay/internal/registry"
	"sentinal-relay/internal/registry/registrytest"
	sentinal_errors "sentinal-relay/pkg/errors"
)

func TestMultiDeviceRegistration(t *testing.T) {
	reg := registry.New()
	alice := uuid.New()
	phone, laptop := registrytest.NewConn(alice), registrytest.NewConn(alice)

	assert.False(t, reg.IsOnline(alice))
	assert.True(t, reg.Register(phone))
	assert.False(t, reg.Register(laptop))
	assert.False(t, reg.Register(laptop), "re-registering is a no-op")
	assert.Equal(t, 2, reg.Count(alice))

	delivered, stale := reg.Send(alice, []byte(`{"type":"pong"}`), nil)
	assert.Equal(t, 2, delivered)
	assert.Empty(t, stale)

	last, removed := reg.Unregister(phone)
	assert.True(t, removed)
	assert.False(t, last)
	assert.True(t, reg.IsOnline(alice))

	last, removed = reg.Unregister(laptop)
	assert.True(t, removed)
	assert.True(t, last)
	assert.False(t, reg.IsOnline(alice))

	_, removed = reg.Unregister(laptop)
	assert.False(t, removed)
}

func TestSendToUnknownUserReachesNobody(t *testing.T) {
	reg := registry.New()
	delivered, stale := reg.Send(uuid.New(), []byte("x"), nil)
	assert.Zero(t, delivered)
	assert.Empty(t, stale)
}

func TestSendReportsStaleConnections(t *testing.T) {
	reg := registry.New()
	bob := uuid.New()
	good, bad := registrytest.NewConn(bob), registrytest.NewConn(bob)
	bad.FailSends()
	reg.Register(good)
	reg.Register(bad)

	delivered, stale := reg.Send(bob, []byte(`{"type":"pong"}`), nil)
	assert.Equal(t, 1, delivered)
	require.Len(t, stale, 1)
	assert.Equal(t, bad.ID(), stale[0].ID())
	assert.ErrorIs(t, stale[0].Err, sentinal_errors.ErrSendBufferFull)
}

func TestSendSkipsHeldConnections(t *testing.T) {
	reg := registry.New()
	bob := uuid.New()
	live, draining := registrytest.NewConn(bob), registrytest.NewConn(bob)
	reg.Register(live)
	reg.Register(draining)

	var held []string
	reached, stale := reg.Send(bob, []byte(`{"type":"pong"}`), func(c registry.Conn) bool {
		if c.ID() == draining.ID() {
			held = append(held, c.ID())
			return true
		}
		return false
	})
	assert.Equal(t, 2, reached)
	assert.Empty(t, stale)
	assert.Equal(t, []string{draining.ID()}, held)
	assert.Len(t, live.Events(), 1)
	assert.Empty(t, draining.Events())
}

func TestGroupsFollowConnectionLifecycle(t *testing.T) {
	reg := registry.New()
	conv := uuid.New()
	a := registrytest.NewConn(uuid.New())
	b := registrytest.NewConn(uuid.New())
	reg.Register(a)
	reg.Register(b)
	reg.Join(a, conv)
	reg.Join(b, conv)

	assert.Len(t, reg.Members(conv), 2)
	assert.True(t, reg.UserInGroup(a.UserID(), conv))
	assert.Equal(t, []uuid.UUID{conv}, reg.Groups(a))

	assert.True(t, reg.Leave(a, conv))
	assert.False(t, reg.Leave(a, conv))
	assert.False(t, reg.InGroup(a, conv))

	reg.Unregister(b)
	assert.Empty(t, reg.Members(conv))
	assert.Empty(t, reg.Groups(b))
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	reg := registry.New()
	user := uuid.New()

	var wg sync.WaitGroup
	var firstCount, lastCount int
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := registrytest.NewConn(user)
			first := reg.Register(c)
			reg.Join(c, user)
			last, _ := reg.Unregister(c)
			mu.Lock()
			if first {
				firstCount++
			}
			if last {
				lastCount++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.False(t, reg.IsOnline(user))
	assert.Equal(t, firstCount, lastCount, "every 0->1 transition has a matching N->0")
	assert.Empty(t, reg.Members(user))
}
