package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type presenceRecorder struct {
	mu     sync.Mutex
	events []string // "user:online" / "user:offline"
}

func (p *presenceRecorder) record(userID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if online {
		p.events = append(p.events, userID+":online")
	} else {
		p.events = append(p.events, userID+":offline")
	}
}

func (p *presenceRecorder) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	copy(out, p.events)
	return out
}

func newTestRegistry(t *testing.T, conf RegistryConf) *Registry {
	t.Helper()
	if conf.SweepEvery == 0 {
		conf.SweepEvery = time.Hour // 测试里手动 sweepOnce
	}
	r := NewRegistry(conf)
	t.Cleanup(r.Close)
	return r
}

func testClient(connID string) *Client {
	return NewClient(connID, nil, 8)
}

func TestRegistryBindReportsOnlineOnce(t *testing.T) {
	rec := &presenceRecorder{}
	r := newTestRegistry(t, RegistryConf{})
	r.SetPresenceFunc(rec.record)

	c1 := testClient("c1")
	c2 := testClient("c2")
	require.NoError(t, r.AddUnbound(c1))
	require.NoError(t, r.AddUnbound(c2))
	require.False(t, r.IsOnline("alice"))

	require.NoError(t, r.Bind("c1", "alice"))
	require.True(t, r.IsOnline("alice"))
	require.Equal(t, []string{"alice:online"}, rec.all())

	// 第二台设备上线不再重复 online
	require.NoError(t, r.Bind("c2", "alice"))
	require.Equal(t, []string{"alice:online"}, rec.all())
	require.Len(t, r.ConnectionsFor("alice"), 2)
}

func TestRegistryBindIdempotentAndConflict(t *testing.T) {
	r := newTestRegistry(t, RegistryConf{})
	c := testClient("c1")
	require.NoError(t, r.AddUnbound(c))

	require.NoError(t, r.Bind("c1", "alice"))
	require.NoError(t, r.Bind("c1", "alice")) // 重复绑定同一用户 no-op

	err := r.Bind("c1", "bob")
	require.Error(t, err)

	require.Error(t, r.Bind("ghost", "alice")) // 未登记的连接
}

func TestRegistryUnregisterReportsOfflineOnLastConn(t *testing.T) {
	rec := &presenceRecorder{}
	r := newTestRegistry(t, RegistryConf{})
	r.SetPresenceFunc(rec.record)

	for _, id := range []string{"c1", "c2"} {
		require.NoError(t, r.AddUnbound(testClient(id)))
		require.NoError(t, r.Bind(id, "alice"))
	}

	r.Unregister("c1")
	require.True(t, r.IsOnline("alice"))
	require.Equal(t, []string{"alice:online"}, rec.all())

	r.Unregister("c2")
	require.False(t, r.IsOnline("alice"))
	require.Equal(t, []string{"alice:online", "alice:offline"}, rec.all())

	// 再注销是 no-op
	require.Nil(t, r.Unregister("c2"))
}

func TestRegistryUnboundConnNeverReportsPresence(t *testing.T) {
	rec := &presenceRecorder{}
	r := newTestRegistry(t, RegistryConf{})
	r.SetPresenceFunc(rec.record)

	c := testClient("c1")
	require.NoError(t, r.AddUnbound(c))
	r.Unregister("c1")
	require.Empty(t, rec.all())
}

func TestRegistryMaxPerUserEvictsOldest(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	var evicted []string
	r := newTestRegistry(t, RegistryConf{MaxPerUser: 2, EvictOldest: true, Clock: clock})
	r.SetExpireFunc(func(c *Client) {
		evicted = append(evicted, c.ConnID)
		r.Unregister(c.ConnID)
		c.Close()
	})

	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, r.AddUnbound(testClient(id)))
		require.NoError(t, r.Bind(id, "alice"))
		now = now.Add(time.Second)
	}

	require.Equal(t, []string{"c1"}, evicted)
	require.Len(t, r.ConnectionsFor("alice"), 2)
	require.Nil(t, r.Get("c1"))
}

func TestRegistryEvictionDoesNotReemitOnline(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	rec := &presenceRecorder{}
	r := newTestRegistry(t, RegistryConf{MaxPerUser: 1, EvictOldest: true, Clock: clock})
	r.SetPresenceFunc(rec.record)
	r.SetExpireFunc(func(c *Client) {
		r.Unregister(c.ConnID)
		c.Close()
	})

	require.NoError(t, r.AddUnbound(testClient("c1")))
	require.NoError(t, r.Bind("c1", "alice"))
	now = now.Add(time.Second)

	// 挤掉唯一旧连接不算一次重新上线
	require.NoError(t, r.AddUnbound(testClient("c2")))
	require.NoError(t, r.Bind("c2", "alice"))
	require.Equal(t, []string{"alice:online"}, rec.all())
	require.True(t, r.IsOnline("alice"))

	r.Unregister("c2")
	require.Equal(t, []string{"alice:online", "alice:offline"}, rec.all())
}

func TestRegistryMaxPerUserRejectsWithoutEviction(t *testing.T) {
	r := newTestRegistry(t, RegistryConf{MaxPerUser: 1})
	require.NoError(t, r.AddUnbound(testClient("c1")))
	require.NoError(t, r.Bind("c1", "alice"))

	require.NoError(t, r.AddUnbound(testClient("c2")))
	require.Error(t, r.Bind("c2", "alice"))
}

func TestRegistrySweepExpiresStaleConns(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	var dropped []string
	r := newTestRegistry(t, RegistryConf{
		UnboundTTL: 30 * time.Second,
		BoundTTL:   5 * time.Minute,
		Clock:      clock,
	})
	r.SetExpireFunc(func(c *Client) {
		dropped = append(dropped, c.ConnID)
		r.Unregister(c.ConnID)
		c.Close()
	})

	require.NoError(t, r.AddUnbound(testClient("stale")))
	require.NoError(t, r.AddUnbound(testClient("bound")))
	require.NoError(t, r.Bind("bound", "alice"))

	// 未绑定连接 TTL 先到；已绑定的还活着
	now = now.Add(time.Minute)
	r.sweepOnce(clock())
	require.Equal(t, []string{"stale"}, dropped)
	require.True(t, r.IsOnline("alice"))

	// 心跳续期让已绑定连接逃过下一轮
	require.NoError(t, r.Heartbeat("bound"))
	now = now.Add(4 * time.Minute)
	r.sweepOnce(clock())
	require.True(t, r.IsOnline("alice"))

	now = now.Add(2 * time.Minute)
	r.sweepOnce(clock())
	require.False(t, r.IsOnline("alice"))
}
