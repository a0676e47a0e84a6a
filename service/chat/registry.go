package chat

import (
	"sync"
	"time"

	errs "RTChat/tools/errs"

	"github.com/gorilla/websocket"
)

// ===== 配置 =====

type RegistryConf struct {
	UnboundTTL  time.Duration    // 握手后尚未 join-user 的连接 TTL
	BoundTTL    time.Duration    // 已绑定用户的连接 TTL（靠心跳续期）
	SweepEvery  time.Duration    // 清理周期
	MaxPerUser  int              // 每用户最大连接数（<=0 不限制）
	EvictOldest bool             // 超限时淘汰最老连接
	Clock       func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *RegistryConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.UnboundTTL <= 0 {
		c.UnboundTTL = 60 * time.Second
	}
	if c.BoundTTL <= 0 {
		c.BoundTTL = 2 * time.Hour
	}
}

type regEntry struct {
	c         *Client
	bound     bool
	ttl       time.Duration
	expireAt  time.Time
	heartbeat time.Time
	createdAt time.Time
}

// Registry tracks live connections per user. A user is online iff their
// connection set is non-empty; the transition is reported through onPresence,
// never through return paths of the write API.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*regEntry            // conn_id -> entry
	byUser map[string]map[string]*regEntry // user -> conn_id -> entry

	conf     RegistryConf
	stopOnce sync.Once
	stopCh   chan struct{}

	onPresence func(userID string, online bool) // 上下线钩子，锁外调用
	onExpire   func(c *Client)                  // 超时/淘汰回调，由 Server 走完整断连清理
}

func NewRegistry(conf RegistryConf) *Registry {
	conf.norm()
	r := &Registry{
		byConn: make(map[string]*regEntry),
		byUser: make(map[string]map[string]*regEntry),
		conf:   conf,
		stopCh: make(chan struct{}),
	}
	go r.sweeper()
	return r
}

func (r *Registry) SetPresenceFunc(f func(userID string, online bool)) { r.onPresence = f }
func (r *Registry) SetExpireFunc(f func(c *Client))                    { r.onExpire = f }

func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.mu.Lock()
	entries := make([]*regEntry, 0, len(r.byConn))
	for _, e := range r.byConn {
		entries = append(entries, e)
	}
	r.byConn = map[string]*regEntry{}
	r.byUser = map[string]map[string]*regEntry{}
	r.mu.Unlock()
	for _, e := range entries {
		e.c.Close()
	}
}

// AddUnbound 握手完成即登记；此时还不知道属于哪个用户。
func (r *Registry) AddUnbound(c *Client) error {
	if c == nil || c.ConnID == "" {
		return errs.ErrArgs.WrapMsg("nil client or empty conn id")
	}
	now := r.conf.Clock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConn[c.ConnID]; exists {
		return errs.ErrArgs.WrapMsg("conn already registered", "conn_id", c.ConnID)
	}
	r.byConn[c.ConnID] = &regEntry{
		c:         c,
		ttl:       r.conf.UnboundTTL,
		expireAt:  now.Add(r.conf.UnboundTTL),
		heartbeat: now,
		createdAt: now,
	}
	return nil
}

// Bind 把连接绑定到用户（join-user）。幂等：重复绑定同一用户是 no-op。
// 用户首条连接上线时触发 presence(online)。
func (r *Registry) Bind(connID, userID string) error {
	if connID == "" || userID == "" {
		return errs.ErrArgs.WrapMsg("conn/user empty")
	}
	now := r.conf.Clock()

	var wentOnline bool
	var evicted *Client

	r.mu.Lock()
	e, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return errs.ErrRecordNotFound.WrapMsg("conn not registered", "conn_id", connID)
	}
	if e.bound && e.c.UserID == userID {
		r.mu.Unlock()
		return nil
	}
	if e.bound && e.c.UserID != userID {
		r.mu.Unlock()
		return errs.ErrNoPermission.WrapMsg("conn already bound to another user", "conn_id", connID)
	}

	// 上线边沿按淘汰前的集合判断：挤掉旧连接不算一次重新上线
	wentOnline = len(r.byUser[userID]) == 0

	if r.conf.MaxPerUser > 0 && len(r.byUser[userID]) >= r.conf.MaxPerUser {
		if !r.conf.EvictOldest {
			r.mu.Unlock()
			return errs.ErrNoPermission.WrapMsg("max connections per user reached", "user_id", userID)
		}
		evicted = r.evictOldestLocked(userID)
	}

	e.bound = true
	e.c.UserID = userID
	e.ttl = r.conf.BoundTTL
	e.expireAt = now.Add(r.conf.BoundTTL)
	e.heartbeat = now
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*regEntry)
	}
	r.byUser[userID][connID] = e
	r.mu.Unlock()

	if evicted != nil && r.onExpire != nil {
		r.onExpire(evicted)
	}
	if wentOnline && r.onPresence != nil {
		r.onPresence(userID, true)
	}
	return nil
}

// Unregister 移除连接；用户最后一条连接断开时触发 presence(offline)。
// 房间与 typing 的级联清理由上层（Server）在同一断连路径完成。
func (r *Registry) Unregister(connID string) *Client {
	if connID == "" {
		return nil
	}
	r.mu.Lock()
	e, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.byConn, connID)

	var wentOffline bool
	userID := e.c.UserID
	if e.bound && userID != "" {
		if mm := r.byUser[userID]; mm != nil {
			delete(mm, connID)
			if len(mm) == 0 {
				delete(r.byUser, userID)
				wentOffline = true
			}
		}
	}
	r.mu.Unlock()

	if wentOffline && r.onPresence != nil {
		r.onPresence(userID, false)
	}
	return e.c
}

// ConnectionsFor 只读查询：该用户当前所有连接。
func (r *Registry) ConnectionsFor(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mm := r.byUser[userID]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(mm))
	for _, e := range mm {
		out = append(out, e.c)
	}
	return out
}

func (r *Registry) Get(connID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byConn[connID]; ok {
		return e.c
	}
	return nil
}

// IsOnline 判定：连接集合非空即在线。
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// AllClients 遍历所有连接（广播 user-status-changed 时用）。
func (r *Registry) AllClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.byConn))
	for _, e := range r.byConn {
		out = append(out, e.c)
	}
	return out
}

// Heartbeat 刷新心跳与到期时间。
func (r *Registry) Heartbeat(connID string) error {
	now := r.conf.Clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byConn[connID]
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("conn not registered", "conn_id", connID)
	}
	e.heartbeat = now
	e.expireAt = now.Add(e.ttl)
	return nil
}

// AttachPongHandler 绑定 gorilla 的 PongHandler，pong 即心跳续期。
func (r *Registry) AttachPongHandler(ws *websocket.Conn, connID string, readTimeout time.Duration) {
	if ws == nil || connID == "" {
		return
	}
	ws.SetPongHandler(func(string) error {
		_ = r.Heartbeat(connID) // 连接可能刚好被清理，忽略
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
}

// ===== 清理协程 =====

func (r *Registry) sweeper() {
	t := time.NewTicker(r.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C:
			r.sweepOnce(r.conf.Clock())
		}
	}
}

func (r *Registry) sweepOnce(now time.Time) {
	var expired []*Client
	r.mu.RLock()
	for _, e := range r.byConn {
		if now.After(e.expireAt) {
			expired = append(expired, e.c)
		}
	}
	r.mu.RUnlock()

	// 收集后在锁外走完整断连路径，保证 registry/rooms/typing 一起清掉。
	for _, c := range expired {
		if r.onExpire != nil {
			r.onExpire(c)
		} else {
			r.Unregister(c.ConnID)
			c.Close()
		}
	}
}

// 持锁调用：淘汰该用户最老的一条连接，返回被淘汰的客户端。
func (r *Registry) evictOldestLocked(userID string) *Client {
	mm := r.byUser[userID]
	var oldest *regEntry
	for _, e := range mm {
		if oldest == nil || e.createdAt.Before(oldest.createdAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil
	}
	delete(mm, oldest.c.ConnID)
	delete(r.byConn, oldest.c.ConnID)
	return oldest.c
}
