package chat

import (
	"sync"
	"time"
)

// ===== 配置 =====

type TypingConf struct {
	Window time.Duration    // debounce 窗口：最后一次 typing 信号后多久自动停
	Clock  func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *TypingConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Window <= 0 {
		c.Window = 4 * time.Second
	}
}

type typingKey struct {
	chatID string
	userID string
}

type typingState struct {
	userName string
	deadline time.Time
	timer    *time.Timer
}

// TypingCoordinator turns raw keystroke signals into start/stop typing events.
// State machine per (chat,user): Idle -> Typing on the first signal (the only
// edge that broadcasts user-typing), self-loop refreshes the deadline without
// re-broadcasting, Typing -> Idle on explicit stop or deadline expiry.
type TypingCoordinator struct {
	mu     sync.Mutex
	conf   TypingConf
	active map[typingKey]*typingState

	// 到期自动停的广播出口；显式 stop 的广播由调用方完成（需要排除发起连接）。
	onExpire func(chatID, userID string)
}

func NewTypingCoordinator(conf TypingConf) *TypingCoordinator {
	conf.norm()
	return &TypingCoordinator{
		conf:   conf,
		active: make(map[typingKey]*typingState),
	}
}

func (t *TypingCoordinator) SetExpireFunc(f func(chatID, userID string)) { t.onExpire = f }

// Start 记录一次 typing 信号。
// 返回 true 仅在 Idle->Typing 边沿：重复信号只刷新 deadline，避免广播风暴。
func (t *TypingCoordinator) Start(chatID, userID, userName string) bool {
	key := typingKey{chatID: chatID, userID: userID}
	now := t.conf.Clock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.active[key]; ok {
		st.deadline = now.Add(t.conf.Window)
		st.userName = userName
		st.timer.Reset(t.conf.Window)
		return false
	}
	st := &typingState{
		userName: userName,
		deadline: now.Add(t.conf.Window),
	}
	st.timer = time.AfterFunc(t.conf.Window, func() { t.expire(key) })
	t.active[key] = st
	return true
}

// Stop 显式停止；不在 Typing 态是 no-op（返回 false）。
func (t *TypingCoordinator) Stop(chatID, userID string) bool {
	key := typingKey{chatID: chatID, userID: userID}
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.active[key]
	if !ok {
		return false
	}
	st.timer.Stop()
	delete(t.active, key)
	return true
}

// StopAllForUser 断连时强制清掉该用户所有 typing 态，返回受影响的房间。
// 不靠 deadline，杜绝“幽灵输入中”。
func (t *TypingCoordinator) StopAllForUser(userID string) []string {
	t.mu.Lock()
	var chats []string
	for key, st := range t.active {
		if key.userID != userID {
			continue
		}
		st.timer.Stop()
		delete(t.active, key)
		chats = append(chats, key.chatID)
	}
	t.mu.Unlock()
	return chats
}

// IsTyping for tests/diagnostics.
func (t *TypingCoordinator) IsTyping(chatID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[typingKey{chatID: chatID, userID: userID}]
	return ok
}

// expire 定时器路径：显式 stop 之后再触发必须是 no-op（状态已删）。
func (t *TypingCoordinator) expire(key typingKey) {
	now := t.conf.Clock()

	t.mu.Lock()
	st, ok := t.active[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	if now.Before(st.deadline) {
		// 刚被刷新过，按剩余时间重挂
		st.timer.Reset(st.deadline.Sub(now))
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(key.chatID, key.userID)
	}
}
