package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeMembership 内存参与表，替代 mongo。
type fakeMembership struct {
	mu      sync.Mutex
	members map[string]map[string]bool // chat_id -> user_id
	err     error
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{members: make(map[string]map[string]bool)}
}

func (f *fakeMembership) add(chatID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[chatID] == nil {
		f.members[chatID] = make(map[string]bool)
	}
	f.members[chatID][userID] = true
}

func (f *fakeMembership) IsParticipant(_ context.Context, chatID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.members[chatID][userID], nil
}

func newTestServer(t *testing.T, store MembershipStore) *Server {
	t.Helper()
	s := NewServer(ServerConf{
		GatewayID:     "rt_gw-test",
		FanoutWorkers: 0, // 同步投递，断言无需等待
		Registry:      RegistryConf{SweepEvery: time.Hour},
		Typing:        TypingConf{Window: time.Minute},
	}, store)
	t.Cleanup(s.Close)
	return s
}

// connect 握手+join-user 一步到位，并清掉由此产生的广播帧。
func connect(t *testing.T, s *Server, connID, userID string) *Client {
	t.Helper()
	c := testClient(connID)
	c.AuthUserID = userID
	c.UserName = userID
	require.NoError(t, s.Reg().AddUnbound(c))
	require.NoError(t, s.DispatchFrame(frame(EvtJoinUser, `{"userId":"`+userID+`"}`), c))
	for _, other := range s.Reg().AllClients() {
		drain(other)
	}
	return c
}

func frame(event, data string) *EventFrame {
	return &EventFrame{Event: event, Data: json.RawMessage(data)}
}

// recvEvent 取一帧并断言事件名。
func recvEvent(t *testing.T, c *Client, event string) json.RawMessage {
	t.Helper()
	select {
	case raw := <-c.Send:
		f, err := ParseFrameJSON(raw)
		require.NoError(t, err)
		require.Equal(t, event, f.Event)
		return f.Data
	default:
		t.Fatalf("conn %s: expected %q frame, queue empty", c.ConnID, event)
		return nil
	}
}

// waitEvent 阻塞版 recvEvent：等定时器驱动的广播用。
func waitEvent(t *testing.T, c *Client, event string) json.RawMessage {
	t.Helper()
	select {
	case raw := <-c.Send:
		f, err := ParseFrameJSON(raw)
		require.NoError(t, err)
		require.Equal(t, event, f.Event)
		return f.Data
	case <-time.After(2 * time.Second):
		t.Fatalf("conn %s: timed out waiting for %q frame", c.ConnID, event)
		return nil
	}
}

func requireEmpty(t *testing.T, c *Client) {
	t.Helper()
	require.Empty(t, drain(c), "conn %s should not have received frames", c.ConnID)
}

// ---- join-user ----

func TestJoinUserBindsAndJoinsPersonalRoom(t *testing.T) {
	s := newTestServer(t, newFakeMembership())
	c := testClient("c1")
	c.AuthUserID = "alice"
	require.NoError(t, s.Reg().AddUnbound(c))

	require.NoError(t, s.DispatchFrame(frame(EvtJoinUser, `{"userId":"alice"}`), c))

	require.True(t, s.Reg().IsOnline("alice"))
	require.True(t, s.Rooms().Contains("alice", "c1"))

	// 上线被全员广播（含自己）
	data := recvEvent(t, c, EvtUserStatusChanged)
	var ev UserStatusEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, "alice", ev.UserID)
	require.True(t, ev.IsOnline)
}

func TestJoinUserRejectsIdentityMismatch(t *testing.T) {
	s := newTestServer(t, newFakeMembership())
	c := testClient("c1")
	c.AuthUserID = "alice"
	require.NoError(t, s.Reg().AddUnbound(c))

	err := s.DispatchFrame(frame(EvtJoinUser, `{"userId":"mallory"}`), c)
	require.Error(t, err)
	require.False(t, s.Reg().IsOnline("mallory"))
	require.False(t, s.Reg().IsOnline("alice"))
}

func TestJoinUserMissingIDIsError(t *testing.T) {
	s := newTestServer(t, newFakeMembership())
	c := testClient("c1")
	require.NoError(t, s.Reg().AddUnbound(c))
	require.Error(t, s.DispatchFrame(frame(EvtJoinUser, `{}`), c))
}

// ---- join-chat / leave-chat ----

func TestJoinChatRequiresParticipation(t *testing.T) {
	store := newFakeMembership()
	store.add("chat1", "alice")
	s := newTestServer(t, store)
	alice := connect(t, s, "c1", "alice")
	bob := connect(t, s, "c2", "bob")

	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), alice))
	require.True(t, s.Rooms().Contains("chat1", "c1"))

	// 非参与者被拒，房间不变
	err := s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), bob)
	require.Error(t, err)
	require.False(t, s.Rooms().Contains("chat1", "c2"))
}

func TestJoinChatStoreFailureIsInternalError(t *testing.T) {
	store := newFakeMembership()
	store.err = context.DeadlineExceeded
	s := newTestServer(t, store)
	alice := connect(t, s, "c1", "alice")

	err := s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), alice)
	require.Error(t, err)
	require.False(t, s.Rooms().Contains("chat1", "c1"))
}

func TestLeaveChat(t *testing.T) {
	store := newFakeMembership()
	store.add("chat1", "alice")
	s := newTestServer(t, store)
	alice := connect(t, s, "c1", "alice")

	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), alice))
	require.NoError(t, s.DispatchFrame(frame(EvtLeaveChat, `{"chatId":"chat1"}`), alice))
	require.False(t, s.Rooms().Contains("chat1", "c1"))
}

// ---- send-message ----

func TestSendMessageFansOutToRoomAndRecipients(t *testing.T) {
	store := newFakeMembership()
	for _, u := range []string{"alice", "bob"} {
		store.add("chat1", u)
	}
	s := newTestServer(t, store)

	var journaled [][]byte
	s.SetJournal(func(chatID string, msg []byte) {
		require.Equal(t, "chat1", chatID)
		journaled = append(journaled, msg)
	})

	alice := connect(t, s, "c1", "alice")
	bobInRoom := connect(t, s, "c2", "bob")
	bobPhone := connect(t, s, "c3", "bob") // 第二台设备不进房间

	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), alice))
	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), bobInRoom))

	payload := `{"chatId":"chat1","message":{"id":"m1","chatId":"chat1","senderId":"alice","content":"hi"},"recipientIds":["bob"]}`
	require.NoError(t, s.DispatchFrame(frame(EvtSendMessage, payload), alice))

	// 房间成员（含发送者的连接）拿到 new-message
	recvEvent(t, alice, EvtNewMessage)
	recvEvent(t, bobInRoom, EvtNewMessage)

	// bob 的两台设备都拿到 message-notification
	recvEvent(t, bobInRoom, EvtMessageNotification)
	recvEvent(t, bobPhone, EvtMessageNotification)
	requireEmpty(t, bobPhone)

	require.Len(t, journaled, 1)
	require.Contains(t, string(journaled[0]), `"m1"`)
}

func TestSendMessageMissingChatIsError(t *testing.T) {
	s := newTestServer(t, newFakeMembership())
	alice := connect(t, s, "c1", "alice")
	require.Error(t, s.DispatchFrame(frame(EvtSendMessage, `{"message":{"id":"m1"}}`), alice))
}

// ---- mark-read ----

func TestMarkReadExcludesSenderConn(t *testing.T) {
	store := newFakeMembership()
	store.add("chat1", "alice")
	store.add("chat1", "bob")
	s := newTestServer(t, store)
	alice := connect(t, s, "c1", "alice")
	bob := connect(t, s, "c2", "bob")
	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), alice))
	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), bob))

	require.NoError(t, s.DispatchFrame(frame(EvtMarkRead, `{"messageId":"m1","chatId":"chat1","userId":"bob"}`), bob))

	data := recvEvent(t, alice, EvtMessageRead)
	var ev MessageReadEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, "m1", ev.MessageID)
	require.Equal(t, "bob", ev.UserID)
	requireEmpty(t, bob)
}

// ---- reactions ----

func TestReactionEventsReachWholeRoom(t *testing.T) {
	store := newFakeMembership()
	store.add("chat1", "alice")
	store.add("chat1", "bob")
	s := newTestServer(t, store)
	alice := connect(t, s, "c1", "alice")
	bob := connect(t, s, "c2", "bob")
	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), alice))
	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), bob))

	add := `{"messageId":"m1","chatId":"chat1","reaction":{"emoji":"👍","userId":"bob"}}`
	require.NoError(t, s.DispatchFrame(frame(EvtAddReaction, add), bob))
	// 反应连发起者自己的连接也要收到（前端靠它确认）
	recvEvent(t, alice, EvtReactionAdded)
	recvEvent(t, bob, EvtReactionAdded)

	rm := `{"messageId":"m1","chatId":"chat1","reaction":{"emoji":"👍","userId":"bob"}}`
	require.NoError(t, s.DispatchFrame(frame(EvtRemoveReaction, rm), bob))
	recvEvent(t, alice, EvtReactionRemoved)
	recvEvent(t, bob, EvtReactionRemoved)
}

// ---- typing ----

func TestTypingDebounceOverWire(t *testing.T) {
	store := newFakeMembership()
	store.add("chat1", "alice")
	store.add("chat1", "bob")
	s := newTestServer(t, store)
	alice := connect(t, s, "c1", "alice")
	bob := connect(t, s, "c2", "bob")
	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), alice))
	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), bob))

	typing := `{"chatId":"chat1","userId":"alice","userName":"Alice"}`
	require.NoError(t, s.DispatchFrame(frame(EvtTyping, typing), alice))
	require.NoError(t, s.DispatchFrame(frame(EvtTyping, typing), alice))
	require.NoError(t, s.DispatchFrame(frame(EvtTyping, typing), alice))

	// 三次信号只有一次广播，发起连接不收
	data := recvEvent(t, bob, EvtUserTyping)
	var ev UserTypingEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, "Alice", ev.UserName)
	requireEmpty(t, bob)
	requireEmpty(t, alice)

	require.NoError(t, s.DispatchFrame(frame(EvtStopTyping, `{"chatId":"chat1","userId":"alice"}`), alice))
	recvEvent(t, bob, EvtUserStopTyping)
	requireEmpty(t, alice)

	// 已 Idle 再 stop 不发任何东西
	require.NoError(t, s.DispatchFrame(frame(EvtStopTyping, `{"chatId":"chat1","userId":"alice"}`), alice))
	requireEmpty(t, bob)
}

func TestTypingExpiryReachesRoomWithoutExplicitStop(t *testing.T) {
	store := newFakeMembership()
	store.add("chat1", "alice")
	store.add("chat1", "bob")
	s := NewServer(ServerConf{
		GatewayID:     "rt_gw-test",
		FanoutWorkers: 0,
		Registry:      RegistryConf{SweepEvery: time.Hour},
		Typing:        TypingConf{Window: 30 * time.Millisecond},
	}, store)
	t.Cleanup(s.Close)

	alice := connect(t, s, "c1", "alice")
	bob := connect(t, s, "c2", "bob")
	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), alice))
	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), bob))

	// alice 只发 typing，从不发 stop-typing
	require.NoError(t, s.DispatchFrame(frame(EvtTyping, `{"chatId":"chat1","userId":"alice","userName":"Alice"}`), alice))
	recvEvent(t, bob, EvtUserTyping)

	// 窗口过后 bob 自动收到 user-stop-typing
	data := waitEvent(t, bob, EvtUserStopTyping)
	var ev UserStopTypingEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, "alice", ev.UserID)
	require.False(t, s.Typing().IsTyping("chat1", "alice"))
	requireEmpty(t, bob) // 到期只停一次
}

// ---- update-status ----

func TestUpdateStatusBroadcastsToOthers(t *testing.T) {
	s := newTestServer(t, newFakeMembership())
	alice := connect(t, s, "c1", "alice")
	bob := connect(t, s, "c2", "bob")

	require.NoError(t, s.DispatchFrame(frame(EvtUpdateStatus, `{"userId":"alice","isOnline":false}`), alice))
	data := recvEvent(t, bob, EvtUserStatusChanged)
	var ev UserStatusEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, "alice", ev.UserID)
	require.False(t, ev.IsOnline)
	requireEmpty(t, alice)
}

// ---- 断连级联 ----

func TestDropConnectionCleansEverything(t *testing.T) {
	store := newFakeMembership()
	store.add("chat1", "alice")
	store.add("chat1", "bob")
	s := newTestServer(t, store)
	alice := connect(t, s, "c1", "alice")
	bob := connect(t, s, "c2", "bob")
	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), alice))
	require.NoError(t, s.DispatchFrame(frame(EvtJoinChat, `{"chatId":"chat1"}`), bob))

	// alice 正在输入时直接断线
	require.NoError(t, s.DispatchFrame(frame(EvtTyping, `{"chatId":"chat1","userId":"alice","userName":"Alice"}`), alice))
	recvEvent(t, bob, EvtUserTyping)

	s.DropConnection(alice)

	// 幽灵 typing 被强制停掉
	recvEvent(t, bob, EvtUserStopTyping)
	require.False(t, s.Typing().IsTyping("chat1", "alice"))

	// 房间、registry、presence 一起清
	require.False(t, s.Rooms().Contains("chat1", "c1"))
	require.False(t, s.Reg().IsOnline("alice"))
	data := recvEvent(t, bob, EvtUserStatusChanged)
	var ev UserStatusEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, "alice", ev.UserID)
	require.False(t, ev.IsOnline)

	// 再 drop 一次是 no-op
	s.DropConnection(alice)
	requireEmpty(t, bob)
}

func TestDropConnectionKeepsUserOnlineWithOtherDevices(t *testing.T) {
	s := newTestServer(t, newFakeMembership())
	phone := connect(t, s, "c1", "alice")
	_ = connect(t, s, "c2", "alice")

	s.DropConnection(phone)
	require.True(t, s.Reg().IsOnline("alice"))
}

// ---- 未知事件 ----

func TestUnknownEventIsError(t *testing.T) {
	s := newTestServer(t, newFakeMembership())
	alice := connect(t, s, "c1", "alice")
	require.Error(t, s.DispatchFrame(frame("no-such-event", `{}`), alice))
}
