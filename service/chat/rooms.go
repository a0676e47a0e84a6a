package chat

import (
	"sync"
)

// RoomManager maps a chat id to the set of connections currently subscribed.
// It does no authorization of its own: the router must have confirmed chat
// participation against storage before calling Join.
type RoomManager struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]*Client  // chat_id -> conn_id -> client
	byConn map[string]map[string]struct{} // conn_id -> chat_id 反查，断连时整组退出
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		byRoom: make(map[string]map[string]*Client),
		byConn: make(map[string]map[string]struct{}),
	}
}

func (m *RoomManager) Join(c *Client, chatID string) {
	if c == nil || chatID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	room := m.byRoom[chatID]
	if room == nil {
		room = make(map[string]*Client)
		m.byRoom[chatID] = room
	}
	room[c.ConnID] = c
	joined := m.byConn[c.ConnID]
	if joined == nil {
		joined = make(map[string]struct{})
		m.byConn[c.ConnID] = joined
	}
	joined[chatID] = struct{}{}
}

// Leave 不在房间里是 no-op；空房间随手回收。
func (m *RoomManager) Leave(connID, chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(connID, chatID)
}

// LeaveAll 把连接从它加入过的所有房间移除，返回这些房间ID。
func (m *RoomManager) LeaveAll(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	joined := m.byConn[connID]
	if len(joined) == 0 {
		delete(m.byConn, connID)
		return nil
	}
	out := make([]string, 0, len(joined))
	for chatID := range joined {
		out = append(out, chatID)
	}
	for _, chatID := range out {
		m.leaveLocked(connID, chatID)
	}
	return out
}

// MembersOf 当前订阅该房间的连接快照。
func (m *RoomManager) MembersOf(chatID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room := m.byRoom[chatID]
	if len(room) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

func (m *RoomManager) Contains(chatID, connID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room := m.byRoom[chatID]
	if room == nil {
		return false
	}
	_, ok := room[connID]
	return ok
}

// RoomCount for debugging/statistics.
func (m *RoomManager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byRoom)
}

func (m *RoomManager) leaveLocked(connID, chatID string) {
	if room := m.byRoom[chatID]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(m.byRoom, chatID)
		}
	}
	if joined := m.byConn[connID]; joined != nil {
		delete(joined, chatID)
		if len(joined) == 0 {
			delete(m.byConn, connID)
		}
	}
}
