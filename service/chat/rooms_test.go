package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomJoinLeave(t *testing.T) {
	m := NewRoomManager()
	a := testClient("a")
	b := testClient("b")

	m.Join(a, "chat1")
	m.Join(b, "chat1")
	m.Join(a, "chat2")

	require.True(t, m.Contains("chat1", "a"))
	require.True(t, m.Contains("chat1", "b"))
	require.Len(t, m.MembersOf("chat1"), 2)
	require.Len(t, m.MembersOf("chat2"), 1)

	m.Leave("a", "chat1")
	require.False(t, m.Contains("chat1", "a"))
	require.Len(t, m.MembersOf("chat1"), 1)

	// 不在房间里退出是 no-op
	m.Leave("a", "chat1")
	m.Leave("ghost", "nope")
}

func TestRoomJoinIdempotent(t *testing.T) {
	m := NewRoomManager()
	a := testClient("a")
	m.Join(a, "chat1")
	m.Join(a, "chat1")
	require.Len(t, m.MembersOf("chat1"), 1)
}

func TestRoomLeaveAll(t *testing.T) {
	m := NewRoomManager()
	a := testClient("a")
	b := testClient("b")
	m.Join(a, "chat1")
	m.Join(a, "chat2")
	m.Join(b, "chat1")

	left := m.LeaveAll("a")
	require.ElementsMatch(t, []string{"chat1", "chat2"}, left)
	require.False(t, m.Contains("chat1", "a"))
	require.True(t, m.Contains("chat1", "b"))

	require.Empty(t, m.LeaveAll("a")) // 再清一次什么都没有
}

func TestRoomEmptyRoomsAreCollected(t *testing.T) {
	m := NewRoomManager()
	a := testClient("a")
	m.Join(a, "chat1")
	m.Join(a, "chat2")
	require.Equal(t, 2, m.RoomCount())

	m.LeaveAll("a")
	require.Equal(t, 0, m.RoomCount())
	require.Nil(t, m.MembersOf("chat1"))
}
