package model

import (
	"time"
)

const (
	ConversationCollection = "conversation"
	ParticipantCollection  = "chat_participant"
)

// Conversation durable 会话记录（direct / group）。
type Conversation struct {
	ID        string    `bson:"_id" json:"id"`
	Type      string    `bson:"type" json:"type"` // direct / group
	Name      string    `bson:"name,omitempty" json:"name,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// Participant 会话参与关系；join-chat 的授权依据。
// 注意区分：房间是实时订阅组，参与表才是 durable 成员名单。
type Participant struct {
	ChatID   string    `bson:"chat_id" json:"chatId"`
	UserID   string    `bson:"user_id" json:"userId"`
	Role     string    `bson:"role,omitempty" json:"role,omitempty"`
	JoinedAt time.Time `bson:"joined_at" json:"joinedAt"`
	LastRead time.Time `bson:"last_read,omitempty" json:"lastRead,omitempty"`
}
