package model

import (
	"time"
)

const (
	MessageCollection  = "message"
	ReactionCollection = "reaction"
)

// Message 消息落库记录；实时层只透传它的 JSON 形态。
type Message struct {
	ID        string    `bson:"_id" json:"id"`
	ChatID    string    `bson:"chat_id" json:"chatId"`
	SenderID  string    `bson:"sender_id" json:"senderId"`
	Content   string    `bson:"content" json:"content"`
	Type      string    `bson:"type" json:"type"` // text / image / file
	ReplyToID string    `bson:"reply_to_id,omitempty" json:"replyToId,omitempty"`
	MediaURL  string    `bson:"media_url,omitempty" json:"mediaUrl,omitempty"`
	MediaType string    `bson:"media_type,omitempty" json:"mediaType,omitempty"`
	IsDeleted bool      `bson:"is_deleted" json:"isDeleted"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// Reaction 唯一键 (message_id, user_id, emoji)：同键重复添加是开关语义。
type Reaction struct {
	ID        string    `bson:"_id" json:"id"`
	MessageID string    `bson:"message_id" json:"messageId"`
	UserID    string    `bson:"user_id" json:"userId"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}
