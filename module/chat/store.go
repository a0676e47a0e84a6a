package chat

import (
	"context"
	"time"

	"RTChat/module/chat/model"
	"RTChat/tools/errs"
	"RTChat/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ChatStore 持久化协作方：参与关系校验 + 消息/反应 CRUD。
// 实时层通过它的窄接口访问，自己绝不落库。
type ChatStore struct {
	ConvColl  *mongo.Collection
	PartColl  *mongo.Collection
	MsgColl   *mongo.Collection
	ReactColl *mongo.Collection
}

func NewChatStore(db *mongo.Database) *ChatStore {
	return &ChatStore{
		ConvColl:  db.Collection(model.ConversationCollection),
		PartColl:  db.Collection(model.ParticipantCollection),
		MsgColl:   db.Collection(model.MessageCollection),
		ReactColl: db.Collection(model.ReactionCollection),
	}
}

// IsParticipant 用户是否在会话的 durable 成员名单里。
func (s *ChatStore) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	if chatID == "" || userID == "" {
		return false, nil
	}
	n, err := s.PartColl.CountDocuments(ctx, bson.M{"chat_id": chatID, "user_id": userID})
	if err != nil {
		return false, errs.WrapMsg(err, "count participant", "chat_id", chatID, "user_id", userID)
	}
	return n > 0, nil
}

// InsertMessage 落库一条消息；ID 为空则生成。
func (s *ChatStore) InsertMessage(ctx context.Context, m *model.Message) error {
	if m.ChatID == "" || m.SenderID == "" || m.Content == "" {
		return errs.ErrArgs.WrapMsg("message missing chat/sender/content")
	}
	if m.ID == "" {
		m.ID = ids.GenerateString()
	}
	if m.Type == "" {
		m.Type = "text"
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if _, err := s.MsgColl.InsertOne(ctx, m); err != nil {
		return errs.WrapMsg(err, "insert message", "chat_id", m.ChatID)
	}
	return nil
}

// GetMessage 取单条消息（用来把 reaction 挂回所属会话）。
func (s *ChatStore) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	var m model.Message
	err := s.MsgColl.FindOne(ctx, bson.M{"_id": messageID, "is_deleted": false}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WrapMsg("message not found", "message_id", messageID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find message", "message_id", messageID)
	}
	return &m, nil
}

// ToggleReaction 开关语义：同 (message,user,emoji) 已存在则删除并返回 added=false；
// 不存在则插入并返回 added=true。重复添加不会产生第二条记录。
func (s *ChatStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (added bool, r *model.Reaction, err error) {
	if messageID == "" || userID == "" || emoji == "" {
		return false, nil, errs.ErrArgs.WrapMsg("reaction missing message/user/emoji")
	}
	key := bson.M{"message_id": messageID, "user_id": userID, "emoji": emoji}

	var existing model.Reaction
	ferr := s.ReactColl.FindOne(ctx, key).Decode(&existing)
	switch ferr {
	case nil:
		if _, err := s.ReactColl.DeleteOne(ctx, bson.M{"_id": existing.ID}); err != nil {
			return false, nil, errs.WrapMsg(err, "delete reaction", "message_id", messageID)
		}
		return false, &existing, nil
	case mongo.ErrNoDocuments:
		nr := &model.Reaction{
			ID:        ids.GenerateString(),
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
			CreatedAt: time.Now(),
		}
		if _, err := s.ReactColl.InsertOne(ctx, nr); err != nil {
			return false, nil, errs.WrapMsg(err, "insert reaction", "message_id", messageID)
		}
		return true, nr, nil
	default:
		return false, nil, errs.WrapMsg(ferr, "find reaction", "message_id", messageID)
	}
}

// MarkRead 更新参与记录的已读水位；读时间戳归存储层管。
func (s *ChatStore) MarkRead(ctx context.Context, chatID, userID string, at time.Time) error {
	_, err := s.PartColl.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "user_id": userID},
		bson.M{"$set": bson.M{"last_read": at}},
	)
	if err != nil {
		return errs.WrapMsg(err, "mark read", "chat_id", chatID, "user_id", userID)
	}
	return nil
}

// ParticipantIDs 会话所有成员（请求路径算 recipientIds 用）。
func (s *ChatStore) ParticipantIDs(ctx context.Context, chatID string) ([]string, error) {
	cur, err := s.PartColl.Find(ctx, bson.M{"chat_id": chatID})
	if err != nil {
		return nil, errs.WrapMsg(err, "find participants", "chat_id", chatID)
	}
	defer cur.Close(ctx)
	var out []string
	for cur.Next(ctx) {
		var p model.Participant
		if err := cur.Decode(&p); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, p.UserID)
	}
	return out, errs.Wrap(cur.Err())
}
