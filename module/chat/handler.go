package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"RTChat/logger"
	"RTChat/module/chat/model"
	"RTChat/service/chat"
	"RTChat/service/storage"

	"github.com/gin-gonic/gin"
)

// Store 是请求路径依赖的持久化面，ChatStore 实现它；测试替换为假实现。
type Store interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	InsertMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (added bool, r *model.Reaction, err error)
	MarkRead(ctx context.Context, chatID, userID string, at time.Time) error
	ParticipantIDs(ctx context.Context, chatID string) ([]string, error)
}

// Emitter 是请求路径需要的实时出口；*chat.Server 实现它。
type Emitter interface {
	EmitNewMessage(chatID string, message json.RawMessage, recipientIDs []string)
	EmitReaction(added bool, chatID, messageID string, reaction json.RawMessage)
}

var _ Store = (*ChatStore)(nil)
var _ Emitter = (*chat.Server)(nil)

type Handler struct {
	Store Store
	Emit  Emitter
}

func NewHandler(store Store, emit Emitter) *Handler {
	return &Handler{Store: store, Emit: emit}
}

const reqTimeout = 5 * time.Second

type sendMessageReq struct {
	Content   string `json:"content"`
	Type      string `json:"type"`
	ReplyToID string `json:"replyToId"`
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
}

// HandleSendMessage POST /chats/:chatId/messages
// 先落库，成功后才广播，保证可重放顺序与 durable 记录一致。
func (h *Handler) HandleSendMessage(c *gin.Context) {
	chatID := c.Param("chatId")
	userID := c.GetString("user_id")

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), reqTimeout)
	defer cancel()

	ok, err := h.Store.IsParticipant(ctx, chatID, userID)
	if err != nil {
		logger.Errorf("send message: participant check failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this chat"})
		return
	}

	msg := &model.Message{
		ChatID:    chatID,
		SenderID:  userID,
		Content:   req.Content,
		Type:      req.Type,
		ReplyToID: req.ReplyToID,
		MediaURL:  req.MediaURL,
		MediaType: req.MediaType,
	}
	if err := h.Store.InsertMessage(ctx, msg); err != nil {
		logger.Errorf("send message: insert failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	recipients, err := h.Store.ParticipantIDs(ctx, chatID)
	if err != nil {
		// 消息已落库；通知名单拿不到就只做房间广播
		logger.Warnf("send message: participant list failed: %v", err)
		recipients = nil
	}

	raw, _ := json.Marshal(msg)
	h.Emit.EmitNewMessage(chatID, raw, withoutSelf(recipients, userID))

	c.JSON(http.StatusCreated, msg)
}

type reactionReq struct {
	Emoji string `json:"emoji"`
}

// HandleReaction POST /messages/:messageId/reactions
// 同键重复提交是开关：加了再提交一次就是撤销。
func (h *Handler) HandleReaction(c *gin.Context) {
	messageID := c.Param("messageId")
	userID := c.GetString("user_id")

	var req reactionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Emoji == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emoji is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), reqTimeout)
	defer cancel()

	msg, err := h.Store.GetMessage(ctx, messageID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	ok, err := h.Store.IsParticipant(ctx, msg.ChatID, userID)
	if err != nil || !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this chat"})
		return
	}

	added, reaction, err := h.Store.ToggleReaction(ctx, messageID, userID, req.Emoji)
	if err != nil {
		logger.Errorf("reaction: toggle failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	raw, _ := json.Marshal(reaction)
	h.Emit.EmitReaction(added, msg.ChatID, messageID, raw)

	c.JSON(http.StatusOK, gin.H{"added": added, "reaction": reaction})
}

// HandleMarkRead POST /chats/:chatId/read
// 已读水位落库；message-read 的实时广播由客户端经 ws 事件自己发。
func (h *Handler) HandleMarkRead(c *gin.Context) {
	chatID := c.Param("chatId")
	userID := c.GetString("user_id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), reqTimeout)
	defer cancel()

	ok, err := h.Store.IsParticipant(ctx, chatID, userID)
	if err != nil || !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this chat"})
		return
	}
	if err := h.Store.MarkRead(ctx, chatID, userID, time.Now()); err != nil {
		logger.Errorf("mark read failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatId": chatID, "userId": userID})
}

// HandlePresence GET /presence/:userId
func (h *Handler) HandlePresence(c *gin.Context) {
	userID := c.Param("userId")

	ctx, cancel := context.WithTimeout(c.Request.Context(), reqTimeout)
	defer cancel()

	gateway, online, err := storage.PresenceLookup(ctx, userID)
	if err != nil {
		logger.Errorf("presence lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "online": online, "gateway": gateway})
}

func withoutSelf(ids []string, self string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}
