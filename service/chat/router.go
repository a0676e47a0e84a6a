package chat

import (
	"context"
	"time"

	"RTChat/logger"
	errs "RTChat/tools/errs"
)

// 入站事件 -> 状态变更 -> 广播 的各个处理器。
// 处理器本身无状态，共享状态只通过 Registry / RoomManager / TypingCoordinator
// 的窄接口改动，绝不碰持久化存储——落库永远发生在请求路径里。

func (s *Server) registerHandlers() {
	s.disp.Register(joinUserHandler{})
	s.disp.Register(joinChatHandler{})
	s.disp.Register(leaveChatHandler{})
	s.disp.Register(sendMessageHandler{})
	s.disp.Register(markReadHandler{})
	s.disp.Register(addReactionHandler{})
	s.disp.Register(removeReactionHandler{})
	s.disp.Register(typingHandler{})
	s.disp.Register(stopTypingHandler{})
	s.disp.Register(updateStatusHandler{})
}

const storeTimeout = 3 * time.Second

// ---- join-user ----

type joinUserHandler struct{}

func (joinUserHandler) Event() string { return EvtJoinUser }

func (joinUserHandler) Handle(ctx *ChatContext, f *EventFrame, c *Client) error {
	p, err := DecodePayload[JoinUserPayload](f)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	if p.UserID == "" {
		return errs.ErrArgs.WrapMsg("join-user missing userId")
	}
	// 身份在握手时已验证；声称的 userId 必须与令牌一致
	if c.AuthUserID != "" && p.UserID != c.AuthUserID {
		return errs.ErrNoPermission.WrapMsg("join-user identity mismatch", "claimed", p.UserID)
	}
	if err := ctx.S.reg.Bind(c.ConnID, p.UserID); err != nil {
		return err
	}
	// 个人房间：message-notification 的投递目标
	ctx.S.rooms.Join(c, p.UserID)
	return nil
}

// ---- join-chat / leave-chat ----

type joinChatHandler struct{}

func (joinChatHandler) Event() string { return EvtJoinChat }

func (joinChatHandler) Handle(ctx *ChatContext, f *EventFrame, c *Client) error {
	p, err := DecodePayload[JoinChatPayload](f)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	if p.ChatID == "" {
		return errs.ErrArgs.WrapMsg("join-chat missing chatId")
	}
	// 参与关系必须问存储层，不信客户端
	sctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	ok, err := ctx.S.store.IsParticipant(sctx, p.ChatID, c.AuthUserID)
	if err != nil {
		return errs.ErrInternalServer.WrapMsg("participant check failed", "chat_id", p.ChatID)
	}
	if !ok {
		return errs.ErrNoPermission.WrapMsg("not a participant", "chat_id", p.ChatID)
	}
	ctx.S.rooms.Join(c, p.ChatID)
	return nil
}

type leaveChatHandler struct{}

func (leaveChatHandler) Event() string { return EvtLeaveChat }

func (leaveChatHandler) Handle(ctx *ChatContext, f *EventFrame, c *Client) error {
	p, err := DecodePayload[JoinChatPayload](f)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	ctx.S.rooms.Leave(c.ConnID, p.ChatID)
	return nil
}

// ---- send-message ----

type sendMessageHandler struct{}

func (sendMessageHandler) Event() string { return EvtSendMessage }

func (sendMessageHandler) Handle(ctx *ChatContext, f *EventFrame, c *Client) error {
	p, err := sendMessageDecode(f)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	if p.ChatID == "" || len(p.Message) == 0 {
		return errs.ErrArgs.WrapMsg("send-message missing chatId/message")
	}
	// 消息本体已由请求路径落库，这里只做扇出
	ctx.S.EmitNewMessage(p.ChatID, p.Message, p.RecipientIDs)
	return nil
}

// ---- mark-read ----

type markReadHandler struct{}

func (markReadHandler) Event() string { return EvtMarkRead }

func (markReadHandler) Handle(ctx *ChatContext, f *EventFrame, c *Client) error {
	p, err := DecodePayload[MarkReadPayload](f)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	if p.MessageID == "" || p.ChatID == "" {
		return errs.ErrArgs.WrapMsg("mark-read missing messageId/chatId")
	}
	payload := mustEvent(EvtMessageRead, MessageReadEvent{MessageID: p.MessageID, UserID: p.UserID})
	ctx.S.BroadcastToRoom(p.ChatID, payload, c.ConnID)
	return nil
}

// ---- add-reaction / remove-reaction ----

type addReactionHandler struct{}

func (addReactionHandler) Event() string { return EvtAddReaction }

func (addReactionHandler) Handle(ctx *ChatContext, f *EventFrame, c *Client) error {
	return handleReaction(ctx, f, EvtReactionAdded)
}

type removeReactionHandler struct{}

func (removeReactionHandler) Event() string { return EvtRemoveReaction }

func (removeReactionHandler) Handle(ctx *ChatContext, f *EventFrame, c *Client) error {
	return handleReaction(ctx, f, EvtReactionRemoved)
}

func handleReaction(ctx *ChatContext, f *EventFrame, outEvent string) error {
	p, err := reactionDecode(f)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	if p.MessageID == "" || p.ChatID == "" {
		return errs.ErrArgs.WrapMsg("reaction missing messageId/chatId")
	}
	payload := mustEvent(outEvent, ReactionEvent{MessageID: p.MessageID, Reaction: p.Reaction})
	ctx.S.BroadcastToRoom(p.ChatID, payload, "")
	return nil
}

// ---- typing / stop-typing ----

type typingHandler struct{}

func (typingHandler) Event() string { return EvtTyping }

func (typingHandler) Handle(ctx *ChatContext, f *EventFrame, c *Client) error {
	p, err := DecodePayload[TypingPayload](f)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	if p.ChatID == "" || p.UserID == "" {
		return errs.ErrArgs.WrapMsg("typing missing chatId/userId")
	}
	// 只有 Idle->Typing 边沿广播；重复敲键只刷新 deadline
	if ctx.S.typing.Start(p.ChatID, p.UserID, p.UserName) {
		payload := mustEvent(EvtUserTyping, UserTypingEvent{UserID: p.UserID, UserName: p.UserName})
		ctx.S.BroadcastToRoom(p.ChatID, payload, c.ConnID)
	}
	return nil
}

type stopTypingHandler struct{}

func (stopTypingHandler) Event() string { return EvtStopTyping }

func (stopTypingHandler) Handle(ctx *ChatContext, f *EventFrame, c *Client) error {
	p, err := DecodePayload[StopTypingPayload](f)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	if p.ChatID == "" || p.UserID == "" {
		return errs.ErrArgs.WrapMsg("stop-typing missing chatId/userId")
	}
	// 已经 Idle（比如定时器先到了）就什么都不发
	if ctx.S.typing.Stop(p.ChatID, p.UserID) {
		payload := mustEvent(EvtUserStopTyping, UserStopTypingEvent{UserID: p.UserID})
		ctx.S.BroadcastToRoom(p.ChatID, payload, c.ConnID)
	}
	return nil
}

// ---- update-status ----

type updateStatusHandler struct{}

func (updateStatusHandler) Event() string { return EvtUpdateStatus }

func (updateStatusHandler) Handle(ctx *ChatContext, f *EventFrame, c *Client) error {
	p, err := DecodePayload[UpdateStatusPayload](f)
	if err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	if p.UserID == "" {
		return errs.ErrArgs.WrapMsg("update-status missing userId")
	}
	payload := mustEvent(EvtUserStatusChanged, UserStatusEvent{UserID: p.UserID, IsOnline: p.IsOnline})
	ctx.S.broadcastAllLocal(payload, c.ConnID)
	if ctx.S.relay != nil {
		if err := ctx.S.relay.PublishAll(payload); err != nil {
			logger.Warnf("[relay] update-status publish err=%v", err)
		}
	}
	return nil
}
