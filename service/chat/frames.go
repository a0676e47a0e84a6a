package chat

import (
	"encoding/json"
	"fmt"

	decode "RTChat/tools/decode"
)

// 入站事件名（客户端 -> 网关）
const (
	EvtJoinUser       = "join-user"
	EvtJoinChat       = "join-chat"
	EvtLeaveChat      = "leave-chat"
	EvtSendMessage    = "send-message"
	EvtMarkRead       = "mark-read"
	EvtAddReaction    = "add-reaction"
	EvtRemoveReaction = "remove-reaction"
	EvtTyping         = "typing"
	EvtStopTyping     = "stop-typing"
	EvtUpdateStatus   = "update-status"
)

// 出站事件名（网关 -> 客户端）
const (
	EvtNewMessage          = "new-message"
	EvtMessageNotification = "message-notification"
	EvtMessageRead         = "message-read"
	EvtReactionAdded       = "reaction-added"
	EvtReactionRemoved     = "reaction-removed"
	EvtUserTyping          = "user-typing"
	EvtUserStopTyping      = "user-stop-typing"
	EvtUserStatusChanged   = "user-status-changed"
	EvtError               = "error"
)

// EventFrame 统一的命名事件信封：{"event":"typing","data":{...}}
type EventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseFrameJSON(raw []byte) (*EventFrame, error) {
	f := &EventFrame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("frame missing event name")
	}
	return f, nil
}

// DecodePayload 宽松解码事件负载（数字字符串、[]any 等都兜得住）。
func DecodePayload[T any](f *EventFrame) (*T, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, fmt.Errorf("empty payload for event %q", eventName(f))
	}
	return decode.DecodeJSON[T](f.Data)
}

func eventName(f *EventFrame) string {
	if f == nil {
		return ""
	}
	return f.Event
}

// ---- 入站负载 ----

type JoinUserPayload struct {
	UserID string `json:"userId"`
}

type JoinChatPayload struct {
	ChatID string `json:"chatId"`
}

// SendMessagePayload 的 message 是存储层已落库的记录，网关只透传。
type SendMessagePayload struct {
	ChatID       string          `json:"chatId"`
	Message      json.RawMessage `json:"message"`
	RecipientIDs []string        `json:"recipientIds"`
}

type MarkReadPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
}

type ReactionPayload struct {
	MessageID string          `json:"messageId"`
	ChatID    string          `json:"chatId"`
	Reaction  json.RawMessage `json:"reaction"`
}

type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type StopTypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type UpdateStatusPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// sendMessageDecode 自己拆 message 原文，不走宽松解码。
func sendMessageDecode(f *EventFrame) (*SendMessagePayload, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, fmt.Errorf("empty payload for event %q", eventName(f))
	}
	p := &SendMessagePayload{}
	if err := json.Unmarshal(f.Data, p); err != nil {
		return nil, fmt.Errorf("unmarshal send-message payload: %w", err)
	}
	return p, nil
}

// reactionDecode 同理，reaction 保持原文透传。
func reactionDecode(f *EventFrame) (*ReactionPayload, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, fmt.Errorf("empty payload for event %q", eventName(f))
	}
	p := &ReactionPayload{}
	if err := json.Unmarshal(f.Data, p); err != nil {
		return nil, fmt.Errorf("unmarshal reaction payload: %w", err)
	}
	return p, nil
}

// ---- 出站构造 ----

// BuildEventJSON 序列化一帧出站事件；payload 可以是结构体或 json.RawMessage。
func BuildEventJSON(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = b
	}
	return json.Marshal(&EventFrame{Event: event, Data: data})
}

// mustEvent 出站事件的负载都是网关自己构造的，序列化失败属于编程错误。
func mustEvent(event string, payload any) []byte {
	b, err := BuildEventJSON(event, payload)
	if err != nil {
		panic(err)
	}
	return b
}

type MessageReadEvent struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type ReactionEvent struct {
	MessageID string          `json:"messageId"`
	Reaction  json.RawMessage `json:"reaction"`
}

type UserTypingEvent struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UserStopTypingEvent struct {
	UserID string `json:"userId"`
}

type UserStatusEvent struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type ErrorEvent struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
