package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"RTChat/logger"
	errs "RTChat/tools/errs"
	"RTChat/tools/safe"
	sec "RTChat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ===== 协作方接口 =====

// MembershipStore 存储协作方：join-chat 前必须确认参与关系，不信客户端自述。
type MembershipStore interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

// PresenceMirror 把上下线状态镜像到外部存储（redis），REST 侧查询用。
type PresenceMirror interface {
	Online(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string) error
}

// EventRelay 跨网关转发：本地广播之后把同一帧发给其它节点。
type EventRelay interface {
	PublishRoom(chatID string, frame []byte) error
	PublishUser(userID string, frame []byte) error
	PublishAll(frame []byte) error
}

// JournalFunc 投递后的消息流水（kafka），绝不阻塞投递路径。
type JournalFunc func(chatID string, message []byte)

// ===== 配置 =====

type ServerConf struct {
	GatewayID     string
	SendQueueSize int
	FanoutWorkers int
	FanoutQueue   int
	WriteTimeout  time.Duration
	ReadTimeout   time.Duration
	PingEvery     time.Duration
	Registry      RegistryConf
	Typing        TypingConf
	JWT           sec.Options
}

func (c *ServerConf) norm() {
	if c.GatewayID == "" {
		c.GatewayID = "rt_gw-1"
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 75 * time.Second
	}
	if c.PingEvery <= 0 {
		c.PingEvery = 25 * time.Second
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server 显式构造的网关实例：持有 Registry / RoomManager / TypingCoordinator /
// Fanout，由 main 创建一次后按引用传给各处，不走包级单例。
type Server struct {
	conf    ServerConf
	reg     *Registry
	rooms   *RoomManager
	typing  *TypingCoordinator
	fanout  *Fanout
	disp    *Dispatcher
	store   MembershipStore
	mirror  PresenceMirror
	relay   EventRelay
	journal JournalFunc
}

func NewServer(conf ServerConf, store MembershipStore) *Server {
	conf.norm()
	s := &Server{
		conf:   conf,
		reg:    NewRegistry(conf.Registry),
		rooms:  NewRoomManager(),
		typing: NewTypingCoordinator(conf.Typing),
		fanout: NewFanout(conf.FanoutWorkers, conf.FanoutQueue),
		disp:   NewDispatcher(),
		store:  store,
	}
	s.registerHandlers()

	s.reg.SetPresenceFunc(s.presenceChanged)
	s.reg.SetExpireFunc(s.DropConnection)
	// 到期自动停不带排除：发起者此刻可能已经断开
	s.typing.SetExpireFunc(func(chatID, userID string) {
		s.BroadcastToRoom(chatID, mustEvent(EvtUserStopTyping, UserStopTypingEvent{UserID: userID}), "")
	})
	return s
}

func (s *Server) SetPresenceMirror(m PresenceMirror) { s.mirror = m }
func (s *Server) SetRelay(r EventRelay)              { s.relay = r }
func (s *Server) SetJournal(j JournalFunc)           { s.journal = j }

func (s *Server) GatewayID() string       { return s.conf.GatewayID }
func (s *Server) Reg() *Registry          { return s.reg }
func (s *Server) Rooms() *RoomManager     { return s.rooms }
func (s *Server) Disp() *Dispatcher       { return s.disp }
func (s *Server) Typing() *TypingCoordinator { return s.typing }

func (s *Server) Close() {
	s.reg.Close()
	s.fanout.Close()
}

// ===== WebSocket 接入 =====

// HandleWS 升级握手：令牌先行，身份不可信则不给升级。
func (s *Server) HandleWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}
	userID, userName, err := sec.Verify(s.conf.JWT, token)
	if err != nil {
		// 令牌本身绝不进日志，只留指纹
		logger.Infof("[HandleWS] token verify failed token=%s err=%v", sec.HashToken(token), err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	client := NewClient(uuid.NewString(), ws, s.conf.SendQueueSize)
	client.AuthUserID = userID
	client.UserName = userName

	if err := s.reg.AddUnbound(client); err != nil {
		logger.Errorf("[HandleWS] register conn failed: %v", err)
		_ = ws.Close()
		return
	}
	s.reg.AttachPongHandler(ws, client.ConnID, s.conf.ReadTimeout)

	safe.SafeGo("ws-write-"+client.ConnID, func() {
		client.writePump(s.conf.WriteTimeout, s.conf.PingEvery)
	})
	s.readLoop(client)
}

// readLoop 只读不写；出错即退出并走完整断连清理。
func (s *Server) readLoop(c *Client) {
	defer s.DropConnection(c)

	_ = c.WS.SetReadDeadline(time.Now().Add(s.conf.ReadTimeout))
	for {
		mt, data, rerr := c.WS.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn=%s err=%v", c.ConnID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout conn=%s err=%v", c.ConnID, rerr)
			} else {
				logger.Infof("[WS] read err conn=%s err=%v", c.ConnID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = c.WS.SetReadDeadline(time.Now().Add(s.conf.ReadTimeout))

		frame, perr := ParseFrameJSON(data)
		if perr != nil {
			// 畸形帧：打样本，连接保持
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[WS] ParseFrameJSON err conn=%s err=%v sample=%q", c.ConnID, perr, sample)
			continue
		}

		if err := s.DispatchFrame(frame, c); err != nil {
			logger.Infof("[WS] handle %s err conn=%s err=%v", frame.Event, c.ConnID, err)
			s.sendError(c, err)
		}
	}
}

// DispatchFrame 入站事件统一入口（读循环和单测都走这里）。
func (s *Server) DispatchFrame(f *EventFrame, c *Client) error {
	return s.disp.Dispatch(&ChatContext{S: s}, f, c)
}

// DropConnection 断连级联：房间退出、typing 强制停、registry 注销，一次走完。
// 任何一步漏掉都是正确性问题（残留 presence / 幽灵 typing）。
func (s *Server) DropConnection(c *Client) {
	if c == nil {
		return
	}
	c.Close()

	joined := s.rooms.LeaveAll(c.ConnID)
	if c.UserID != "" && len(joined) > 0 {
		for _, chatID := range joined {
			if s.typing.Stop(chatID, c.UserID) {
				s.BroadcastToRoom(chatID, mustEvent(EvtUserStopTyping, UserStopTypingEvent{UserID: c.UserID}), "")
			}
		}
	}
	s.reg.Unregister(c.ConnID)
}

// presenceChanged Registry 的上下线边沿：全员广播 + redis 镜像 + 跨节点转发。
func (s *Server) presenceChanged(userID string, online bool) {
	payload := mustEvent(EvtUserStatusChanged, UserStatusEvent{UserID: userID, IsOnline: online})
	s.broadcastAllLocal(payload, "")

	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var err error
		if online {
			err = s.mirror.Online(ctx, userID)
		} else {
			err = s.mirror.Offline(ctx, userID)
		}
		if err != nil {
			logger.Warnf("[presence] mirror %s online=%v err=%v", userID, online, err)
		}
	}
	if s.relay != nil {
		if err := s.relay.PublishAll(payload); err != nil {
			logger.Warnf("[presence] relay err=%v", err)
		}
	}
}

// ===== 投递 =====

// BroadcastToRoom 房间广播，可排除发起连接；先本地后跨节点。
func (s *Server) BroadcastToRoom(chatID string, payload []byte, exclude string) {
	s.deliverRoomLocal(chatID, payload, exclude)
	if s.relay != nil {
		if err := s.relay.PublishRoom(chatID, payload); err != nil {
			logger.Warnf("[fanout] relay room=%s err=%v", chatID, err)
		}
	}
}

// NotifyUsers 点对人投递：该用户的所有连接（多端）都收到。
func (s *Server) NotifyUsers(userIDs []string, payload []byte) {
	for _, uid := range userIDs {
		s.deliverUserLocal(uid, payload)
		if s.relay != nil {
			if err := s.relay.PublishUser(uid, payload); err != nil {
				logger.Warnf("[fanout] relay user=%s err=%v", uid, err)
			}
		}
	}
}

// 本地投递（relay 收到对端帧时也走这三个口，避免回环）。
func (s *Server) deliverRoomLocal(chatID string, payload []byte, exclude string) {
	s.fanout.Broadcast(chatID, s.rooms.MembersOf(chatID), payload, exclude)
}

func (s *Server) deliverUserLocal(userID string, payload []byte) {
	s.fanout.Broadcast(userID, s.reg.ConnectionsFor(userID), payload, "")
}

func (s *Server) broadcastAllLocal(payload []byte, exclude string) {
	s.fanout.Broadcast("*", s.reg.AllClients(), payload, exclude)
}

func (s *Server) sendError(c *Client, err error) {
	ev := ErrorEvent{Code: 500, Msg: "internal error"}
	if ce := asCodeError(err); ce != nil {
		ev.Code = ce.Code
		ev.Msg = ce.Msg
	}
	c.TrySend(mustEvent(EvtError, ev))
}

// ===== 请求路径的出口（持久化在先，实时事件在后） =====

// EmitNewMessage 存储层落库之后调用：房间内发 new-message，
// 收件人个人通道发 message-notification，另记一条消息流水。
func (s *Server) EmitNewMessage(chatID string, message json.RawMessage, recipientIDs []string) {
	s.BroadcastToRoom(chatID, mustEvent(EvtNewMessage, message), "")
	if len(recipientIDs) > 0 {
		s.NotifyUsers(recipientIDs, mustEvent(EvtMessageNotification, message))
	}
	if s.journal != nil {
		s.journal(chatID, message)
	}
}

// EmitReaction 反应开关落库后的广播：added 决定事件名。
func (s *Server) EmitReaction(added bool, chatID, messageID string, reaction json.RawMessage) {
	evt := EvtReactionAdded
	if !added {
		evt = EvtReactionRemoved
	}
	s.BroadcastToRoom(chatID, mustEvent(evt, ReactionEvent{MessageID: messageID, Reaction: reaction}), "")
}

func asCodeError(err error) *errs.CodeError {
	var ce *errs.CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}
