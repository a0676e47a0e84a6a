package chat

import (
	"encoding/json"

	"RTChat/logger"
	"RTChat/service/natsx"
)

// 跨网关转发：每个节点把出站事件发到共享 subject，其它节点收到后只做本地投递。
// 房间/用户成员关系各节点自己维护，所以 envelope 只带 scope+target+原始帧。

const relaySubject = "rtchat.evt"

type relayScope string

const (
	scopeRoom relayScope = "room"
	scopeUser relayScope = "user"
	scopeAll  relayScope = "all"
)

type relayEnvelope struct {
	Origin string     `json:"origin"` // 发出节点，收到自己的帧直接丢
	Scope  relayScope `json:"scope"`
	Target string     `json:"target,omitempty"` // chat_id 或 user_id
	Frame  []byte     `json:"frame"`
}

// NatsRelay implements EventRelay on top of the natsx client.
type NatsRelay struct {
	nc  *natsx.NatsxClient
	gw  string
	srv *Server
}

func NewNatsRelay(nc *natsx.NatsxClient, srv *Server) (*NatsRelay, error) {
	r := &NatsRelay{nc: nc, gw: srv.GatewayID(), srv: srv}
	if err := nc.Subscribe(relaySubject, "", r.onMsg); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *NatsRelay) PublishRoom(chatID string, frame []byte) error {
	return r.publish(relayEnvelope{Origin: r.gw, Scope: scopeRoom, Target: chatID, Frame: frame})
}

func (r *NatsRelay) PublishUser(userID string, frame []byte) error {
	return r.publish(relayEnvelope{Origin: r.gw, Scope: scopeUser, Target: userID, Frame: frame})
}

func (r *NatsRelay) PublishAll(frame []byte) error {
	return r.publish(relayEnvelope{Origin: r.gw, Scope: scopeAll, Frame: frame})
}

func (r *NatsRelay) publish(env relayEnvelope) error {
	b, err := json.Marshal(&env)
	if err != nil {
		return err
	}
	return r.nc.Publish(relaySubject, b)
}

func (r *NatsRelay) onMsg(_ string, data []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warnf("[relay] bad envelope: %v", err)
		return
	}
	if env.Origin == r.gw {
		return
	}
	switch env.Scope {
	case scopeRoom:
		r.srv.deliverRoomLocal(env.Target, env.Frame, "")
	case scopeUser:
		r.srv.deliverUserLocal(env.Target, env.Frame)
	case scopeAll:
		r.srv.broadcastAllLocal(env.Frame, "")
	default:
		logger.Warnf("[relay] unknown scope %q", env.Scope)
	}
}
