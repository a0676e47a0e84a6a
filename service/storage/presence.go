package storage

import (
	"context"
	"time"

	redisc "RTChat/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: rtchat:presence:<user>
// value 是 gateway_id，TTL 控制在线有效期；网关周期不续期，靠上下线边沿写删。
func presenceKey(user string) string { return "rtchat:presence:" + user }

// PresenceMirror 把 Registry 的上下线边沿镜像进 redis，REST 层查询用。
// 实现 chat.PresenceMirror。
type PresenceMirror struct {
	GatewayID string
	TTL       time.Duration // <=0 表示不过期（离线靠显式删除）
}

func (m *PresenceMirror) Online(ctx context.Context, user string) error {
	return redisc.GetRedis().Set(ctx, presenceKey(user), m.GatewayID, m.TTL).Err()
}

func (m *PresenceMirror) Offline(ctx context.Context, user string) error {
	return redisc.GetRedis().Del(ctx, presenceKey(user)).Err()
}

// PresenceLookup 查询用户是否在线以及挂在哪个网关。
func PresenceLookup(ctx context.Context, user string) (gatewayID string, online bool, err error) {
	val, err := redisc.GetRedis().Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
