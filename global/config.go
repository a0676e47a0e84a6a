package global

import (
	"context"
	"os"
	"strconv"
	"strings"

	"RTChat/data/mongoutil"
	redis "RTChat/service/storage/redis"
	ids "RTChat/tools/ids"
)

// Load 读取环境变量，给未设置的字段补默认值。
func Load() AppConfig {
	cfg := AppConfig{
		GatewayNodeId: envOr("RTCHAT_GATEWAY_ID", "rt_gw-1"),
		Port:          envInt("RTCHAT_PORT", 8080),
		RedisAddr:     envOr("RTCHAT_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("RTCHAT_REDIS_PASSWORD"),
		RedisDB:       envInt("RTCHAT_REDIS_DB", 0),
		MongoUri:      envOr("RTCHAT_MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: envOr("RTCHAT_MONGO_DB", "rtchat"),
		KafkaTopic:    envOr("RTCHAT_KAFKA_TOPIC", "rtchat-message-events"),
		SnowNodeId:    int64(envInt("RTCHAT_NODE_ID", 100)),
	}
	if v := os.Getenv("RTCHAT_NATS_SERVERS"); v != "" {
		cfg.NatsServers = strings.Split(v, ",")
	}
	if v := os.Getenv("RTCHAT_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = strings.Split(v, ",")
	}
	return cfg
}

func GetJwtSecret() []byte {
	if v := os.Getenv("RTCHAT_JWT_SECRET"); v != "" {
		return []byte(v)
	}
	// 开发默认值，生产务必通过 ENV 覆盖
	return []byte("mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o=")
}

func ConfigIds(cfg AppConfig) {
	ids.SetNodeID(cfg.SnowNodeId)
}

func ConfigRedis(cfg AppConfig) error {
	return redis.Init(redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: 20,
	})
}

func ConfigMongo(ctx context.Context, cfg AppConfig) (*mongoutil.Client, error) {
	return mongoutil.NewMongoDB(ctx, &mongoutil.Config{
		Uri:         cfg.MongoUri,
		Database:    cfg.MongoDatabase,
		MaxPoolSize: 20,
		MaxRetry:    3,
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
