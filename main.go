package main

import (
	"context"
	"fmt"
	"time"

	"RTChat/global"
	"RTChat/logger"
	"RTChat/middleware"
	modchat "RTChat/module/chat"
	moduser "RTChat/module/user"
	"RTChat/service/chat"
	"RTChat/service/kafka"
	"RTChat/service/natsx"
	"RTChat/service/storage"
	sec "RTChat/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := global.Load()
	global.ConfigIds(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := global.ConfigRedis(cfg); err != nil {
		logger.Errorf("redis init failed: %v", err)
		return
	}
	mongoCli, err := global.ConfigMongo(ctx, cfg)
	if err != nil {
		logger.Errorf("mongo init failed: %v", err)
		return
	}
	store := modchat.NewChatStore(mongoCli.GetDB())

	srv := chat.NewServer(chat.ServerConf{
		GatewayID: cfg.GatewayNodeId,
		JWT:       sec.DefaultOptions(global.GetJwtSecret()),
	}, store)
	defer srv.Close()

	srv.SetPresenceMirror(&storage.PresenceMirror{
		GatewayID: cfg.GatewayNodeId,
		TTL:       2 * time.Minute,
	})

	// 跨节点转发，可选
	if len(cfg.NatsServers) > 0 {
		nc, err := natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers: cfg.NatsServers,
			Name:    cfg.GatewayNodeId,
		})
		if err != nil {
			logger.Errorf("nats connect failed: %v", err)
			return
		}
		defer nc.Close()
		relay, err := chat.NewNatsRelay(nc, srv)
		if err != nil {
			logger.Errorf("nats relay subscribe failed: %v", err)
			return
		}
		srv.SetRelay(relay)
	}

	// 消息流水，可选
	if len(cfg.KafkaBrokers) > 0 {
		kafka.Cfg.Brokers = cfg.KafkaBrokers
		kafka.Cfg.JournalTopic = cfg.KafkaTopic
		if err := kafka.InitKafkaClient(cfg.KafkaBrokers); err != nil {
			logger.Errorf("kafka init failed: %v", err)
			return
		}
		if err := kafka.InitAsyncProducerFromClient(); err != nil {
			logger.Errorf("kafka producer init failed: %v", err)
			return
		}
		srv.SetJournal(kafka.JournalMessage)
	}

	h := modchat.NewHandler(store, srv)

	r := gin.Default()
	r.GET("/chat", srv.HandleWS)
	middleware.POST(r, "/login", moduser.HandlerLogin, middleware.RouteOpt{})
	middleware.POST(r, "/chats/:chatId/messages", h.HandleSendMessage, middleware.RouteOpt{IsAuth: true})
	middleware.POST(r, "/messages/:messageId/reactions", h.HandleReaction, middleware.RouteOpt{IsAuth: true})
	middleware.POST(r, "/chats/:chatId/read", h.HandleMarkRead, middleware.RouteOpt{IsAuth: true})
	middleware.GET(r, "/presence/:userId", h.HandlePresence, middleware.RouteOpt{IsAuth: true})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Infof("gateway %s listening on %s", cfg.GatewayNodeId, addr)
	if err := r.Run(addr); err != nil {
		logger.Errorf("http server exited: %v", err)
	}
}
