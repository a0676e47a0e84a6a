package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"RTChat/logger"

	"github.com/gorilla/websocket"
)

// Client represents a single device session connected to the gateway.
// A user may hold several clients at once (multi-device); each keeps its own
// outbound queue consumed by one writer goroutine, because gorilla/websocket
// forbids concurrent writes.
type Client struct {
	ConnID     string          // 网关内唯一连接ID
	UserID     string          // join-user 绑定后才有值
	AuthUserID string          // 握手时从令牌取的可信身份，join-user 必须与之一致
	UserName   string          // 同上，给 typing 广播用
	WS         *websocket.Conn // 单测里可以为 nil
	Send       chan []byte     // 每连接独立发送队列

	dropped   int32 // 连续丢帧计数，超限判定为死连接
	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(connID string, ws *websocket.Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Client{
		ConnID: connID,
		WS:     ws,
		Send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// TrySend 非阻塞入队；队列满则丢帧并返回 false（投递语义 at-most-once）。
func (c *Client) TrySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- payload:
		atomic.StoreInt32(&c.dropped, 0)
		return true
	default:
		n := atomic.AddInt32(&c.dropped, 1)
		logger.Warnf("[Client] send queue full, drop frame conn=%s user=%s dropped=%d", c.ConnID, c.UserID, n)
		return false
	}
}

// Backlogged 连续丢帧是否已超过阈值。
func (c *Client) Backlogged(limit int32) bool {
	return atomic.LoadInt32(&c.dropped) >= limit
}

// Close is idempotent; it stops the write pump and closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.WS != nil {
			_ = c.WS.Close()
		}
	})
}

func (c *Client) Done() <-chan struct{} { return c.done }

// writePump 单写协程：消费 Send 队列，带写超时。
func (c *Client) writePump(writeTimeout, pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case payload, ok := <-c.Send:
			if !ok {
				return
			}
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.WS.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[Client] write failed conn=%s err=%v", c.ConnID, err)
				return
			}
		case <-ticker.C:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
