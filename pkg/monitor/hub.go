// Package monitor 将回调服务分发的每条消息通过 WebSocket 推送给调试观察端。
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxReadBytes   = 512
	sendBufferSize = 256
)

// Event 为推送给观察端的消息事件。
type Event struct {
	Product string          `json:"product"`
	Time    int64           `json:"time"`
	Message *kernel.Message `json:"message"`
}

type envelope struct {
	product string
	data    []byte
}

type client struct {
	conn    *websocket.Conn
	product string
	send    chan []byte
}

// Hub 管理 WebSocket 连接并广播消息，实现 kernel.Observer。
// Run 循环独占连接集合，其余方法通过通道与其交互。
type Hub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan envelope
	done       chan struct{}

	clients atomic.Int64
	dropped atomic.Int64
}

// NewHub 创建消息广播中心，调用方需启动 Run。
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "monitor").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan envelope, sendBufferSize),
		done:       make(chan struct{}),
	}
}

// Run 运行广播循环，ctx 取消时关闭所有连接后返回。
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*client]struct{})
	defer func() {
		close(h.done)
		for c := range clients {
			close(c.send)
		}
		h.clients.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			clients[c] = struct{}{}
			h.clients.Store(int64(len(clients)))
			h.logger.Info().Str("product", c.product).Msg("monitor client connected")
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				h.clients.Store(int64(len(clients)))
				h.logger.Info().Msg("monitor client disconnected")
			}
		case env := <-h.broadcast:
			for c := range clients {
				if c.product != "" && c.product != env.product {
					continue
				}
				select {
				case c.send <- env.data:
				default:
					// 观察端过慢，断开连接。
					delete(clients, c)
					close(c.send)
					h.clients.Store(int64(len(clients)))
				}
			}
		}
	}
}

// Observe 实现 kernel.Observer 接口。广播队列已满时丢弃消息，不阻塞回调处理。
func (h *Hub) Observe(_ context.Context, product string, msg *kernel.Message) {
	data, err := json.Marshal(Event{Product: product, Time: time.Now().Unix(), Message: msg})
	if err != nil {
		h.logger.Warn().Err(err).Msg("marshal monitor event failed")
		return
	}
	select {
	case h.broadcast <- envelope{product: product, data: data}:
	default:
		h.dropped.Add(1)
		h.logger.Warn().Str("product", product).Msg("monitor queue full, event dropped")
	}
}

// Clients 返回当前连接数。
func (h *Hub) Clients() int { return int(h.clients.Load()) }

// Dropped 返回因队列已满被丢弃的事件数。
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// ServeHTTP 升级为 WebSocket 连接，可用 ?product= 只订阅指定产品。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, product: r.URL.Query().Get("product"), send: make(chan []byte, sendBufferSize)}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

// readPump 丢弃观察端发送的数据，仅用于处理 pong 与关闭帧。
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).Msg("monitor client read failed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
