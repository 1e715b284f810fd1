package realtime

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Envelope 推送给客户端的消息格式
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Relay 跨实例转发 (NATS), 可选
type Relay interface {
	Forward(room string, frame []byte) error
}

// Hub 按房间 (小写地址) 管理 WebSocket 连接
// 只负责投递, 不做确认/重试/离线存储
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	relay Relay
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		log:   log.Named("realtime"),
	}
}

// SetRelay 设置跨实例转发
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// RoomKey 房间名一律小写
func RoomKey(room string) string {
	return strings.ToLower(strings.TrimSpace(room))
}

// Publish 本地投递并转发到其他实例
func (h *Hub) Publish(room string, event string, payload interface{}) {
	frame, err := encode(event, payload)
	if err != nil {
		h.log.Error("encode realtime event failed", zap.String("event", event), zap.Error(err))
		return
	}
	room = RoomKey(room)
	n := h.Deliver(room, frame)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		if err := relay.Forward(room, frame); err != nil {
			h.log.Warn("relay realtime event failed", zap.String("room", room), zap.Error(err))
		}
	}
	h.log.Debug("event published", zap.String("room", room), zap.String("event", event), zap.Int("clients", n))
}

// Deliver 把已编码的消息发给本实例房间内的所有客户端, 返回投递数
// 发送缓冲已满的慢客户端会被断开
func (h *Hub) Deliver(room string, frame []byte) int {
	h.mu.RLock()
	var slow []*Client
	n := 0
	for c := range h.rooms[room] {
		select {
		case c.send <- frame:
			n++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("drop slow client", zap.String("client_id", c.ID), zap.String("room", room))
		h.Leave(c)
	}
	return n
}

// Join 注册连接到房间, 返回的 Client 需要调用 Serve
func (h *Hub) Join(room string, conn *websocket.Conn) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		Room: RoomKey(room),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	members, ok := h.rooms[c.Room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[c.Room] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("client joined", zap.String("client_id", c.ID), zap.String("room", c.Room))
	return c
}

// Leave 从房间移除并关闭发送通道, 可重复调用
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	members := h.rooms[c.Room]
	_, joined := members[c]
	if joined {
		delete(members, c)
		close(c.send)
		if len(members) == 0 {
			delete(h.rooms, c.Room)
		}
	}
	h.mu.Unlock()

	if joined {
		h.log.Info("client left", zap.String("client_id", c.ID), zap.String("room", c.Room))
	}
}

// RoomSize 房间当前连接数
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomKey(room)])
}

func encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
