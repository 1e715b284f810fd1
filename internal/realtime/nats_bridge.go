package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// bridgeMessage NATS 上传输的格式, origin 用于忽略自己发出的消息
type bridgeMessage struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Frame  json.RawMessage `json:"frame"`
}

// NATSBridge 多实例部署时, 把一个实例的推送转发给其他实例上的连接
type NATSBridge struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	origin  string
	hub     *Hub
	log     *zap.Logger
}

// NewNATSBridge 连接 NATS 并订阅 subject, 成功后挂到 hub 上
func NewNATSBridge(url, subject string, hub *Hub, log *zap.Logger) (*NATSBridge, error) {
	b := &NATSBridge{
		subject: subject,
		origin:  uuid.NewString(),
		hub:     hub,
		log:     log.Named("nats"),
	}

	conn, err := nats.Connect(url,
		nats.Name("payment-realtime"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			b.log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	b.conn = conn

	b.sub, err = conn.Subscribe(subject, b.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	hub.SetRelay(b)
	b.log.Info("realtime bridge started", zap.String("subject", subject), zap.String("origin", b.origin))
	return b, nil
}

// Forward 实现 Relay
func (b *NATSBridge) Forward(room string, frame []byte) error {
	data, err := json.Marshal(bridgeMessage{Origin: b.origin, Room: room, Frame: frame})
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	var m bridgeMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		b.log.Warn("malformed bridge message", zap.Error(err))
		return
	}
	if m.Origin == b.origin {
		return
	}
	b.hub.Deliver(m.Room, m.Frame)
}

// Close 取消订阅并断开连接
func (b *NATSBridge) Close() {
	b.hub.SetRelay(nil)
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.conn.Close()
}
