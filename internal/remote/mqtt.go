package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/liangyou/appgate/pkg/models"
)

const (
	mqttConnectTimeout   = 30 * time.Second
	mqttKeepAlive        = 60 * time.Second
	mqttMaxReconnectWait = 5 * time.Second
	mqttDisconnectQuiet  = 250
)

// MQTTSource 订阅一个保存配置文档的保留消息主题。
// 保留消息即首次读取，之后每次发布即一次远程变更；空载荷表示文档已删除。
type MQTTSource struct {
	cfg       models.MQTTSourceConfig
	logger    *slog.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTSource 创建 MQTT 文档源。
func NewMQTTSource(cfg models.MQTTSourceConfig, logger *slog.Logger) (*MQTTSource, error) {
	if cfg.Broker == "" {
		return nil, errors.New("remote: mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("remote: mqtt topic is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSource{cfg: cfg, logger: logger, newClient: mqtt.NewClient}, nil
}

// Subscribe 连接 broker 并在每次（重新）连接后订阅主题，重连由 paho 客户端负责。
func (s *MQTTSource) Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	if onSnapshot == nil {
		return nil, errors.New("remote: snapshot handler is required")
	}
	sub := &mqttSubscription{source: s, onSnapshot: onSnapshot, onError: onError}

	clientID := s.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("appgate-%d", time.Now().UnixNano())
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(mqttMaxReconnectWait)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetOnConnectHandler(sub.onConnect)
	opts.SetConnectionLostHandler(sub.connectionLost)

	sub.client = s.newClient(opts)
	token := sub.client.Connect()
	if err := waitToken(ctx, token); err != nil {
		sub.guard.close()
		sub.client.Disconnect(0)
		return nil, fmt.Errorf("remote: mqtt connect: %w", err)
	}
	return sub, nil
}

type mqttSubscription struct {
	source     *MQTTSource
	client     mqtt.Client
	onSnapshot SnapshotFunc
	onError    ErrorFunc
	guard      deliveryGuard
}

func (m *mqttSubscription) onConnect(client mqtt.Client) {
	cfg := m.source.cfg
	token := client.Subscribe(cfg.Topic, cfg.QoS, m.handleMessage)
	go func() {
		if token.Wait() && token.Error() != nil {
			m.reportError(fmt.Errorf("remote: mqtt subscribe %s: %w", cfg.Topic, token.Error()))
		}
	}()
}

func (m *mqttSubscription) connectionLost(_ mqtt.Client, err error) {
	m.reportError(fmt.Errorf("remote: mqtt connection lost: %w", err))
}

func (m *mqttSubscription) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	doc, err := ParseDocument(msg.Payload(), m.source.logger)
	if err != nil {
		m.reportError(err)
		return
	}
	snap := newSnapshot(doc, "mqtt:"+msg.Topic())
	m.guard.deliver(func() { m.onSnapshot(snap) })
}

func (m *mqttSubscription) reportError(err error) {
	if m.onError == nil {
		return
	}
	m.guard.deliver(func() { m.onError(err) })
}

// Unsubscribe 取消主题订阅并断开连接。
func (m *mqttSubscription) Unsubscribe() error {
	if !m.guard.close() {
		return nil
	}
	var err error
	if m.client.IsConnected() {
		token := m.client.Unsubscribe(m.source.cfg.Topic)
		if token.WaitTimeout(mqttMaxReconnectWait) && token.Error() != nil {
			err = fmt.Errorf("remote: mqtt unsubscribe: %w", token.Error())
		}
	}
	m.client.Disconnect(mqttDisconnectQuiet)
	return err
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
