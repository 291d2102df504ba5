package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"uplink/internal/pkg"
)

func init() {
	Register("mqtt", NewMqttSink)
}

// MQTTClientInterface 定义了需要的 MQTT 客户端方法
type MQTTClientInterface interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MqttInfo MQTT 输出端的配置
type MqttInfo struct {
	Broker   string        `mapstructure:"broker"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	ClientID string        `mapstructure:"clientID"`
	Topic    string        `mapstructure:"topic"` // 基础主题, 实际主题为 <topic>/<device>
	QoS      byte          `mapstructure:"qos"`
	Retained bool          `mapstructure:"retained"`
	Timeout  time.Duration `mapstructure:"timeout"` // 发布等待时间
}

// MqttSink 每个包编码为一条 JSON 消息发布
type MqttSink struct {
	client MQTTClientInterface
	info   MqttInfo
	ctx    context.Context
	logger *zap.Logger
}

// NewMqttSink Step.0 构造函数, 连接 broker
func NewMqttSink(ctx context.Context, config pkg.SinkConfig) (Template, error) {
	info := MqttInfo{Timeout: 5 * time.Second}
	if err := pkg.DecodePara(config.Para, &info); err != nil {
		return nil, err
	}
	if info.Broker == "" {
		return nil, fmt.Errorf("mqtt config validation failed: 'broker' is required")
	}
	if info.Topic == "" {
		return nil, fmt.Errorf("mqtt config validation failed: 'topic' is required")
	}
	logger := pkg.LoggerFromContext(ctx)

	opts := mqtt.NewClientOptions().
		AddBroker(info.Broker).
		SetClientID(info.ClientID).
		SetUsername(info.Username).
		SetPassword(info.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Error("MQTT sink connection lost", zap.Error(err))
		})
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(info.Timeout) {
		logger.Warn("MQTT broker 暂不可达, 后台继续重试", zap.String("broker", info.Broker))
	} else if token.Error() != nil {
		return nil, fmt.Errorf("MQTT连接失败: %w", token.Error())
	}
	return newMqttSink(ctx, client, info), nil
}

func newMqttSink(ctx context.Context, client MQTTClientInterface, info MqttInfo) *MqttSink {
	return &MqttSink{
		client: client,
		info:   info,
		ctx:    ctx,
		logger: pkg.LoggerFromContext(ctx),
	}
}

func (m *MqttSink) GetType() string {
	return "mqtt"
}

func (m *MqttSink) Start(sink chan *pkg.PointPackage) {
	runLoop(m.ctx, m.GetType(), m.logger, sink, m.Publish)
}

// Topic 返回某个设备的发布主题
func (m *MqttSink) Topic(device string) string {
	return strings.TrimSuffix(m.info.Topic, "/") + "/" + device
}

// Publish 发布一个包
func (m *MqttSink) Publish(pp *pkg.PointPackage) error {
	payload, err := EncodePackage(pp)
	if err != nil {
		return fmt.Errorf("序列化失败: %w", err)
	}
	token := m.client.Publish(m.Topic(pp.Device), m.info.QoS, m.info.Retained, payload)
	if !token.WaitTimeout(m.info.Timeout) {
		return fmt.Errorf("MQTT发布超时: %s", m.info.Timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT发布失败: %w", err)
	}
	return nil
}

func (m *MqttSink) Stop() {
	m.client.Disconnect(250)
	m.logger.Info("MQTT sink disconnected")
}
