package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"uplink/internal/pkg"
)

// MQTTClient 定义一个接口，包含需要的 MQTT 客户端方法
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

// TopicConfig 一个订阅主题及其 QoS
type TopicConfig struct {
	Topic string `mapstructure:"topic"`
	QoS   byte   `mapstructure:"qos"`
}

// MqttConfig 包含 MQTT 配置信息
type MqttConfig struct {
	Broker               string        `mapstructure:"broker"`
	ClientID             string        `mapstructure:"clientID"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	MaxReconnectInterval time.Duration `mapstructure:"maxReconnectInterval"`
	// 主题用列表而不是 map 配置: viper 会把 map 的 key 转成小写, 而 MQTT 主题区分大小写
	Topics []TopicConfig `mapstructure:"topics"`
}

// Filters 转换为 SubscribeMultiple 需要的 主题 -> QoS
func (c *MqttConfig) Filters() map[string]byte {
	filters := make(map[string]byte, len(c.Topics))
	for _, t := range c.Topics {
		filters[t.Topic] = t.QoS
	}
	return filters
}

// MqttConnector Connector的Mqtt版本实现
type MqttConnector struct {
	ctx    context.Context
	config *MqttConfig
	Client MQTTClient // MQTT 客户端
	out    chan<- *pkg.Message
}

func init() {
	Register("mqtt", NewMqttConnector)
}

func NewMqttConnector(ctx context.Context) (Template, error) {
	config := pkg.ConfigFromContext(ctx)
	mqttConfig := MqttConfig{MaxReconnectInterval: 10 * time.Second}
	if err := pkg.DecodePara(config.Connector.Para, &mqttConfig); err != nil {
		return nil, err
	}
	if mqttConfig.Broker == "" {
		return nil, fmt.Errorf("MQTT broker 地址为空")
	}
	if len(mqttConfig.Topics) == 0 {
		return nil, fmt.Errorf("MQTT 订阅主题为空")
	}
	for _, t := range mqttConfig.Topics {
		if t.Topic == "" {
			return nil, fmt.Errorf("MQTT 订阅主题为空")
		}
		if t.QoS > 2 {
			return nil, fmt.Errorf("主题 %s 的 QoS 非法: %d", t.Topic, t.QoS)
		}
	}
	mqttConnector := &MqttConnector{
		ctx:    ctx,
		config: &mqttConfig,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(mqttConfig.Broker)
	opts.SetClientID(mqttConfig.ClientID)
	opts.SetUsername(mqttConfig.Username)
	opts.SetPassword(mqttConfig.Password)

	// 设置自动重连
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(mqttConfig.MaxReconnectInterval)

	opts.OnConnect = mqttConnector.connectHandler
	opts.OnConnectionLost = mqttConnector.connectLostHandler

	mqttConnector.Client = mqtt.NewClient(opts)
	return mqttConnector, nil
}

func (m *MqttConnector) GetType() string {
	return "mqtt"
}

func (m *MqttConnector) Start(out chan<- *pkg.Message) error {
	logger := pkg.LoggerFromContext(m.ctx)
	metrics := pkg.GetPerformanceMetrics()
	m.out = out

	if token := m.Client.Connect(); token.Wait() && token.Error() != nil {
		metrics.IncErrorCount()
		metrics.IncMsgErrors("mqtt_connect")
		return fmt.Errorf("MQTT连接失败: %w", token.Error())
	}

	token := m.Client.SubscribeMultiple(m.config.Filters(), m.messagePubHandler)
	token.Wait() // 等待订阅完成
	if err := token.Error(); err != nil {
		metrics.IncErrorCount()
		metrics.IncMsgErrors("mqtt_subscribe")
		return fmt.Errorf("MQTT订阅失败: %w", err)
	}

	logger.Info("MQTT订阅成功，正在监听消息", zap.Any("topics", m.config.Filters()))
	return nil
}

func (m *MqttConnector) Close() error {
	if m.Client != nil && m.Client.IsConnected() {
		m.Client.Disconnect(250)
		pkg.LoggerFromContext(m.ctx).Info("MQTT连接已断开")
		return nil
	}
	return fmt.Errorf("MQTT客户端未连接")
}

// DeviceFromTopic 从形如 application/<app>/device/<devEui>/event/up 的主题中取出设备标识,
// 不符合该形式时返回整个主题
func DeviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "device" && parts[i+1] != "" {
			return parts[i+1]
		}
	}
	return topic
}

func (m *MqttConnector) messagePubHandler(_ mqtt.Client, msg mqtt.Message) {
	logger := pkg.LoggerFromContext(m.ctx)
	metrics := pkg.GetPerformanceMetrics()
	metrics.IncMsgReceived(Stage)

	logger.Debug("Received message", zap.Int("size", len(msg.Payload())), zap.String("topic", msg.Topic()))

	message := &pkg.Message{
		Data: msg.Payload(),
		Meta: map[string]string{
			"topic":  msg.Topic(),
			"device": DeviceFromTopic(msg.Topic()),
		},
		Ts: time.Now(),
	}
	select {
	case m.out <- message:
		metrics.IncMsgProcessed(Stage)
	case <-m.ctx.Done():
		metrics.IncMsgErrors(Stage)
	}
}

// 连接成功回调
func (m *MqttConnector) connectHandler(_ mqtt.Client) {
	pkg.GetPerformanceMetrics().IncMsgReceived("mqtt_connect")
	pkg.LoggerFromContext(m.ctx).Info("成功连接至MQTT broker", zap.String("broker", m.config.Broker))
}

// 连接丢失回调, Paho 会自动重连
func (m *MqttConnector) connectLostHandler(_ mqtt.Client, err error) {
	metrics := pkg.GetPerformanceMetrics()
	metrics.IncErrorCount()
	metrics.IncMsgErrors("mqtt_connection_lost")
	pkg.LoggerFromContext(m.ctx).Error("Connect lost", zap.Error(err))
}
