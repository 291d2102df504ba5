package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"uplink/internal/pkg"
)

// 初始化时注册 Kafka 输出端
func init() {
	Register("kafka", NewKafkaSink)
}

// KafkaSinkConfig 包含 Kafka 输出端的配置
type KafkaSinkConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Async        bool          `mapstructure:"async"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	RequiredAcks int           `mapstructure:"requiredAcks"` // -1 全部副本, 0 不确认, 其它为 leader 确认
}

// messageWriter 是 kafka.Writer 中用到的部分
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 每个包写为一条以设备标识为 key 的消息
type KafkaSink struct {
	writer messageWriter
	config KafkaSinkConfig
	logger *zap.Logger
	ctx    context.Context
}

// NewKafkaSink 是创建 KafkaSink 的工厂函数
func NewKafkaSink(ctx context.Context, config pkg.SinkConfig) (Template, error) {
	cfg := KafkaSinkConfig{WriteTimeout: 10 * time.Second, RequiredAcks: 1}
	if err := pkg.DecodePara(config.Para, &cfg); err != nil {
		return nil, fmt.Errorf("error decoding Kafka config: %w", err)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka config validation failed: 'brokers' is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka config validation failed: 'topic' is required")
	}

	acks := kafka.RequireOne
	switch cfg.RequiredAcks {
	case -1:
		acks = kafka.RequireAll
	case 0:
		acks = kafka.RequireNone
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // 同一设备落在同一分区, 保证顺序
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: acks,
		Async:        cfg.Async,
	}
	pkg.LoggerFromContext(ctx).Info("Kafka writer 已创建", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return &KafkaSink{
		writer: writer,
		config: cfg,
		logger: pkg.LoggerFromContext(ctx),
		ctx:    ctx,
	}, nil
}

func (k *KafkaSink) GetType() string {
	return "kafka"
}

func (k *KafkaSink) Start(sink chan *pkg.PointPackage) {
	runLoop(k.ctx, k.GetType(), k.logger, sink, k.Publish)
}

// BuildKafkaMessage 将包编码为一条 kafka 消息
func BuildKafkaMessage(pp *pkg.PointPackage) (kafka.Message, error) {
	value, err := EncodePackage(pp)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("序列化失败: %w", err)
	}
	return kafka.Message{
		Key:   []byte(pp.Device),
		Value: value,
		Time:  pp.Ts,
		Headers: []kafka.Header{
			{Key: "frame_id", Value: []byte(pp.FrameId)},
		},
	}, nil
}

func (k *KafkaSink) Publish(pp *pkg.PointPackage) error {
	msg, err := BuildKafkaMessage(pp)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(k.ctx, msg); err != nil {
		return fmt.Errorf("写入 Kafka 失败: %w", err)
	}
	return nil
}

func (k *KafkaSink) Stop() {
	if err := k.writer.Close(); err != nil {
		k.logger.Error("关闭 Kafka writer 失败", zap.Error(err))
	}
}
