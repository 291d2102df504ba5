package sink

import (
	"context"

	"go.uber.org/zap"

	"uplink/internal/pkg"
)

func init() {
	Register("console", NewConsoleSink)
}

// ConsoleInfo 控制台输出端的配置
type ConsoleInfo struct {
	Level string `mapstructure:"level"` // 输出日志级别, 默认 info
}

// ConsoleSink 把读数逐条写入日志, 调试时使用
type ConsoleSink struct {
	ctx    context.Context
	logger *zap.Logger
	level  zap.AtomicLevel
}

// NewConsoleSink Step.0 构造函数
func NewConsoleSink(ctx context.Context, config pkg.SinkConfig) (Template, error) {
	info := ConsoleInfo{Level: "info"}
	if err := pkg.DecodePara(config.Para, &info); err != nil {
		return nil, err
	}
	level, err := zap.ParseAtomicLevel(info.Level)
	if err != nil {
		return nil, err
	}
	return &ConsoleSink{
		ctx:    ctx,
		logger: pkg.LoggerFromContext(ctx),
		level:  level,
	}, nil
}

func (c *ConsoleSink) GetType() string {
	return "console"
}

func (c *ConsoleSink) Start(sink chan *pkg.PointPackage) {
	runLoop(c.ctx, c.GetType(), c.logger, sink, c.Publish)
}

// Publish 每条读数一行日志
func (c *ConsoleSink) Publish(pp *pkg.PointPackage) error {
	for _, r := range pp.Readings {
		c.logger.Log(c.level.Level(), "reading",
			zap.String("device", pp.Device),
			zap.String("frame", pp.FrameId),
			zap.String("name", r.Name),
			zap.Uint8("channel", r.Channel),
			zap.Float64("value", r.Value))
	}
	if len(pp.Errors) > 0 {
		c.logger.Warn("decode stopped early", zap.String("device", pp.Device), zap.Strings("errors", pp.ErrorStrings()))
	}
	return nil
}

func (c *ConsoleSink) Stop() {
	_ = c.logger.Sync()
}
