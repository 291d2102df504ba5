package parser

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"uplink/internal/decoder"
	"uplink/internal/pkg"
	"uplink/internal/schema"
)

// Stage 在性能指标中使用的阶段名称
const Stage = "parser"

// Parser 将 Message 还原为 PointPackage
type Parser struct {
	decoder  *decoder.Decoder
	encoding Encoding
	logger   *zap.Logger
	metrics  *pkg.PerformanceMetrics
}

// New 根据 context 中的配置创建解析器: 构建 schema, 解析布局与编码
func New(ctx context.Context) (*Parser, error) {
	config := pkg.ConfigFromContext(ctx)
	s, err := schema.Build(config.Fields)
	if err != nil {
		return nil, fmt.Errorf("构建字段表失败: %w", err)
	}
	if s.Len() == 0 {
		return nil, fmt.Errorf("字段表为空, 请检查 fields 配置")
	}
	layout, err := decoder.ParseLayout(config.Decoder.Layout)
	if err != nil {
		return nil, err
	}
	enc, err := ParseEncoding(config.Decoder.Encoding)
	if err != nil {
		return nil, err
	}
	p := NewParser(decoder.New(s, layout), enc, pkg.LoggerFromContext(ctx))
	p.logger.Info("===解析器已就绪===",
		zap.Int("fields", s.Len()),
		zap.Stringer("layout", layout),
		zap.Stringer("encoding", enc))
	return p, nil
}

// NewParser 使用现成的解码器创建解析器
func NewParser(dec *decoder.Decoder, enc Encoding, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		decoder:  dec,
		encoding: enc,
		logger:   logger,
		metrics:  pkg.GetPerformanceMetrics(),
	}
}

// WithMetrics 替换指标实例
func (p *Parser) WithMetrics(m *pkg.PerformanceMetrics) *Parser {
	p.metrics = m
	return p
}

// Decoder 返回内部使用的解码器
func (p *Parser) Decoder() *decoder.Decoder {
	return p.decoder
}

// Encoding 返回负载编码方式
func (p *Parser) Encoding() Encoding {
	return p.encoding
}

// Parse 解析一条消息。
// 只有负载无法还原时才返回错误; 解码中途停止时, 已解出的读数和解码错误一起放在包里。
func (p *Parser) Parse(msg *pkg.Message) (*pkg.PointPackage, error) {
	uplink, err := p.encoding.Unwrap(msg.Data)
	if err != nil {
		return nil, err
	}

	device := uplink.Device
	if device == "" {
		device = msg.Meta["device"]
	}
	ts := uplink.Ts
	if ts.IsZero() {
		ts = msg.Ts
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	readings, errs := p.decoder.Decode(uplink.Payload)
	return &pkg.PointPackage{
		FrameId:  uuid.NewString(),
		Device:   device,
		Ts:       ts,
		Readings: readings,
		Errors:   errs,
		Raw:      uplink.Payload,
	}, nil
}

// Start 持续从 in 读取消息, 解析后写入 out, in 关闭时返回并关闭 out。
// ctx 取消后先处理完 in 中已缓冲的消息再返回, 下游需要一直读到 out 关闭。
func (p *Parser) Start(ctx context.Context, in <-chan *pkg.Message, out chan<- *pkg.PointPackage) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			n := p.drain(in, out)
			p.logger.Info("解析器已停止", zap.Int("drained", n))
			return
		case msg, ok := <-in:
			if !ok {
				p.logger.Info("上游通道已关闭, 解析器退出")
				return
			}
			if pp := p.handle(msg); pp != nil {
				out <- pp
			}
		}
	}
}

// drain 非阻塞地取出 in 中剩余的消息, 返回处理的条数
func (p *Parser) drain(in <-chan *pkg.Message, out chan<- *pkg.PointPackage) int {
	n := 0
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return n
			}
			n++
			if pp := p.handle(msg); pp != nil {
				out <- pp
			}
		default:
			return n
		}
	}
}

// handle 解析一条消息并记录指标, 负载无法还原时返回 nil
func (p *Parser) handle(msg *pkg.Message) *pkg.PointPackage {
	p.metrics.IncMsgReceived(Stage)
	timer := p.metrics.NewTimer(Stage)
	pp, err := p.Parse(msg)
	timer.StopAndLog(p.logger)
	if err != nil {
		p.metrics.IncMsgErrors(Stage)
		p.metrics.IncErrorCount()
		p.logger.Error("负载还原失败", zap.Error(err), zap.Any("meta", msg.Meta))
		return nil
	}
	if len(pp.Errors) > 0 {
		p.metrics.IncMsgErrors(Stage)
		p.logger.Warn("解码提前终止",
			zap.String("device", pp.Device),
			zap.Int("readings", len(pp.Readings)),
			zap.Errors("errors", pp.Errors),
			zap.Binary("raw", pp.Raw))
	}
	p.metrics.IncMsgProcessed(Stage)
	p.logger.Debug("解析完成", zap.Stringer("package", pp))
	return pp
}
