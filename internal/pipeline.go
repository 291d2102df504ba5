package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"uplink/internal/connector"
	"uplink/internal/dispatcher"
	"uplink/internal/parser"
	"uplink/internal/pkg"
	"uplink/internal/sink"
)

const (
	defaultSinkBuffer    = 100
	defaultMessageBuffer = 256
	drainTimeout         = 10 * time.Second
)

// Pipeline 串联 connector -> parser -> dispatcher -> sinks
type Pipeline struct {
	Connector  connector.Template
	Parser     *parser.Parser
	Routes     *dispatcher.Handler
	Dispatcher *dispatcher.Dispatcher
	Sinks      sink.TemplateCollection

	msgChan   chan *pkg.Message
	pointChan chan *pkg.PointPackage
	sinkChans map[string]chan *pkg.PointPackage
	logger    *zap.Logger

	stopParser context.CancelFunc
	sinkWG     *sync.WaitGroup
}

// NewPipeline 根据 ctx 中的配置创建全部组件, 任何一步失败都会释放已创建的输出端
func NewPipeline(ctx context.Context) (*Pipeline, error) {
	config := pkg.ConfigFromContext(ctx)
	log := pkg.LoggerFromContext(ctx)

	// 1. 初始化解析器
	p, err := parser.New(pkg.WithLoggerAndModule(ctx, log, "Parser"))
	if err != nil {
		return nil, fmt.Errorf("failed to create parser: %w", err)
	}

	// 2. 编译分发规则
	routes, err := dispatcher.NewHandler(config.Sink)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// 3. 初始化输出端, 输出端不随 ctx 取消, 由 Stop 在通道排空后关闭
	sinks, err := sink.New(pkg.WithLoggerAndModule(context.WithoutCancel(ctx), log, "Sink"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sinks: %w", err)
	}
	sinkChans := make(map[string]chan *pkg.PointPackage, len(sinks))
	for _, sc := range config.Sink {
		if _, ok := sinks[sc.Type]; !ok {
			continue
		}
		buffer := sc.Buffer
		if buffer <= 0 {
			buffer = defaultSinkBuffer
		}
		sinkChans[sc.Type] = make(chan *pkg.PointPackage, buffer)
	}

	// 4. 初始化连接器
	c, err := connector.New(pkg.WithLoggerAndModule(ctx, log, "Connector"))
	if err != nil {
		sinks.Stop()
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}

	return &Pipeline{
		Connector:  c,
		Parser:     p,
		Routes:     routes,
		Dispatcher: dispatcher.New(pkg.WithLoggerAndModule(ctx, log, "Dispatcher"), routes, sinkChans),
		Sinks:      sinks,
		msgChan:    make(chan *pkg.Message, defaultMessageBuffer),
		pointChan:  make(chan *pkg.PointPackage, defaultMessageBuffer),
		sinkChans:  sinkChans,
		logger:     log,
	}, nil
}

// Start 按从下游到上游的顺序启动, 连接器最后启动。
// 只有解析器跟随 ctx, 它退出时关闭下游通道, 分发器和输出端随之排空退出。
func (pl *Pipeline) Start(ctx context.Context) error {
	parserCtx, stopParser := context.WithCancel(ctx)
	pl.stopParser = stopParser
	pl.sinkWG = pl.Sinks.Start(pl.sinkChans)
	go pl.Dispatcher.Start(context.WithoutCancel(ctx), pl.pointChan)
	go pl.Parser.Start(parserCtx, pl.msgChan, pl.pointChan)
	if err := pl.Connector.Start(pl.msgChan); err != nil {
		return fmt.Errorf("failed to start connector: %w", err)
	}
	return nil
}

// Stop 先关闭连接器, 再等待已接收的数据经过各阶段写出, 最后关闭输出端
func (pl *Pipeline) Stop() {
	if err := pl.Connector.Close(); err != nil {
		pl.logger.Debug("关闭连接器", zap.Error(err))
	}
	if pl.stopParser != nil {
		pl.stopParser()
	}
	if pl.sinkWG != nil {
		done := make(chan struct{})
		go func() {
			pl.sinkWG.Wait()
			close(done)
		}()
		select {
		case <-done:
			pl.logger.Info("输出端通道已排空")
		case <-time.After(drainTimeout):
			pl.logger.Warn("等待输出端排空超时", zap.Duration("timeout", drainTimeout))
		}
	}
	pl.Sinks.Stop()
}

// StartPipeline 创建并启动流水线, 失败时把错误发送到 ctx 中的错误通道
func StartPipeline(ctx context.Context) *Pipeline {
	pl, err := NewPipeline(ctx)
	if err != nil {
		pkg.LoggerFromContext(ctx).Error("failed to create pipeline", zap.Error(err))
		pkg.ReportErr(ctx, err)
		return nil
	}
	if err := pl.Start(ctx); err != nil {
		pkg.LoggerFromContext(ctx).Error("failed to start pipeline", zap.Error(err))
		pl.Stop()
		pkg.ReportErr(ctx, err)
		return nil
	}
	pkg.LoggerFromContext(ctx).Info("===流水线已启动===", zap.Strings("sinks", pl.Routes.Sinks))
	return pl
}
