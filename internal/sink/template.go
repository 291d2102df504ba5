package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"uplink/internal/pkg"
)

// Template 定义了所有输出端的通用接口
type Template interface {
	GetType() string              // Step:1 输出端类型
	Start(chan *pkg.PointPackage) // Step:2 阻塞运行, 通道关闭或 ctx 取消时返回
	Stop()                        // Step:3 刷新并释放连接
}

// FactoryFunc 代表一个输出端的工厂函数
type FactoryFunc func(ctx context.Context, config pkg.SinkConfig) (Template, error)

// Factories 全局工厂映射, 这里面可能包含了没有启用的输出端
var Factories = make(map[string]FactoryFunc)

// Register 注册一个输出端
func Register(sinkType string, factory FactoryFunc) {
	Factories[sinkType] = factory
}

// TemplateCollection 已启用的输出端, 输出端类型 -> 实例
type TemplateCollection map[string]Template

// New 为配置中所有启用的输出端创建实例
func New(ctx context.Context) (TemplateCollection, error) {
	collection := make(TemplateCollection)
	factoryTypes := make([]string, 0, len(Factories))
	for key := range Factories {
		factoryTypes = append(factoryTypes, key)
	}
	sort.Strings(factoryTypes)
	pkg.LoggerFromContext(ctx).Debug("Sink Factory:", zap.Strings("Factories", factoryTypes))

	for _, sinkConfig := range pkg.ConfigFromContext(ctx).Sink {
		if !sinkConfig.Enable {
			continue
		}
		pkg.LoggerFromContext(ctx).Info(fmt.Sprintf("===正在启动Sink: %s===", sinkConfig.Type))
		factory, exists := Factories[sinkConfig.Type]
		if !exists {
			collection.Stop()
			return nil, fmt.Errorf("未找到输出端类型: %s", sinkConfig.Type)
		}
		s, err := factory(pkg.WithLoggerAndModule(ctx, pkg.LoggerFromContext(ctx), "sink."+sinkConfig.Type), sinkConfig)
		if err != nil {
			collection.Stop()
			return nil, fmt.Errorf("初始化输出端 %s 失败: %w", sinkConfig.Type, err)
		}
		collection[sinkConfig.Type] = s
	}
	return collection, nil
}

// Start 为每个输出端启动协程, chans 中没有对应通道的输出端不会启动。
// 返回的 WaitGroup 在所有接收循环退出后完成, 调用 Stop 之前应等待它, 避免丢弃通道中的数据。
func (c TemplateCollection) Start(chans map[string]chan *pkg.PointPackage) *sync.WaitGroup {
	wg := &sync.WaitGroup{}
	for key, s := range c {
		ch, ok := chans[key]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(s Template, ch chan *pkg.PointPackage) {
			defer wg.Done()
			s.Start(ch)
		}(s, ch)
	}
	return wg
}

// Stop 停止所有输出端
func (c TemplateCollection) Stop() {
	for _, s := range c {
		s.Stop()
	}
}

// publishFunc 把一个包写入外部系统
type publishFunc func(pp *pkg.PointPackage) error

// runLoop 是各输出端共用的接收循环
func runLoop(ctx context.Context, sinkType string, logger *zap.Logger, in chan *pkg.PointPackage, publish publishFunc) {
	metrics := pkg.GetPerformanceMetrics()
	stage := "sink:" + sinkType
	handle := func(pp *pkg.PointPackage) {
		metrics.IncMsgReceived(stage)
		timer := metrics.NewTimer(stage)
		if err := publish(pp); err != nil {
			metrics.IncErrorCount()
			metrics.IncMsgErrors(stage)
			logger.Error("写入失败", zap.String("frame", pp.FrameId), zap.String("device", pp.Device), zap.Error(err))
		} else {
			metrics.IncMsgProcessed(stage)
		}
		timer.StopAndLog(logger)
	}
	logger.Info(fmt.Sprintf("===%s sink started===", sinkType))
	for {
		select {
		case <-ctx.Done():
			// 通道中已缓冲的包仍然写出
			n := 0
			for drained := false; !drained; {
				select {
				case pp, ok := <-in:
					if !ok {
						drained = true
						continue
					}
					n++
					handle(pp)
				default:
					drained = true
				}
			}
			logger.Info(fmt.Sprintf("===%s sink stopped===", sinkType), zap.Int("drained", n))
			return
		case pp, ok := <-in:
			if !ok {
				logger.Info(fmt.Sprintf("===%s sink drained===", sinkType))
				return
			}
			handle(pp)
		}
	}
}
