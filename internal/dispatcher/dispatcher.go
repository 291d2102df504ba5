package dispatcher

import (
	"context"

	"go.uber.org/zap"

	"uplink/internal/pkg"
)

// Stage 在性能指标中使用的阶段名称
const Stage = "dispatcher"

// Dispatcher 从解析器接收 PointPackage, 按过滤结果投递到各输出端的通道
type Dispatcher struct {
	handler *Handler
	sinkMap map[string]chan *pkg.PointPackage // 输出端名称 -> 其通道
	logger  *zap.Logger
	metrics *pkg.PerformanceMetrics
}

// New 创建分发器, sinkMap 中缺少的输出端会被忽略
func New(ctx context.Context, handler *Handler, sinkMap map[string]chan *pkg.PointPackage) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		sinkMap: sinkMap,
		logger:  pkg.LoggerFromContext(ctx),
		metrics: pkg.GetPerformanceMetrics(),
	}
}

// WithMetrics 替换指标实例
func (dis *Dispatcher) WithMetrics(m *pkg.PerformanceMetrics) *Dispatcher {
	dis.metrics = m
	return dis
}

// Start 启动分发循环, source 关闭时返回。ctx 取消后先分发完 source 中已缓冲的包再返回。
// 分发器是输出端通道唯一的写入方, 返回时关闭全部输出端通道。
func (dis *Dispatcher) Start(ctx context.Context, source <-chan *pkg.PointPackage) {
	defer dis.closeSinks()
	dis.logger.Info("===分发器启动===", zap.Strings("sinks", dis.handler.Sinks))
	for {
		select {
		case <-ctx.Done():
			n := 0
			for drained := false; !drained; {
				select {
				case pp, ok := <-source:
					if !ok {
						drained = true
						continue
					}
					n++
					dis.handle(pp)
				default:
					drained = true
				}
			}
			dis.logger.Info("分发器已停止", zap.Int("drained", n))
			return
		case pp, ok := <-source:
			if !ok {
				dis.logger.Info("解析器通道已关闭, 分发器退出")
				return
			}
			dis.handle(pp)
		}
	}
}

func (dis *Dispatcher) handle(pp *pkg.PointPackage) {
	dis.metrics.IncMsgReceived(Stage)
	timer := dis.metrics.NewTimer(Stage)
	if err := dis.launch(pp); err != nil {
		dis.metrics.IncErrorCount()
		dis.metrics.IncMsgErrors(Stage)
		dis.logger.Error("分发失败", zap.String("frame", pp.FrameId), zap.Error(err))
	} else {
		dis.metrics.IncMsgProcessed(Stage)
	}
	timer.StopAndLog(dis.logger)
}

func (dis *Dispatcher) closeSinks() {
	for _, ch := range dis.sinkMap {
		close(ch)
	}
}

// launch 将一个包投递到所有命中的输出端, 通道已满时丢弃并告警, 不阻塞其它输出端
func (dis *Dispatcher) launch(pp *pkg.PointPackage) error {
	ready, err := dis.handler.Dispatch(pp)
	if err != nil {
		return err
	}
	for sink, sub := range ready {
		ch, ok := dis.sinkMap[sink]
		if !ok {
			continue
		}
		select {
		case ch <- sub:
			dis.logger.Debug("已投递", zap.String("sink", sink), zap.Int("readings", len(sub.Readings)))
		default:
			dis.metrics.IncMsgErrors("sink:" + sink)
			dis.logger.Warn("输出端通道已满, 丢弃数据",
				zap.String("sink", sink),
				zap.String("frame", sub.FrameId),
				zap.String("device", sub.Device))
		}
	}
	return nil
}
