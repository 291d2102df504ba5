package pkg

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// 各阶段统计项
const (
	StatReceived  = "received"
	StatProcessed = "processed"
	StatErrors    = "errors"
)

// PerformanceMetrics 存储性能指标数据
type PerformanceMetrics struct {
	StartTime time.Time

	// 应用指标
	ErrorCount     int64
	ProcessingTime int64 // 纳秒
	ProcessedItems int64

	// 消息处理指标, 每个阶段一个计数器, 使用原子操作
	msgStats *concurrentMsgStats
}

// concurrentMsgStats 使用分离锁保护不同类型的消息统计
type concurrentMsgStats struct {
	received  sync.Map // string -> *int64
	processed sync.Map // string -> *int64
	errors    sync.Map // string -> *int64
}

// 全局性能指标实例
var (
	perfMetrics *PerformanceMetrics
	once        sync.Once
)

// GetPerformanceMetrics 返回性能指标实例
func GetPerformanceMetrics() *PerformanceMetrics {
	once.Do(func() {
		perfMetrics = NewPerformanceMetrics()
	})
	return perfMetrics
}

// NewPerformanceMetrics 创建独立的指标实例, 测试中使用
func NewPerformanceMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{
		StartTime: time.Now(),
		msgStats:  &concurrentMsgStats{},
	}
}

// IncErrorCount 增加错误计数并返回当前值
func (pm *PerformanceMetrics) IncErrorCount() int64 {
	return atomic.AddInt64(&pm.ErrorCount, 1)
}

// AddProcessingTime 添加处理时间并返回累计时间
func (pm *PerformanceMetrics) AddProcessingTime(duration time.Duration) int64 {
	return atomic.AddInt64(&pm.ProcessingTime, int64(duration))
}

// IncProcessedItems 增加处理项目数并返回当前值
func (pm *PerformanceMetrics) IncProcessedItems() int64 {
	return atomic.AddInt64(&pm.ProcessedItems, 1)
}

// 从sync.Map中获取计数器，如果不存在则创建
func getOrCreateCounter(m *sync.Map, key string) *int64 {
	if val, ok := m.Load(key); ok {
		return val.(*int64)
	}
	counter := new(int64)
	if actual, loaded := m.LoadOrStore(key, counter); loaded {
		return actual.(*int64)
	}
	return counter
}

// IncMsgReceived 增加特定阶段的接收消息计数并返回当前值
func (pm *PerformanceMetrics) IncMsgReceived(stage string) int64 {
	return atomic.AddInt64(getOrCreateCounter(&pm.msgStats.received, stage), 1)
}

// IncMsgProcessed 增加特定阶段的处理消息计数并返回当前值
func (pm *PerformanceMetrics) IncMsgProcessed(stage string) int64 {
	return atomic.AddInt64(getOrCreateCounter(&pm.msgStats.processed, stage), 1)
}

// IncMsgErrors 增加特定阶段的错误消息计数并返回当前值
func (pm *PerformanceMetrics) IncMsgErrors(stage string) int64 {
	return atomic.AddInt64(getOrCreateCounter(&pm.msgStats.errors, stage), 1)
}

func (pm *PerformanceMetrics) statsMap(statsType string) *sync.Map {
	switch statsType {
	case StatReceived:
		return &pm.msgStats.received
	case StatProcessed:
		return &pm.msgStats.processed
	case StatErrors:
		return &pm.msgStats.errors
	}
	return nil
}

// GetMsgCount 获取特定阶段的消息计数
func (pm *PerformanceMetrics) GetMsgCount(stage string, statsType string) int64 {
	m := pm.statsMap(statsType)
	if m == nil {
		return 0
	}
	if val, ok := m.Load(stage); ok {
		return atomic.LoadInt64(val.(*int64))
	}
	return 0
}

// Stages 返回出现过的所有阶段名称
func (pm *PerformanceMetrics) Stages() []string {
	set := make(map[string]struct{})
	collect := func(key, _ interface{}) bool {
		set[key.(string)] = struct{}{}
		return true
	}
	pm.msgStats.received.Range(collect)
	pm.msgStats.processed.Range(collect)
	pm.msgStats.errors.Range(collect)
	stages := make([]string, 0, len(set))
	for s := range set {
		stages = append(stages, s)
	}
	sort.Strings(stages)
	return stages
}

// GetMetricsReport 获取性能指标报告
func (pm *PerformanceMetrics) GetMetricsReport() string {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	var avgProcessingTime float64
	if items := atomic.LoadInt64(&pm.ProcessedItems); items > 0 {
		avgProcessingTime = float64(atomic.LoadInt64(&pm.ProcessingTime)) / float64(items) / float64(time.Millisecond)
	}

	report := fmt.Sprintf(
		"系统运行时间: %s\n"+
			"协程数: %d\n"+
			"内存使用: %d MB\n"+
			"错误计数: %d\n"+
			"平均处理时间: %.2f ms\n\n",
		time.Since(pm.StartTime).Truncate(time.Second),
		runtime.NumGoroutine(),
		mem.Alloc/1024/1024,
		atomic.LoadInt64(&pm.ErrorCount),
		avgProcessingTime,
	)

	report += "消息统计:\n"
	for _, stage := range pm.Stages() {
		report += fmt.Sprintf("- %s: 接收=%d, 处理=%d, 错误=%d\n",
			stage,
			pm.GetMsgCount(stage, StatReceived),
			pm.GetMsgCount(stage, StatProcessed),
			pm.GetMsgCount(stage, StatErrors))
	}
	return report
}

// LogMetrics 将性能指标写入日志
func (pm *PerformanceMetrics) LogMetrics(logger *zap.Logger) {
	fields := []zap.Field{
		zap.Duration("uptime", time.Since(pm.StartTime)),
		zap.Int("goroutines", runtime.NumGoroutine()),
		zap.Int64("errors", atomic.LoadInt64(&pm.ErrorCount)),
	}
	for _, stage := range pm.Stages() {
		fields = append(fields, zap.Int64s(stage, []int64{
			pm.GetMsgCount(stage, StatReceived),
			pm.GetMsgCount(stage, StatProcessed),
			pm.GetMsgCount(stage, StatErrors),
		}))
	}
	logger.Info("性能指标统计", fields...)
}

// Register 将给定阶段的计数器以 CounterFunc 的形式注册到 prometheus
func (pm *PerformanceMetrics) Register(reg prometheus.Registerer, stages ...string) error {
	for _, stage := range stages {
		for _, statsType := range []string{StatReceived, StatProcessed, StatErrors} {
			stage, statsType := stage, statsType
			c := prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace:   "uplink",
				Name:        "messages_" + statsType + "_total",
				Help:        "Number of messages " + statsType + " per pipeline stage.",
				ConstLabels: prometheus.Labels{"stage": stage},
			}, func() float64 {
				return float64(pm.GetMsgCount(stage, statsType))
			})
			if err := reg.Register(c); err != nil {
				return fmt.Errorf("注册指标 %s/%s 失败: %w", stage, statsType, err)
			}
		}
	}
	return nil
}

// Timer 简单的计时器结构体
type Timer struct {
	start   time.Time
	metrics *PerformanceMetrics
	name    string
}

// NewTimer 创建一个新的计时器
func (pm *PerformanceMetrics) NewTimer(name string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: pm,
		name:    name,
	}
}

// Stop 停止计时器并记录时间
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	t.metrics.AddProcessingTime(duration)
	t.metrics.IncProcessedItems()
	return duration
}

// StopAndLog 停止计时器并记录到日志
func (t *Timer) StopAndLog(logger *zap.Logger) time.Duration {
	duration := t.Stop()
	logger.Debug("操作计时",
		zap.String("operation", t.name),
		zap.Duration("duration", duration),
	)
	return duration
}
