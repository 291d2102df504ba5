package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"uplink/internal/pkg"
)

// 初始化函数，注册 Prometheus 输出端
func init() {
	Register("prometheus", NewPrometheusSink)
}

// PrometheusInfo Prometheus 的专属配置
type PrometheusInfo struct {
	Addr     string `mapstructure:"addr"`     // 独立监听地址, 为空时由管理接口的 /metrics 暴露
	Endpoint string `mapstructure:"endpoint"` // 默认 /metrics
}

// PrometheusSink 用 GaugeVec 暴露每个设备每个通道的最新读数
type PrometheusSink struct {
	info   PrometheusInfo
	ctx    context.Context
	logger *zap.Logger
	gauge  *prometheus.GaugeVec
	reg    prometheus.Registerer
	server *http.Server
}

// NewPrometheusSink Step.0 构造函数, 指标注册到默认注册表
func NewPrometheusSink(ctx context.Context, config pkg.SinkConfig) (Template, error) {
	info := PrometheusInfo{Endpoint: "/metrics"}
	if err := pkg.DecodePara(config.Para, &info); err != nil {
		return nil, err
	}
	p, err := newPrometheusSink(ctx, info, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}
	if info.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(info.Endpoint, promhttp.Handler())
		p.server = &http.Server{Addr: info.Addr, Handler: mux}
		go func() {
			p.logger.Info("Starting Prometheus HTTP server", zap.String("addr", info.Addr), zap.String("endpoint", info.Endpoint))
			if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				pkg.ReportErr(ctx, fmt.Errorf("prometheus HTTP 服务启动失败: %w", err))
			}
		}()
	}
	return p, nil
}

func newPrometheusSink(ctx context.Context, info PrometheusInfo, reg prometheus.Registerer) (*PrometheusSink, error) {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "uplink",
		Name:      "reading",
		Help:      "Latest decoded value per device, field and channel.",
	}, []string{"device", "name", "channel"})
	if err := reg.Register(gauge); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("注册 Prometheus 指标失败: %w", err)
		}
		gauge = are.ExistingCollector.(*prometheus.GaugeVec)
	}
	return &PrometheusSink{
		info:   info,
		ctx:    ctx,
		logger: pkg.LoggerFromContext(ctx),
		gauge:  gauge,
		reg:    reg,
	}, nil
}

// GetType Step.1
func (p *PrometheusSink) GetType() string {
	return "prometheus"
}

// Start Step.2
func (p *PrometheusSink) Start(sink chan *pkg.PointPackage) {
	runLoop(p.ctx, p.GetType(), p.logger, sink, p.Publish)
}

// Publish 更新读数对应的 gauge
func (p *PrometheusSink) Publish(pp *pkg.PointPackage) error {
	for _, r := range pp.Readings {
		p.gauge.With(prometheus.Labels{
			"device":  pp.Device,
			"name":    r.Name,
			"channel": strconv.Itoa(int(r.Channel)),
		}).Set(r.Value)
	}
	return nil
}

// Stop 停止独立的 HTTP 服务
func (p *PrometheusSink) Stop() {
	if p.server != nil {
		_ = p.server.Close()
	}
	p.logger.Info("Stopping PrometheusSink")
}
