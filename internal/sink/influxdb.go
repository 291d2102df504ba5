package sink

import (
	"context"
	"fmt"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"uplink/internal/pkg"
)

// 拓展输出端步骤
func init() {
	Register("influxdb", NewInfluxDbSink)
}

// InfluxDbInfo InfluxDB的专属配置
type InfluxDbInfo struct {
	URL       string            `mapstructure:"url"`
	Org       string            `mapstructure:"org"`
	Token     string            `mapstructure:"token"`
	Bucket    string            `mapstructure:"bucket"`
	BatchSize uint              `mapstructure:"batch_size"`
	Tags      map[string]string `mapstructure:"tags"` // 附加到每个点的静态标签
}

// InfluxDbSink 每条读数写为一个点: measurement 为字段名, 标签为设备和通道
type InfluxDbSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	info     InfluxDbInfo
	ctx      context.Context
	logger   *zap.Logger
}

// NewInfluxDbSink Step.0 构造函数
func NewInfluxDbSink(ctx context.Context, config pkg.SinkConfig) (Template, error) {
	var info InfluxDbInfo
	if err := pkg.DecodePara(config.Para, &info); err != nil {
		return nil, fmt.Errorf("[NewInfluxDbSink] %w", err)
	}
	if info.URL == "" || info.Bucket == "" {
		return nil, fmt.Errorf("influxdb 配置缺少 url 或 bucket")
	}
	// 批处理大小为零时使用默认值
	if info.BatchSize == 0 {
		info.BatchSize = 100
	}
	logger := pkg.LoggerFromContext(ctx)
	logger.Debug("InfluxDB配置", zap.String("url", info.URL), zap.String("org", info.Org), zap.String("bucket", info.Bucket))

	client := influxdb2.NewClientWithOptions(info.URL, info.Token, influxdb2.DefaultOptions().SetBatchSize(info.BatchSize))
	writeAPI := client.WriteAPI(info.Org, info.Bucket)
	// 异步写入的错误只能从通道中取得
	go func() {
		for err := range writeAPI.Errors() {
			pkg.GetPerformanceMetrics().IncMsgErrors("sink:influxdb")
			logger.Error("influxdb write error", zap.Error(err))
		}
	}()
	return &InfluxDbSink{
		logger:   logger,
		client:   client,
		writeAPI: writeAPI,
		info:     info,
		ctx:      ctx,
	}, nil
}

// GetType Step.1
func (b *InfluxDbSink) GetType() string {
	return "influxdb"
}

// Start Step.2
func (b *InfluxDbSink) Start(sink chan *pkg.PointPackage) {
	runLoop(b.ctx, b.GetType(), b.logger, sink, b.Publish)
}

// Publish 写入一个包的全部读数
func (b *InfluxDbSink) Publish(pp *pkg.PointPackage) error {
	for _, p := range BuildInfluxPoints(pp, b.info.Tags) {
		b.writeAPI.WritePoint(p)
	}
	b.logger.Debug("InfluxDbSink published", zap.String("frameId", pp.FrameId), zap.Int("points", len(pp.Readings)))
	return nil
}

// BuildInfluxPoints 将读数转换为 InfluxDB 的点
func BuildInfluxPoints(pp *pkg.PointPackage, extraTags map[string]string) []*write.Point {
	points := make([]*write.Point, 0, len(pp.Readings))
	for _, r := range pp.Readings {
		tags := make(map[string]string, len(extraTags)+2)
		for k, v := range extraTags {
			tags[k] = v
		}
		tags["device"] = pp.Device
		tags["channel"] = strconv.Itoa(int(r.Channel))
		points = append(points, influxdb2.NewPoint(
			r.Name,
			tags,
			map[string]interface{}{"value": r.Value},
			pp.Ts,
		))
	}
	return points
}

// Stop 刷新缓冲并关闭客户端
func (b *InfluxDbSink) Stop() {
	b.writeAPI.Flush() // 确保所有数据被写入
	b.client.Close()
}
