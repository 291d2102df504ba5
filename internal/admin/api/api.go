package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"uplink/internal/decoder"
	"uplink/internal/dispatcher"
	"uplink/internal/parser"
	"uplink/internal/pkg"
)

// API 管理接口的处理器, 与网关共享同一个解码器与分发规则
type API struct {
	decoder  *decoder.Decoder
	encoding parser.Encoding
	routes   *dispatcher.Handler // 可为 nil, 此时不返回分发结果
	logger   *zap.Logger
}

// New 创建处理器
func New(dec *decoder.Decoder, enc parser.Encoding, routes *dispatcher.Handler, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{decoder: dec, encoding: enc, routes: routes, logger: logger}
}

// ErrorResponse 统一的错误返回
type ErrorResponse struct {
	Error string `json:"error"`
}

// Health 健康检查
func (a *API) Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// SchemaResponse GET /api/v1/schema 的返回
type SchemaResponse struct {
	Layout   string         `json:"layout"`
	Encoding string         `json:"encoding"`
	Fields   []FieldSummary `json:"fields"`
}

// FieldSummary 字段表中的一项
type FieldSummary struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Size    int    `json:"size"`
	Signed  bool   `json:"signed"`
	Divisor int    `json:"divisor"`
}

// GetSchema 返回当前生效的字段表
func (a *API) GetSchema(c *gin.Context) {
	entries := a.decoder.Schema().Entries()
	fields := make([]FieldSummary, 0, len(entries))
	for _, e := range entries {
		fields = append(fields, FieldSummary(e))
	}
	c.JSON(http.StatusOK, SchemaResponse{
		Layout:   a.decoder.Layout().String(),
		Encoding: a.encoding.String(),
		Fields:   fields,
	})
}

// DecodeRequest POST /api/v1/decode 的请求体
type DecodeRequest struct {
	Payload  string `json:"payload" binding:"required"`
	Encoding string `json:"encoding"` // 为空时使用网关配置的编码
	Device   string `json:"device"`   // 用于分发规则中的 Device
}

// DecodeResponse 解码结果, 解码提前终止时 Errors 非空但状态码仍为 200
type DecodeResponse struct {
	Device         string                       `json:"device"`
	Readings       []decoder.Reading            `json:"readings"`
	Errors         []string                     `json:"errors"`
	Sinks          map[string][]decoder.Reading `json:"sinks,omitempty"` // 各输出端会收到的读数
	ProcessingTime int64                        `json:"processingTime"`  // 纳秒
}

// Decode 解码一段负载, 不写入任何输出端
func (a *API) Decode(c *gin.Context) {
	var request DecodeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "请求体无效: " + err.Error()})
		return
	}

	enc := a.encoding
	if request.Encoding != "" {
		var err error
		if enc, err = parser.ParseEncoding(request.Encoding); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	start := time.Now()
	p := parser.NewParser(a.decoder, enc, a.logger).WithMetrics(pkg.NewPerformanceMetrics())
	pp, err := p.Parse(&pkg.Message{
		Data: []byte(request.Payload),
		Meta: map[string]string{"device": request.Device},
		Ts:   start,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	resp := DecodeResponse{
		Device:   pp.Device,
		Readings: pp.Readings,
		Errors:   pp.ErrorStrings(),
	}
	if a.routes != nil {
		ready, err := a.routes.Dispatch(pp)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		resp.Sinks = make(map[string][]decoder.Reading, len(ready))
		for sink, sub := range ready {
			resp.Sinks[sink] = sub.Readings
		}
	}
	resp.ProcessingTime = time.Since(start).Nanoseconds()
	a.logger.Debug("decode via admin api", zap.Int("readings", len(resp.Readings)), zap.Strings("errors", resp.Errors))
	c.JSON(http.StatusOK, resp)
}
