// Package decoder 将自描述的字段字节流解码为带缩放的浮点读数。
//
// 每条记录由 类型码、通道号、若干字节的数据 组成, 数据长度、符号与缩放除数
// 由 schema 按类型码查得。解码是纯函数: 不持有状态, 不做 I/O, 不会 panic,
// 任何异常输入都转化为错误值, 与之前已经解出的读数一起返回。
package decoder

import (
	"fmt"
	"strings"

	"uplink/internal/schema"
)

// Layout 记录头的布局
type Layout int

const (
	// LayoutPadded 类型码, 一个未使用的字节, 通道号
	LayoutPadded Layout = iota
	// LayoutCompact 类型码, 通道号
	LayoutCompact
)

// ParseLayout 解析配置中的布局名称, 空字符串为默认的 padded
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "padded":
		return LayoutPadded, nil
	case "compact":
		return LayoutCompact, nil
	default:
		return 0, fmt.Errorf("未知的记录头布局: %s", s)
	}
}

// headerSize 记录头字节数
func (l Layout) headerSize() int {
	if l == LayoutCompact {
		return 2
	}
	return 3
}

func (l Layout) String() string {
	if l == LayoutCompact {
		return "compact"
	}
	return "padded"
}

// Reading 一条解码结果, 创建后不再修改
type Reading struct {
	Name    string  `json:"name"`
	Channel uint8   `json:"channel"`
	Value   float64 `json:"value"`
	Type    uint8   `json:"type"`
	Offset  int     `json:"offset"`
}

// Decoder 绑定了 schema 与记录头布局, 零状态, 可被多个协程共享
type Decoder struct {
	schema *schema.Schema
	layout Layout
}

// New 创建解码器
func New(s *schema.Schema, layout Layout) *Decoder {
	return &Decoder{schema: s, layout: layout}
}

// Schema 返回解码器使用的 schema
func (d *Decoder) Schema() *schema.Schema {
	return d.schema
}

// Layout 返回记录头布局
func (d *Decoder) Layout() Layout {
	return d.layout
}

// Decode 按默认的 padded 布局解码
func Decode(s *schema.Schema, data []byte) ([]Reading, []error) {
	return New(s, LayoutPadded).Decode(data)
}

// Decode 从头到尾逐条解析记录。
// 遇到未知类型码或数据不足时停止, 返回此前的全部读数与一个错误; 正常结束时错误为空。
func (d *Decoder) Decode(data []byte) ([]Reading, []error) {
	readings := make([]Reading, 0, len(data)/4)
	header := d.layout.headerSize()
	cursor := 0
	for cursor < len(data) {
		start := cursor
		code := data[cursor]

		fd, ok := d.schema.Lookup(code)
		if !ok {
			return readings, []error{&UnknownFieldTypeError{Code: code, Offset: start}}
		}

		// 记录头或数据不完整, 之后的字节无法再对齐
		payloadStart := start + header
		if payloadStart+fd.Size > len(data) {
			available := len(data) - payloadStart
			if available < 0 {
				available = 0
			}
			return readings, []error{&TruncatedPayloadError{
				Field:     fd.Name,
				Offset:    start,
				Required:  fd.Size,
				Available: available,
			}}
		}

		channel := data[payloadStart-1]
		readings = append(readings, Reading{
			Name:    fd.Name,
			Channel: channel,
			Value:   ToDecimal(data[payloadStart:payloadStart+fd.Size], fd.Signed, fd.Divisor),
			Type:    code,
			Offset:  start,
		})
		cursor = payloadStart + fd.Size
	}
	return readings, nil
}
