package pkg

import (
	"fmt"
	"strings"
	"time"

	"uplink/internal/decoder"
)

// Message 是 Connector 和 Parser 之间传递的数据结构, 一条消息对应一帧上行
type Message struct {
	Data []byte            // 原始负载, 编码方式由 decoder.encoding 决定
	Meta map[string]string // 来源信息, 例如 topic、remote
	Ts   time.Time         // 接收时间
}

// PointPackage 是 Parser、Dispatcher 和 Sink 之间传递的数据结构
type PointPackage struct {
	FrameId  string            // 帧 ID
	Device   string            // 设备标识
	Ts       time.Time         // 时间戳
	Readings []decoder.Reading // 解码出的读数, 按报文顺序
	Errors   []error           // 终止解码的错误, 正常结束时为空
	Raw      []byte            // 解码前的字节
}

// Copy 复制一个只带部分读数的 PointPackage, Dispatcher 按输出端过滤时使用
func (p *PointPackage) Copy(readings []decoder.Reading) *PointPackage {
	return &PointPackage{
		FrameId:  p.FrameId,
		Device:   p.Device,
		Ts:       p.Ts,
		Readings: readings,
		Errors:   p.Errors,
		Raw:      p.Raw,
	}
}

// ErrorStrings 将错误转换为字符串, 便于序列化
func (p *PointPackage) ErrorStrings() []string {
	out := make([]string, 0, len(p.Errors))
	for _, err := range p.Errors {
		out = append(out, err.Error())
	}
	return out
}

// String 方法实现
func (p *PointPackage) String() string {
	parts := make([]string, 0, len(p.Readings))
	for _, r := range p.Readings {
		parts = append(parts, fmt.Sprintf("%s[%d]=%v", r.Name, r.Channel, r.Value))
	}
	return fmt.Sprintf("PointPackage(FrameId=%s, Device=%s, Readings={%s}, Errors=%d, Ts=%s)",
		p.FrameId, p.Device, strings.Join(parts, ", "), len(p.Errors), p.Ts.Format(time.RFC3339))
}
