package sink

import (
	"encoding/json"
	"time"

	"uplink/internal/decoder"
	"uplink/internal/pkg"
)

// PackagePayload 是 mqtt、kafka 输出端发送的 JSON 结构
type PackagePayload struct {
	FrameId  string            `json:"frame_id"`
	Device   string            `json:"device"`
	Ts       time.Time         `json:"timestamp"`
	Readings []decoder.Reading `json:"readings"`
	Errors   []string          `json:"errors,omitempty"`
}

// EncodePackage 将 PointPackage 编码为 JSON
func EncodePackage(pp *pkg.PointPackage) ([]byte, error) {
	readings := pp.Readings
	if readings == nil {
		readings = []decoder.Reading{}
	}
	return json.Marshal(PackagePayload{
		FrameId:  pp.FrameId,
		Device:   pp.Device,
		Ts:       pp.Ts,
		Readings: readings,
		Errors:   pp.ErrorStrings(),
	})
}
