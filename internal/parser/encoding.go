package parser

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Encoding 消息负载的编码方式
type Encoding int

const (
	EncodingRaw    Encoding = iota // 负载即字段字节流
	EncodingHex                    // 十六进制文本
	EncodingBase64                 // base64 文本
	EncodingJSON                   // 网络服务器推送的上行事件
)

var encodingNames = map[Encoding]string{
	EncodingRaw:    "raw",
	EncodingHex:    "hex",
	EncodingBase64: "base64",
	EncodingJSON:   "json",
}

// ParseEncoding 解析配置中的编码名称, 空字符串为 raw
func ParseEncoding(s string) (Encoding, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return EncodingRaw, nil
	}
	for enc, n := range encodingNames {
		if n == name {
			return enc, nil
		}
	}
	return 0, fmt.Errorf("未知的负载编码: %s", s)
}

func (e Encoding) String() string {
	if n, ok := encodingNames[e]; ok {
		return n
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// Uplink 从消息中还原出的上行帧
type Uplink struct {
	Device  string
	FPort   int
	Payload []byte
	Ts      time.Time // 网络服务器给出的时间, 可能为空
}

// uplinkEvent 同时兼容 ChirpStack v4 (deviceInfo) 与 v3 (devEUI) 的上行事件
type uplinkEvent struct {
	DeviceInfo struct {
		DevEui     string `json:"devEui"`
		DeviceName string `json:"deviceName"`
	} `json:"deviceInfo"`
	DevEUI     string    `json:"devEUI"`
	DeviceName string    `json:"deviceName"`
	FPort      int       `json:"fPort"`
	Data       []byte    `json:"data"` // base64, json 包自动解码
	Time       time.Time `json:"time"`
}

func (ev *uplinkEvent) device() string {
	switch {
	case ev.DeviceInfo.DevEui != "":
		return ev.DeviceInfo.DevEui
	case ev.DevEUI != "":
		return ev.DevEUI
	case ev.DeviceInfo.DeviceName != "":
		return ev.DeviceInfo.DeviceName
	}
	return ev.DeviceName
}

// Unwrap 按编码方式取出字段字节流
func (e Encoding) Unwrap(data []byte) (*Uplink, error) {
	switch e {
	case EncodingRaw:
		return &Uplink{Payload: data}, nil
	case EncodingHex:
		payload, err := hex.DecodeString(string(bytes.TrimSpace(data)))
		if err != nil {
			return nil, fmt.Errorf("hex 解码失败: %w", err)
		}
		return &Uplink{Payload: payload}, nil
	case EncodingBase64:
		payload, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
		if err != nil {
			return nil, fmt.Errorf("base64 解码失败: %w", err)
		}
		return &Uplink{Payload: payload}, nil
	case EncodingJSON:
		var ev uplinkEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal JSON 失败: %w", err)
		}
		return &Uplink{Device: ev.device(), FPort: ev.FPort, Payload: ev.Data, Ts: ev.Time}, nil
	}
	return nil, fmt.Errorf("未知的负载编码: %d", int(e))
}
