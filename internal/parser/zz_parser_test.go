package parser

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"uplink/internal/decoder"
	"uplink/internal/pkg"
	"uplink/internal/schema"
)

func testDecoder() *decoder.Decoder {
	s, err := schema.Build([]schema.Entry{
		{Code: 3, Name: "battery", Size: 1, Divisor: 1},
		{Code: 5, Name: "internal_temperature", Size: 2, Signed: true, Divisor: 100},
	})
	if err != nil {
		panic(err)
	}
	return decoder.New(s, decoder.LayoutPadded)
}

func TestParseEncoding(t *testing.T) {
	Convey("解析编码名称", t, func() {
		for name, want := range map[string]Encoding{
			"":        EncodingRaw,
			"raw":     EncodingRaw,
			"HEX":     EncodingHex,
			" base64": EncodingBase64,
			"json":    EncodingJSON,
		} {
			enc, err := ParseEncoding(name)
			So(err, ShouldBeNil)
			So(enc, ShouldEqual, want)
		}
		_, err := ParseEncoding("protobuf")
		So(err, ShouldNotBeNil)
		So(EncodingBase64.String(), ShouldEqual, "base64")
	})
}

func TestUnwrap(t *testing.T) {
	Convey("按编码还原字段字节流", t, func() {
		want := []byte{3, 0, 0, 99}

		Convey("hex", func() {
			u, err := EncodingHex.Unwrap([]byte("03000063\n"))
			So(err, ShouldBeNil)
			So(u.Payload, ShouldResemble, want)
		})

		Convey("base64", func() {
			u, err := EncodingBase64.Unwrap([]byte("AwAAYw=="))
			So(err, ShouldBeNil)
			So(u.Payload, ShouldResemble, want)
		})

		Convey("ChirpStack v4 上行事件", func() {
			u, err := EncodingJSON.Unwrap([]byte(`{
				"deviceInfo": {"devEui": "a84041000181c8b5", "deviceName": "sensor-01"},
				"fPort": 2,
				"data": "AwAAYw==",
				"time": "2023-11-08T09:43:17Z"
			}`))
			So(err, ShouldBeNil)
			So(u.Device, ShouldEqual, "a84041000181c8b5")
			So(u.FPort, ShouldEqual, 2)
			So(u.Payload, ShouldResemble, want)
			So(u.Ts.Equal(time.Date(2023, 11, 8, 9, 43, 17, 0, time.UTC)), ShouldBeTrue)
		})

		Convey("ChirpStack v3 上行事件", func() {
			u, err := EncodingJSON.Unwrap([]byte(`{"devEUI": "a84041000181c8b6", "fPort": 2, "data": "AwAAYw=="}`))
			So(err, ShouldBeNil)
			So(u.Device, ShouldEqual, "a84041000181c8b6")
			So(u.Ts.IsZero(), ShouldBeTrue)
		})

		Convey("非法输入", func() {
			_, err := EncodingHex.Unwrap([]byte("zz"))
			So(err, ShouldNotBeNil)
			_, err = EncodingBase64.Unwrap([]byte("!!!"))
			So(err, ShouldNotBeNil)
			_, err = EncodingJSON.Unwrap([]byte(`{"data": 1}`))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestParse(t *testing.T) {
	Convey("Parse 生成 PointPackage", t, func() {
		p := NewParser(testDecoder(), EncodingBase64, nil).WithMetrics(pkg.NewPerformanceMetrics())
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		Convey("设备名来自消息元信息", func() {
			pp, err := p.Parse(&pkg.Message{
				Data: []byte("AwAAYwUAAf84"),
				Meta: map[string]string{"device": "udp:10.0.0.2:5000"},
				Ts:   ts,
			})
			So(err, ShouldBeNil)
			So(pp.FrameId, ShouldNotBeEmpty)
			So(pp.Device, ShouldEqual, "udp:10.0.0.2:5000")
			So(pp.Ts.Equal(ts), ShouldBeTrue)
			So(pp.Errors, ShouldBeEmpty)
			So(len(pp.Readings), ShouldEqual, 2)
			So(pp.Readings[0].Name, ShouldEqual, "battery")
			So(pp.Readings[0].Value, ShouldEqual, 99.0)
			So(pp.Readings[1].Channel, ShouldEqual, uint8(1))
			So(pp.Readings[1].Value, ShouldEqual, -2.0)
		})

		Convey("解码错误随包返回, 保留此前的读数", func() {
			p := NewParser(testDecoder(), EncodingRaw, nil)
			pp, err := p.Parse(&pkg.Message{Data: []byte{3, 0, 0, 99, 9, 0, 0}})
			So(err, ShouldBeNil)
			So(len(pp.Readings), ShouldEqual, 1)
			So(len(pp.Errors), ShouldEqual, 1)
			So(errors.Is(pp.Errors[0], decoder.ErrUnknownFieldType), ShouldBeTrue)
			So(pp.Ts.IsZero(), ShouldBeFalse)
		})

		Convey("负载无法还原时返回错误", func() {
			_, err := p.Parse(&pkg.Message{Data: []byte("not base64")})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNew(t *testing.T) {
	Convey("根据配置创建解析器", t, func() {
		config := &pkg.Config{
			Decoder: pkg.DecoderConfig{Layout: "compact", Encoding: "hex"},
			Fields:  []schema.Entry{{Code: 3, Name: "battery", Size: 1, Divisor: 1}},
		}
		p, err := New(pkg.WithConfig(context.Background(), config))
		So(err, ShouldBeNil)
		So(p.Encoding(), ShouldEqual, EncodingHex)
		So(p.Decoder().Layout(), ShouldEqual, decoder.LayoutCompact)

		Convey("配置错误", func() {
			config.Decoder.Layout = "tight"
			_, err := New(pkg.WithConfig(context.Background(), config))
			So(err, ShouldNotBeNil)

			config.Decoder.Layout = ""
			config.Fields = []schema.Entry{{Code: 3, Name: "battery", Size: 0, Divisor: 1}}
			_, err = New(pkg.WithConfig(context.Background(), config))
			So(errors.Is(err, schema.ErrInvalidDescriptor), ShouldBeTrue)

			config.Fields = nil
			_, err = New(pkg.WithConfig(context.Background(), config))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestStart(t *testing.T) {
	Convey("解析循环", t, func() {
		core, logs := observer.New(zap.DebugLevel)
		metrics := pkg.NewPerformanceMetrics()
		p := NewParser(testDecoder(), EncodingHex, zap.New(core)).WithMetrics(metrics)

		in := make(chan *pkg.Message, 3)
		out := make(chan *pkg.PointPackage, 3)
		in <- &pkg.Message{Data: []byte("03000063")}
		in <- &pkg.Message{Data: []byte("xyz")}
		in <- &pkg.Message{Data: []byte("0300006305")}
		close(in)

		done := make(chan struct{})
		go func() {
			p.Start(context.Background(), in, out)
			close(done)
		}()

		var got []*pkg.PointPackage
		for pp := range out {
			got = append(got, pp)
		}
		<-done

		So(len(got), ShouldEqual, 2)
		So(got[0].Errors, ShouldBeEmpty)
		So(len(got[1].Errors), ShouldEqual, 1)
		So(errors.Is(got[1].Errors[0], decoder.ErrTruncatedPayload), ShouldBeTrue)
		So(metrics.GetMsgCount(Stage, pkg.StatReceived), ShouldEqual, int64(3))
		So(metrics.GetMsgCount(Stage, pkg.StatProcessed), ShouldEqual, int64(2))
		So(metrics.GetMsgCount(Stage, pkg.StatErrors), ShouldEqual, int64(2))
		So(logs.FilterMessage("负载还原失败").Len(), ShouldEqual, 1)
		So(logs.FilterMessage("解码提前终止").Len(), ShouldEqual, 1)
	})

	Convey("ctx 取消后退出", t, func() {
		p := NewParser(testDecoder(), EncodingRaw, nil).WithMetrics(pkg.NewPerformanceMetrics())
		ctx, cancel := context.WithCancel(context.Background())
		in := make(chan *pkg.Message)
		out := make(chan *pkg.PointPackage)
		done := make(chan struct{})
		go func() {
			p.Start(ctx, in, out)
			close(done)
		}()
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("解析器没有在 ctx 取消后退出")
		}
		_, ok := <-out
		So(ok, ShouldBeFalse)
	})

	Convey("ctx 取消时缓冲中的消息仍被处理", t, func() {
		p := NewParser(testDecoder(), EncodingHex, nil).WithMetrics(pkg.NewPerformanceMetrics())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		in := make(chan *pkg.Message, 3)
		out := make(chan *pkg.PointPackage, 3)
		in <- &pkg.Message{Data: []byte("03000063")}
		in <- &pkg.Message{Data: []byte("03000164")}

		p.Start(ctx, in, out)

		var got []*pkg.PointPackage
		for pp := range out {
			got = append(got, pp)
		}
		So(len(got), ShouldEqual, 2)
		So(got[1].Readings[0].Value, ShouldEqual, 100.0)
	})
}
