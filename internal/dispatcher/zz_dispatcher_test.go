package dispatcher

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"uplink/internal/decoder"
	"uplink/internal/pkg"
)

var (
	sinkAll     = pkg.SinkConfig{Type: "console", Enable: true}
	sinkBattery = pkg.SinkConfig{Type: "influxdb", Enable: true, Filter: `Name == "battery"`}
	sinkWarm    = pkg.SinkConfig{Type: "mqtt", Enable: true, Filter: `Name == "internal_temperature" && Value > 20 && Device startsWith "a840"`}
	sinkOff     = pkg.SinkConfig{Type: "kafka", Enable: false, Filter: "this is not compiled"}
	sinkInvalid = pkg.SinkConfig{Type: "mongodb", Enable: true, Filter: "this is not a valid expression !!!"}
	sinkNotBool = pkg.SinkConfig{Type: "mysql", Enable: true, Filter: "Value + 1"}
)

func testPackage() *pkg.PointPackage {
	return &pkg.PointPackage{
		FrameId: "frame-1",
		Device:  "a84041000181c8b5",
		Ts:      time.Now(),
		Readings: []decoder.Reading{
			{Name: "battery", Channel: 0, Value: 99, Type: 3},
			{Name: "internal_temperature", Channel: 1, Value: 20.05, Type: 5},
			{Name: "internal_temperature", Channel: 2, Value: -2, Type: 5},
		},
	}
}

func TestNewHandler(t *testing.T) {
	Convey("编译输出端过滤表达式", t, func() {
		Convey("合法配置, 未启用的输出端被跳过", func() {
			handler, err := NewHandler([]pkg.SinkConfig{sinkAll, sinkBattery, sinkOff})
			So(err, ShouldBeNil)
			So(handler.Sinks, ShouldResemble, []string{"console", "influxdb"})
			So(handler.Filters["console"], ShouldBeNil)
			So(handler.Filters["influxdb"], ShouldNotBeNil)
		})

		Convey("语法错误", func() {
			handler, err := NewHandler([]pkg.SinkConfig{sinkInvalid})
			So(handler, ShouldBeNil)
			So(err.Error(), ShouldContainSubstring, "编译输出端 mongodb 的过滤表达式失败")
		})

		Convey("结果不是布尔值", func() {
			_, err := NewHandler([]pkg.SinkConfig{sinkNotBool})
			So(err, ShouldNotBeNil)
		})

		Convey("重复的输出端", func() {
			_, err := NewHandler([]pkg.SinkConfig{sinkAll, sinkAll})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestDispatch(t *testing.T) {
	Convey("按过滤表达式拆分读数", t, func() {
		handler, err := NewHandler([]pkg.SinkConfig{sinkAll, sinkBattery, sinkWarm})
		So(err, ShouldBeNil)

		pp := testPackage()
		ready, err := handler.Dispatch(pp)
		So(err, ShouldBeNil)
		So(len(ready), ShouldEqual, 3)

		So(ready["console"], ShouldEqual, pp)
		So(len(ready["influxdb"].Readings), ShouldEqual, 1)
		So(ready["influxdb"].Readings[0].Name, ShouldEqual, "battery")
		So(ready["influxdb"].FrameId, ShouldEqual, "frame-1")
		So(len(ready["mqtt"].Readings), ShouldEqual, 1)
		So(ready["mqtt"].Readings[0].Channel, ShouldEqual, uint8(1))

		Convey("没有命中的输出端不出现", func() {
			pp.Device = "other"
			ready, err := handler.Dispatch(pp)
			So(err, ShouldBeNil)
			So(ready, ShouldNotContainKey, "mqtt")
		})

		Convey("没有读数的包不投递", func() {
			ready, err := handler.Dispatch(&pkg.PointPackage{FrameId: "empty"})
			So(err, ShouldBeNil)
			So(ready, ShouldBeEmpty)
		})
	})
}

func TestDispatcher(t *testing.T) {
	Convey("分发循环", t, func() {
		handler, err := NewHandler([]pkg.SinkConfig{sinkAll, sinkBattery})
		So(err, ShouldBeNil)

		core, logs := observer.New(zap.DebugLevel)
		ctx := pkg.WithLogger(context.Background(), zap.New(core))
		metrics := pkg.NewPerformanceMetrics()

		consoleCh := make(chan *pkg.PointPackage, 1)
		influxCh := make(chan *pkg.PointPackage, 4)
		dis := New(ctx, handler, map[string]chan *pkg.PointPackage{
			"console":  consoleCh,
			"influxdb": influxCh,
		}).WithMetrics(metrics)

		source := make(chan *pkg.PointPackage, 2)
		source <- testPackage()
		source <- testPackage()
		close(source)

		done := make(chan struct{})
		go func() {
			dis.Start(ctx, source)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("分发器没有退出")
		}

		So(len(consoleCh), ShouldEqual, 1)
		So(len(influxCh), ShouldEqual, 2)
		So(metrics.GetMsgCount(Stage, pkg.StatProcessed), ShouldEqual, int64(2))
		So(metrics.GetMsgCount("sink:console", pkg.StatErrors), ShouldEqual, int64(1))
		So(logs.FilterMessage("输出端通道已满, 丢弃数据").Len(), ShouldEqual, 1)
	})
}

func TestDispatcher_DrainOnCancel(t *testing.T) {
	Convey("ctx 取消后仍分发缓冲中的包并关闭输出端通道", t, func() {
		handler, err := NewHandler([]pkg.SinkConfig{sinkAll})
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		consoleCh := make(chan *pkg.PointPackage, 4)
		dis := New(ctx, handler, map[string]chan *pkg.PointPackage{"console": consoleCh}).
			WithMetrics(pkg.NewPerformanceMetrics())

		source := make(chan *pkg.PointPackage, 3)
		source <- testPackage()
		source <- testPackage()
		source <- testPackage()

		dis.Start(ctx, source)

		var got int
		for range consoleCh {
			got++
		}
		So(got, ShouldEqual, 3)
	})
}
