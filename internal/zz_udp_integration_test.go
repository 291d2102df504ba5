package internal

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"

	"uplink/internal/connector"
	"uplink/internal/pkg"
	"uplink/internal/schema"
	"uplink/internal/sink"
)

// memorySink 把收到的包保存在内存中
type memorySink struct {
	mu       sync.Mutex
	received []*pkg.PointPackage
}

func (m *memorySink) GetType() string { return "memory" }

func (m *memorySink) Start(ch chan *pkg.PointPackage) {
	for pp := range ch {
		m.mu.Lock()
		m.received = append(m.received, pp)
		m.mu.Unlock()
	}
}

func (m *memorySink) Stop() {}

func (m *memorySink) snapshot() []*pkg.PointPackage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*pkg.PointPackage(nil), m.received...)
}

// TestUDPPipelineIntegration 测试 UDP 数据从接收到解码再到输出端的完整流程
func TestUDPPipelineIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过集成测试")
	}

	Convey("UDP 上行经过流水线到达内存输出端", t, func() {
		mem := &memorySink{}
		sink.Register("memory", func(ctx context.Context, _ pkg.SinkConfig) (sink.Template, error) { return mem, nil })
		Reset(func() { delete(sink.Factories, "memory") })

		config := &pkg.Config{
			Decoder: pkg.DecoderConfig{Layout: "compact", Encoding: "raw"},
			Fields: []schema.Entry{
				{Code: 2, Name: "battery", Size: 1, Divisor: 1},
				{Code: 4, Name: "rssi", Size: 1, Signed: true, Divisor: 1},
			},
			Connector: pkg.ConnectorConfig{Type: "udp", Para: map[string]interface{}{
				"url":     "127.0.0.1:0",
				"ipAlias": map[string]interface{}{},
			}},
			Sink: []pkg.SinkConfig{{Type: "memory", Enable: true, Filter: "Value < 0"}},
		}
		ctx, cancel := context.WithCancel(pkg.WithLogger(pkg.WithConfig(context.Background(), config), zaptest.NewLogger(t)))
		Reset(cancel)

		pl, err := NewPipeline(ctx)
		So(err, ShouldBeNil)
		So(pl.Start(ctx), ShouldBeNil)
		Reset(pl.Stop)

		udp, ok := pl.Connector.(*connector.UdpConnector)
		So(ok, ShouldBeTrue)
		conn, err := net.Dial("udp", udp.Addr().String())
		So(err, ShouldBeNil)
		Reset(func() { _ = conn.Close() })

		Convey("只有满足过滤条件的读数被转发", func() {
			// battery=100, rssi=-47, 然后是未知类型 9
			_, err := conn.Write([]byte{0x02, 0x00, 0x64, 0x04, 0x01, 0xd1, 0x09, 0x00})
			So(err, ShouldBeNil)

			deadline := time.Now().Add(2 * time.Second)
			for len(mem.snapshot()) == 0 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			received := mem.snapshot()
			So(received, ShouldHaveLength, 1)

			pp := received[0]
			So(pp.Device, ShouldEqual, conn.LocalAddr().String())
			So(pp.Readings, ShouldHaveLength, 1)
			So(pp.Readings[0].Name, ShouldEqual, "rssi")
			So(pp.Readings[0].Channel, ShouldEqual, uint8(1))
			So(pp.Readings[0].Value, ShouldEqual, -47.0)
			So(pp.Errors, ShouldHaveLength, 1)
		})
	})
}
