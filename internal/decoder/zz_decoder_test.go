package decoder

import (
	"errors"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"uplink/internal/schema"
)

// 参考设备的字段表
var sensorEntries = []schema.Entry{
	{Code: 0, Name: "options", Size: 1, Divisor: 1},
	{Code: 1, Name: "backlogCount", Size: 2, Divisor: 1},
	{Code: 2, Name: "battery", Size: 1, Divisor: 1},
	{Code: 3, Name: "timestamp", Size: 4, Divisor: 1},
	{Code: 4, Name: "rssi", Size: 1, Signed: true, Divisor: 1},
	{Code: 5, Name: "internal_temperature", Size: 2, Signed: true, Divisor: 100},
	{Code: 6, Name: "external_temperature", Size: 2, Signed: true, Divisor: 100},
	{Code: 7, Name: "sht85_humidity", Size: 1, Divisor: 2},
	{Code: 8, Name: "voltage", Size: 2, Signed: true, Divisor: 100},
	{Code: 9, Name: "current", Size: 2, Signed: true, Divisor: 100},
	{Code: 10, Name: "door", Size: 1, Divisor: 1},
	{Code: 11, Name: "error_mask", Size: 2, Divisor: 1},
	{Code: 12, Name: "snr", Size: 1, Signed: true, Divisor: 1},
	{Code: 13, Name: "sht85_temperature", Size: 2, Signed: true, Divisor: 100},
	{Code: 20, Name: "configuration", Size: 2, Divisor: 1},
	{Code: 21, Name: "meas_period", Size: 2, Divisor: 1},
	{Code: 22, Name: "epoch", Size: 4, Divisor: 1},
	{Code: 23, Name: "get_backlog", Size: 2, Divisor: 1},
}

// 参考设备的一帧上行数据, 记录头为 类型码+通道号
var sensorFrame = []byte{
	0, 10, 1,
	1, 11, 1, 183,
	2, 10, 100,
	3, 12, 101, 75, 88, 53,
	4, 10, 209,
	5, 14, 7, 213,
	7, 104, 99,
	13, 14, 7, 144,
	11, 11, 0, 0,
	12, 10, 7,
}

func mustSchema(entries ...schema.Entry) *schema.Schema {
	s, err := schema.Build(entries)
	if err != nil {
		panic(err)
	}
	return s
}

func TestDecode(t *testing.T) {
	Convey("测试 Decode", t, func() {
		battery := schema.Entry{Code: 3, Name: "battery", Size: 1, Divisor: 1}
		temp := schema.Entry{Code: 1, Name: "temperature", Size: 2, Signed: true, Divisor: 100}
		s := mustSchema(battery, temp)

		Convey("单条记录, 类型码与通道号之间跳过一个字节", func() {
			readings, errs := Decode(s, []byte{3, 0, 0, 99})
			So(errs, ShouldBeEmpty)
			So(readings, ShouldHaveLength, 1)
			So(readings[0].Name, ShouldEqual, "battery")
			So(readings[0].Channel, ShouldEqual, uint8(0))
			So(readings[0].Value, ShouldEqual, 99.0)
			So(readings[0].Type, ShouldEqual, uint8(3))
		})

		Convey("通道号取自跳过字节之后的位置", func() {
			readings, errs := Decode(s, []byte{3, 0xAA, 5, 42, 1, 0xBB, 2, 0xFF, 0x38})
			So(errs, ShouldBeEmpty)
			So(readings, ShouldResemble, []Reading{
				{Name: "battery", Channel: 5, Value: 42, Type: 3, Offset: 0},
				{Name: "temperature", Channel: 2, Value: -2, Type: 1, Offset: 4},
			})
		})

		Convey("空输入正常结束", func() {
			readings, errs := Decode(s, nil)
			So(errs, ShouldBeEmpty)
			So(readings, ShouldBeEmpty)
		})

		Convey("数据不足时返回此前的读数和一个 TruncatedPayload 错误", func() {
			readings, errs := Decode(s, []byte{3, 0, 0, 99, 1, 0, 5, 0x07})
			So(readings, ShouldHaveLength, 1)
			So(readings[0].Name, ShouldEqual, "battery")
			So(errs, ShouldHaveLength, 1)
			So(errors.Is(errs[0], ErrTruncatedPayload), ShouldBeTrue)

			var te *TruncatedPayloadError
			So(errors.As(errs[0], &te), ShouldBeTrue)
			So(te.Field, ShouldEqual, "temperature")
			So(te.Offset, ShouldEqual, 4)
			So(te.Required, ShouldEqual, 2)
			So(te.Available, ShouldEqual, 1)
		})

		Convey("记录头不完整同样视为数据不足", func() {
			readings, errs := Decode(s, []byte{3, 0})
			So(readings, ShouldBeEmpty)
			So(errs, ShouldHaveLength, 1)

			var te *TruncatedPayloadError
			So(errors.As(errs[0], &te), ShouldBeTrue)
			So(te.Field, ShouldEqual, "battery")
			So(te.Required, ShouldEqual, 1)
			So(te.Available, ShouldEqual, 0)
		})

		Convey("未知类型码时停止解码, 即使后面还有字节", func() {
			readings, errs := Decode(s, []byte{3, 0, 0, 99, 9, 0, 0, 3, 0, 0, 1})
			So(readings, ShouldHaveLength, 1)
			So(errs, ShouldHaveLength, 1)
			So(errors.Is(errs[0], ErrUnknownFieldType), ShouldBeTrue)

			var ue *UnknownFieldTypeError
			So(errors.As(errs[0], &ue), ShouldBeTrue)
			So(ue.Code, ShouldEqual, uint8(9))
			So(ue.Offset, ShouldEqual, 4)
			So(ue.Error(), ShouldContainSubstring, "code=9")
		})

		Convey("同一输入解码两次结果一致", func() {
			data := []byte{3, 0, 1, 10, 1, 0, 2, 0x80, 0x00, 3, 0, 3, 20}
			r1, e1 := Decode(s, data)
			r2, e2 := Decode(s, data)
			So(e1, ShouldBeEmpty)
			So(e2, ShouldBeEmpty)
			So(r1, ShouldResemble, r2)
			So(r1, ShouldHaveLength, 3)
			So(r1[1].Value, ShouldEqual, -327.68)
		})
	})
}

func TestDecoderCompactLayout(t *testing.T) {
	Convey("compact 布局解码参考设备帧", t, func() {
		d := New(mustSchema(sensorEntries...), LayoutCompact)
		So(d.Layout(), ShouldEqual, LayoutCompact)

		readings, errs := d.Decode(sensorFrame)
		So(errs, ShouldBeEmpty)
		So(readings, ShouldHaveLength, 10)

		got := make(map[string]float64, len(readings))
		for _, r := range readings {
			got[r.Name] = r.Value
		}
		So(got["options"], ShouldEqual, 1.0)
		So(got["backlogCount"], ShouldEqual, 439.0)
		So(got["battery"], ShouldEqual, 100.0)
		So(got["timestamp"], ShouldEqual, 1699436597.0)
		So(got["rssi"], ShouldEqual, -47.0)
		So(got["internal_temperature"], ShouldEqual, 20.05)
		So(got["sht85_humidity"], ShouldEqual, 49.5)
		So(got["sht85_temperature"], ShouldEqual, 19.36)
		So(got["error_mask"], ShouldEqual, 0.0)
		So(got["snr"], ShouldEqual, 7.0)

		So(readings[0].Channel, ShouldEqual, uint8(10))
		So(readings[1].Channel, ShouldEqual, uint8(11))
		So(readings[5].Channel, ShouldEqual, uint8(14))
	})
}

func TestParseLayout(t *testing.T) {
	Convey("解析记录头布局", t, func() {
		l, err := ParseLayout("")
		So(err, ShouldBeNil)
		So(l, ShouldEqual, LayoutPadded)

		l, err = ParseLayout(" Compact ")
		So(err, ShouldBeNil)
		So(l, ShouldEqual, LayoutCompact)
		So(l.String(), ShouldEqual, "compact")

		_, err = ParseLayout("tlv")
		So(err, ShouldNotBeNil)
	})
}

func TestDecoderConcurrent(t *testing.T) {
	Convey("同一个 Decoder 被多个协程共享", t, func() {
		d := New(mustSchema(sensorEntries...), LayoutCompact)
		unknown := append(append([]byte{}, sensorFrame[:10]...), 99, 0)
		frames := [][]byte{sensorFrame, sensorFrame[:len(sensorFrame)-2], unknown}

		type result struct {
			readings []Reading
			errs     []error
		}
		want := make([]result, len(frames))
		for i, f := range frames {
			want[i].readings, want[i].errs = d.Decode(f)
		}

		const workers = 16
		got := make([][]result, workers)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				got[w] = make([]result, 0, len(frames)*10)
				for round := 0; round < 10; round++ {
					for _, f := range frames {
						r, errs := d.Decode(f)
						got[w] = append(got[w], result{r, errs})
					}
				}
			}(w)
		}
		wg.Wait()

		for w := 0; w < workers; w++ {
			for i, r := range got[w] {
				So(r.readings, ShouldResemble, want[i%len(frames)].readings)
				So(r.errs, ShouldResemble, want[i%len(frames)].errs)
			}
		}
		So(want[0].errs, ShouldBeEmpty)
		So(len(want[1].errs), ShouldEqual, 1)
		So(errors.Is(want[2].errs[0], ErrUnknownFieldType), ShouldBeTrue)
	})
}
