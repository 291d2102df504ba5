package dispatcher

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"uplink/internal/decoder"
	"uplink/internal/pkg"
)

// Env 是过滤表达式执行的环境, 对应一条读数
type Env struct {
	Device  string  // 设备标识
	Name    string  // 字段名称
	Channel int     // 通道号
	Type    int     // 类型码
	Value   float64 // 解码值
}

// BuildFilterExprOptions 返回用于编译过滤表达式的 expr 选项
func BuildFilterExprOptions() []expr.Option {
	return []expr.Option{
		expr.Env(Env{}),
		expr.AsBool(),
	}
}

// Handler 按输出端的过滤表达式拆分 PointPackage
type Handler struct {
	Sinks   []string               // 输出端名称, 保持配置顺序
	Filters map[string]*vm.Program // 输出端名称 -> 过滤表达式, 为 nil 时全部通过
}

// NewHandler 编译所有启用输出端的过滤表达式
func NewHandler(sinkConfigs []pkg.SinkConfig) (*Handler, error) {
	handler := &Handler{
		Sinks:   make([]string, 0, len(sinkConfigs)),
		Filters: make(map[string]*vm.Program, len(sinkConfigs)),
	}
	for _, sc := range sinkConfigs {
		if !sc.Enable {
			continue
		}
		if _, exists := handler.Filters[sc.Type]; exists {
			return nil, fmt.Errorf("输出端 %s 重复配置", sc.Type)
		}
		var program *vm.Program
		if sc.Filter != "" {
			var err error
			program, err = expr.Compile(sc.Filter, BuildFilterExprOptions()...)
			if err != nil {
				return nil, fmt.Errorf("编译输出端 %s 的过滤表达式失败: %w", sc.Type, err)
			}
		}
		handler.Sinks = append(handler.Sinks, sc.Type)
		handler.Filters[sc.Type] = program
	}
	return handler, nil
}

// Match 判断一条读数是否发往某个输出端
func (h *Handler) Match(sink string, device string, r decoder.Reading) (bool, error) {
	program, ok := h.Filters[sink]
	if !ok {
		return false, nil
	}
	if program == nil {
		return true, nil
	}
	result, err := expr.Run(program, Env{
		Device:  device,
		Name:    r.Name,
		Channel: int(r.Channel),
		Type:    int(r.Type),
		Value:   r.Value,
	})
	if err != nil {
		return false, fmt.Errorf("执行输出端 %s 的过滤表达式失败: %w", sink, err)
	}
	return result.(bool), nil
}

// Dispatch 返回 输出端名称 -> 该输出端应收到的包, 没有读数命中的输出端不出现
func (h *Handler) Dispatch(pp *pkg.PointPackage) (map[string]*pkg.PointPackage, error) {
	ready := make(map[string]*pkg.PointPackage, len(h.Sinks))
	for _, sink := range h.Sinks {
		if h.Filters[sink] == nil {
			if len(pp.Readings) > 0 {
				ready[sink] = pp
			}
			continue
		}
		var readings []decoder.Reading
		for _, r := range pp.Readings {
			ok, err := h.Match(sink, pp.Device, r)
			if err != nil {
				return nil, err
			}
			if ok {
				readings = append(readings, r)
			}
		}
		if len(readings) > 0 {
			ready[sink] = pp.Copy(readings)
		}
	}
	return ready, nil
}
