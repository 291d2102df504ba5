package connector

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"uplink/internal/pkg"
)

// Stage 在性能指标中使用的阶段名称
const Stage = "connector"

// Template 是所有连接器的通用接口
type Template interface {
	Start(out chan<- *pkg.Message) error // 启动连接器, 不阻塞
	Close() error
	GetType() string
}

// FactoryFunc 代表一个连接器的工厂函数
type FactoryFunc func(ctx context.Context) (connector Template, err error)

// Factories 全局工厂映射，用于注册不同连接器类型的构造函数
var Factories = make(map[string]FactoryFunc)

// Register 注册一个连接器
func Register(connType string, factory FactoryFunc) {
	Factories[connType] = factory
}

// New 创建配置中指定类型的连接器
func New(ctx context.Context) (Template, error) {
	config := pkg.ConfigFromContext(ctx)
	factoryTypes := make([]string, 0, len(Factories))
	for key := range Factories {
		factoryTypes = append(factoryTypes, key)
	}
	sort.Strings(factoryTypes)
	pkg.LoggerFromContext(ctx).Debug("Connector Factory:", zap.Strings("Factories", factoryTypes))
	pkg.LoggerFromContext(ctx).Info(fmt.Sprintf("===正在启动Connector: %s===", config.Connector.Type))

	factory, ok := Factories[config.Connector.Type]
	if !ok {
		return nil, fmt.Errorf("未找到连接器类型: %s", config.Connector.Type)
	}
	c, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化连接器失败: %w", err)
	}
	return c, nil
}
