package pkg

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"uplink/internal/schema"
)

// SinkConfig 单个输出端的配置, 可以有多个
type SinkConfig struct {
	Type   string                 `mapstructure:"type"`   // 输出端类型
	Enable bool                   `mapstructure:"enable"` // 是否启用
	Filter string                 `mapstructure:"filter"` // 过滤表达式, 为空时全部通过
	Buffer int                    `mapstructure:"buffer"` // 通道缓冲
	Para   map[string]interface{} `mapstructure:"config"` // 自定义配置项
}

// ConnectorConfig 上游连接器配置
type ConnectorConfig struct {
	Type string                 `mapstructure:"type"`
	Para map[string]interface{} `mapstructure:"config"`
}

// DecoderConfig 解码相关配置
type DecoderConfig struct {
	Layout   string `mapstructure:"layout"`   // padded|compact
	Encoding string `mapstructure:"encoding"` // raw|hex|base64|json
}

// AdminConfig 管理接口配置
type AdminConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
}

// Config 全局配置, 由配置目录下所有 yaml 合并而成
type Config struct {
	Version   string          `mapstructure:"version"`
	Log       LogConfig       `mapstructure:"log"`
	Decoder   DecoderConfig   `mapstructure:"decoder"`
	Fields    []schema.Entry  `mapstructure:"fields"` // 字段表, 一般单独放在 schema.yaml
	Connector ConnectorConfig `mapstructure:"connector"`
	Sink      []SinkConfig    `mapstructure:"sink"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// 定义一个不导出的 key 类型，避免 context key 冲突
type configKey struct{}

// WithConfig 将配置指针存入 context 中
func WithConfig(ctx context.Context, config *Config) context.Context {
	return context.WithValue(ctx, configKey{}, config)
}

// ConfigFromContext 从 context 中提取配置指针, 不存在时返回空配置
func ConfigFromContext(ctx context.Context) *Config {
	if config, ok := ctx.Value(configKey{}).(*Config); ok {
		return config
	}
	return &Config{}
}

// InitCommon 用于初始化全局配置
func InitCommon(configDir string) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::")) // 设置 key 分隔符为 ::，因为默认的 . 会和 IP 地址冲突
	v.AddConfigPath(configDir)
	v.AutomaticEnv() // 读取环境变量
	// 遍历配置目录及其子目录中的所有文件
	err := filepath.WalkDir(configDir, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("访问路径 %s 失败: %w", filePath, err)
		}
		// 如果是目录则跳过，继续遍历
		if d.IsDir() {
			return nil
		}
		// 只处理 .yaml 或 .yml 文件
		ext := filepath.Ext(filePath)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		v.SetConfigFile(filePath)
		// 读取并合并配置文件 (会覆盖之前的配置)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var common Config
	// 反序列化到结构体
	if err := v.Unmarshal(&common); err != nil {
		return nil, fmt.Errorf("反序列化配置失败: %w", err)
	}
	return &common, nil
}

// DecodePara 将插件的自定义配置项解码到结构体, 支持 "5s" 形式的时长
func DecodePara(para map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("创建解码器失败: %w", err)
	}
	if err := decoder.Decode(para); err != nil {
		return fmt.Errorf("配置解析失败: %w", err)
	}
	return nil
}
