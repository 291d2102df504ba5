package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"uplink/internal/pkg"
)

func init() {
	Register("mysql", NewMysqlSink)
}

// MysqlInfo MySQL 输出端的配置
type MysqlInfo struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	BatchSize int    `mapstructure:"batch_size"`
}

// ReadingRecord 一条读数对应的行
type ReadingRecord struct {
	ID      uint64    `gorm:"primaryKey;autoIncrement"`
	FrameId string    `gorm:"size:36;index"`
	Device  string    `gorm:"size:64;index:idx_device_ts"`
	Name    string    `gorm:"size:64"`
	Channel uint8     `gorm:"not null"`
	Type    uint8     `gorm:"not null"`
	Value   float64   `gorm:"not null"`
	Ts      time.Time `gorm:"index:idx_device_ts"`
	Meta    datatypes.JSON
}

// MysqlSink 通过 gorm 批量写入读数
type MysqlSink struct {
	db     *gorm.DB
	info   MysqlInfo
	ctx    context.Context
	logger *zap.Logger
}

// NewMysqlSink Step.0 构造函数, 连接并自动建表
func NewMysqlSink(ctx context.Context, config pkg.SinkConfig) (Template, error) {
	info := MysqlInfo{Table: "uplink_readings", BatchSize: 100}
	if err := pkg.DecodePara(config.Para, &info); err != nil {
		return nil, err
	}
	if info.DSN == "" {
		return nil, fmt.Errorf("mysql 配置缺少 dsn")
	}
	db, err := gorm.Open(mysql.Open(info.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}
	return newMysqlSink(ctx, db, info)
}

func newMysqlSink(ctx context.Context, db *gorm.DB, info MysqlInfo) (*MysqlSink, error) {
	if err := db.Table(info.Table).AutoMigrate(&ReadingRecord{}); err != nil {
		return nil, fmt.Errorf("建表失败: %w", err)
	}
	return &MysqlSink{
		db:     db,
		info:   info,
		ctx:    ctx,
		logger: pkg.LoggerFromContext(ctx),
	}, nil
}

func (s *MysqlSink) GetType() string {
	return "mysql"
}

func (s *MysqlSink) Start(sink chan *pkg.PointPackage) {
	runLoop(s.ctx, s.GetType(), s.logger, sink, s.Publish)
}

// BuildRecords 将读数转换为行, 解码错误与偏移量放在 Meta 中
func BuildRecords(pp *pkg.PointPackage) ([]ReadingRecord, error) {
	records := make([]ReadingRecord, 0, len(pp.Readings))
	for _, r := range pp.Readings {
		meta, err := json.Marshal(map[string]interface{}{
			"offset": r.Offset,
			"errors": pp.ErrorStrings(),
		})
		if err != nil {
			return nil, err
		}
		records = append(records, ReadingRecord{
			FrameId: pp.FrameId,
			Device:  pp.Device,
			Name:    r.Name,
			Channel: r.Channel,
			Type:    r.Type,
			Value:   r.Value,
			Ts:      pp.Ts,
			Meta:    datatypes.JSON(meta),
		})
	}
	return records, nil
}

func (s *MysqlSink) Publish(pp *pkg.PointPackage) error {
	records, err := BuildRecords(pp)
	if err != nil {
		return fmt.Errorf("序列化失败: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(s.ctx).Table(s.info.Table).CreateInBatches(records, s.info.BatchSize).Error; err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

func (s *MysqlSink) Stop() {
	sqlDB, err := s.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		s.logger.Error("关闭 MySQL 连接失败", zap.Error(err))
	}
}
