package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"uplink/internal/pkg"
)

func init() {
	Register("mongodb", NewMongoSink)
}

// MongoInfo MongoDB 输出端的配置
type MongoInfo struct {
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ReadingDocument 一条读数在 MongoDB 中的文档结构
type ReadingDocument struct {
	ID      primitive.ObjectID `bson:"_id,omitempty"`
	FrameId string             `bson:"frameId"`
	Device  string             `bson:"device"`
	Name    string             `bson:"name"`
	Channel int                `bson:"channel"`
	Type    int                `bson:"type"`
	Value   float64            `bson:"value"`
	Ts      primitive.DateTime `bson:"ts"`
}

// insertManyAPI 是 *mongo.Collection 中用到的部分
type insertManyAPI interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// MongoSink 每个包的读数批量插入集合
type MongoSink struct {
	client     *mongo.Client
	collection insertManyAPI
	info       MongoInfo
	ctx        context.Context
	logger     *zap.Logger
}

// NewMongoSink Step.0 构造函数, 连接并 ping 数据库
func NewMongoSink(ctx context.Context, config pkg.SinkConfig) (Template, error) {
	info := MongoInfo{Database: "uplink", Collection: "readings", Timeout: 5 * time.Second}
	if err := pkg.DecodePara(config.Para, &info); err != nil {
		return nil, err
	}
	if info.URI == "" {
		return nil, fmt.Errorf("mongodb 配置缺少 uri")
	}
	connectCtx, cancel := context.WithTimeout(ctx, info.Timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(info.URI))
	if err != nil {
		return nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB ping 失败: %w", err)
	}
	return &MongoSink{
		client:     client,
		collection: client.Database(info.Database).Collection(info.Collection),
		info:       info,
		ctx:        ctx,
		logger:     pkg.LoggerFromContext(ctx),
	}, nil
}

func (m *MongoSink) GetType() string {
	return "mongodb"
}

func (m *MongoSink) Start(sink chan *pkg.PointPackage) {
	runLoop(m.ctx, m.GetType(), m.logger, sink, m.Publish)
}

// BuildDocuments 将读数转换为文档
func BuildDocuments(pp *pkg.PointPackage) []interface{} {
	ts := primitive.NewDateTimeFromTime(pp.Ts)
	docs := make([]interface{}, 0, len(pp.Readings))
	for _, r := range pp.Readings {
		docs = append(docs, ReadingDocument{
			FrameId: pp.FrameId,
			Device:  pp.Device,
			Name:    r.Name,
			Channel: int(r.Channel),
			Type:    int(r.Type),
			Value:   r.Value,
			Ts:      ts,
		})
	}
	return docs
}

func (m *MongoSink) Publish(pp *pkg.PointPackage) error {
	docs := BuildDocuments(pp)
	if len(docs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.info.Timeout)
	defer cancel()
	result, err := m.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("写入 MongoDB 失败: %w", err)
	}
	m.logger.Debug("MongoSink inserted", zap.Int("count", len(result.InsertedIDs)))
	return nil
}

func (m *MongoSink) Stop() {
	if m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.info.Timeout)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		m.logger.Error("断开 MongoDB 失败", zap.Error(err))
	}
}
