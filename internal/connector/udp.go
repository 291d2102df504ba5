package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"uplink/internal/pkg"
)

// UdpConnector 是 UDP 版本的 Template 实现, 每个数据报对应一条上行
type UdpConnector struct {
	ctx        context.Context
	config     *UdpConfig
	bufferPool *pkg.BytesPool // 缓冲区池
	conn       *net.UDPConn
}

type UdpConfig struct {
	Url        string            `mapstructure:"url"`        // 监听地址
	WhiteList  bool              `mapstructure:"whiteList"`  // 是否启用白名单
	IPAlias    map[string]string `mapstructure:"ipAlias"`    // 来源地址 -> 设备别名
	BufferSize int               `mapstructure:"bufferSize"` // 缓冲区大小
}

func init() {
	Register("udp", NewUdpConnector)
}

// NewUdpConnector 创建并初始化 UdpConnector
func NewUdpConnector(ctx context.Context) (Template, error) {
	config := pkg.ConfigFromContext(ctx)
	udpConfig := UdpConfig{BufferSize: 1024}
	if err := pkg.DecodePara(config.Connector.Para, &udpConfig); err != nil {
		pkg.LoggerFromContext(ctx).Error("配置文件解析失败", zap.Error(err))
		return nil, err
	}
	if udpConfig.BufferSize <= 0 {
		return nil, fmt.Errorf("bufferSize 必须为正数: %d", udpConfig.BufferSize)
	}
	return &UdpConnector{
		ctx:        ctx,
		config:     &udpConfig,
		bufferPool: pkg.NewBytesPool(udpConfig.BufferSize),
	}, nil
}

func (u *UdpConnector) GetType() string {
	return "udp"
}

// Addr 返回实际监听地址, 未启动时为 nil
func (u *UdpConnector) Addr() net.Addr {
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Start 方法启动udp监听, 接收循环在后台运行
func (u *UdpConnector) Start(out chan<- *pkg.Message) error {
	log := pkg.LoggerFromContext(u.ctx)
	addr, err := net.ResolveUDPAddr("udp", u.config.Url)
	if err != nil {
		return fmt.Errorf("解析 UDP 地址失败: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("UDP监听程序启动失败: %w", err)
	}
	u.conn = conn
	log.Info("UDP 监听已启动", zap.Stringer("addr", conn.LocalAddr()))

	go func() {
		<-u.ctx.Done()
		log.Info("==收到停止信号，关闭 UDP监听 ==")
		_ = u.Close()
	}()
	go u.loop(out)
	return nil
}

func (u *UdpConnector) loop(out chan<- *pkg.Message) {
	log := pkg.LoggerFromContext(u.ctx)
	metrics := pkg.GetPerformanceMetrics()
	for {
		buffer := u.bufferPool.Get()
		n, remote, err := u.conn.ReadFromUDP(*buffer)
		if err != nil {
			u.bufferPool.Put(buffer)
			// 如果连接已关闭，则退出循环
			if errors.Is(err, net.ErrClosed) {
				log.Info("UDP 连接已关闭")
				return
			}
			metrics.IncMsgErrors(Stage)
			log.Error("从 UDP 接收数据失败", zap.Error(err))
			continue
		}
		metrics.IncMsgReceived(Stage)

		addrStr := remote.String()
		device, known := u.config.IPAlias[addrStr]
		if !known {
			if u.config.WhiteList {
				u.bufferPool.Put(buffer)
				metrics.IncMsgErrors(Stage)
				log.Warn("白名单启用，拒绝未在白名单中的来源", zap.String("remote", addrStr))
				continue
			}
			device = addrStr
		}

		// 缓冲区会被复用, 消息持有自己的副本
		data := make([]byte, n)
		copy(data, (*buffer)[:n])
		u.bufferPool.Put(buffer)

		msg := &pkg.Message{
			Data: data,
			Meta: map[string]string{"remote": addrStr, "device": device},
			Ts:   time.Now(),
		}
		select {
		case out <- msg:
			metrics.IncMsgProcessed(Stage)
		case <-u.ctx.Done():
			return
		}
	}
}

// Close 关闭监听, 接收循环随之退出
func (u *UdpConnector) Close() error {
	if u.conn == nil {
		return nil
	}
	if err := u.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("关闭 UDP 连接失败: %w", err)
	}
	return nil
}
