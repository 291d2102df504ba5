package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"uplink/internal"
	"uplink/internal/admin/api"
	"uplink/internal/admin/router"
	"uplink/internal/connector"
	"uplink/internal/dispatcher"
	"uplink/internal/parser"
	"uplink/internal/pkg"
)

// syncLog 安全地同步日志，忽略与标准输出相关的错误
func syncLog(log *zap.Logger) {
	// Windows平台上，同步标准输出时会出现"The handle is invalid"错误
	err := log.Sync()
	if err != nil && !strings.Contains(err.Error(), "The handle is invalid") && !strings.Contains(err.Error(), "invalid argument") {
		log.Error("程序退出时同步日志失败", zap.Error(err))
	}
}

func main() {
	// 1. 初始化配置, 目录可通过 UPLINK_CONFIG 指定
	configDir := os.Getenv("UPLINK_CONFIG")
	if configDir == "" {
		configDir = "config"
	}
	config, err := pkg.InitCommon(configDir)
	if err != nil {
		fmt.Printf("[main] 加载配置失败: %s\n", err)
		os.Exit(1)
	}

	// 2. 初始化log
	log, closeLog := pkg.NewLogger(&config.Log)
	log.Info("程序启动", zap.String("version", config.Version), zap.String("config", configDir))
	log.Debug("配置信息", zap.Any("common", config))
	log.Info("==== 初始化流程开始 ====")

	// 3. 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 10) // 全局错误通道, 缓存大小为10
	ctx = pkg.WithErrChan(ctx, errChan)
	ctx = pkg.WithConfig(ctx, config)
	ctx = pkg.WithLogger(ctx, log)

	// 4. 各阶段计数器导出到 prometheus
	stages := []string{connector.Stage, parser.Stage, dispatcher.Stage}
	for _, sc := range config.Sink {
		if sc.Enable {
			stages = append(stages, "sink:"+sc.Type)
		}
	}
	if err := pkg.GetPerformanceMetrics().Register(prometheus.DefaultRegisterer, stages...); err != nil {
		log.Warn("注册性能指标失败", zap.Error(err))
	}

	// 5. 启动流水线
	pipeline := internal.StartPipeline(ctx)
	if pipeline != nil {
		printStartupLogo()
	}

	// 6. 启动管理接口
	if pipeline != nil && config.Admin.Enable {
		a := api.New(pipeline.Parser.Decoder(), pipeline.Parser.Encoding(), pipeline.Routes, log.With(zap.String("module", "Admin")))
		go func() {
			if err := router.Serve(ctx, config.Admin.Addr, router.SetupRouter(a)); err != nil {
				pkg.ReportErr(ctx, fmt.Errorf("管理接口异常退出: %w", err))
			}
		}()
	}

	// 7. 定期输出性能指标
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pkg.GetPerformanceMetrics().LogMetrics(log)
			}
		}
	}()

	// 8. 主线程监听终止信号
	si := make(chan os.Signal, 1)
	signal.Notify(si, os.Interrupt, syscall.SIGTERM)
	exitCode := 0
	select {
	case <-si:
		log.Info("Caught exit signal, exiting gateway...")
	case bad := <-errChan:
		log.Error("Error occurred", zap.Error(bad))
		exitCode = 1
	}
	// 先停止流水线, 让已接收的数据写出, 再取消上下文
	if pipeline != nil {
		pipeline.Stop()
	}
	cancel()
	// 等待其他可能的错误
	drain := time.After(1 * time.Second)
	for done := false; !done; {
		select {
		case err := <-errChan:
			log.Error("Error occurred before shutdown", zap.Error(err))
		case <-drain:
			done = true
		}
	}
	log.Info(pkg.GetPerformanceMetrics().GetMetricsReport())
	syncLog(log)
	closeLog() // 异步写入时 Sync 不会落盘, 必须在退出前关闭
	os.Exit(exitCode)
}

func printStartupLogo() {
	logo := `
   __  ______  __    _____   ____ __
  / / / / __ \/ /   /  _/ | / / //_/
 / / / / /_/ / /    / //  |/ / ,<
/ /_/ / ____/ /____/ // /|  / /| |
\____/_/   /_____/___/_/ |_/_/ |_|

`
	fmt.Print(logo)
}
