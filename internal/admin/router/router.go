package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"uplink/internal/admin/api"
	"uplink/internal/pkg"
)

// SetupRouter 配置 Gin 路由
func SetupRouter(a *api.API) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// 配置 CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"} // 允许所有来源，生产环境应配置具体来源
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(config))

	r.GET("/health", a.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 分组
	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/schema", a.GetSchema) // GET /api/v1/schema
		apiV1.POST("/decode", a.Decode)   // POST /api/v1/decode
	}
	return r
}

// Serve 在 addr 上运行管理接口, ctx 取消时优雅关闭
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	log := pkg.LoggerFromContext(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("管理接口已启动", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("正在关闭管理接口")
		return srv.Shutdown(shutdownCtx)
	}
}
