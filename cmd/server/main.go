package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"browniepoints/internal/config"
	"browniepoints/internal/handler"
	"browniepoints/internal/infrastructure/cache"
	"browniepoints/internal/infrastructure/database"
	"browniepoints/internal/infrastructure/mq"
	"browniepoints/internal/job"
	"browniepoints/internal/service"
	"browniepoints/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 构造服务
	// TimeoutService 持有计时器注册表，HTTP 层和对账任务必须共享同一实例
	accountService := service.NewAccountService(db)
	connectionService := service.NewConnectionService(db)
	transferService := service.NewTransferService(db, redisClient, cfg)
	timeoutService := service.NewTimeoutService(db, cfg)

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	timeoutSweep := job.NewTimeoutSweep(timeoutService, cfg)
	go timeoutSweep.Start(ctx)

	// 设置路由
	h := handler.NewHandler(accountService, connectionService, transferService, timeoutService)
	router := handler.SetupRouter(h)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 取消全部本地倒计时；存储状态保持原样，下次启动由对账扫描恢复
	timeoutService.Shutdown()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
