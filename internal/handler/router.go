package handler

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.POST("/create", h.CreateAccount)
			account.GET("/balance", h.GetBalance)
		}

		// 连接相关
		connection := api.Group("/connection")
		{
			connection.POST("/pair", h.Pair)
			connection.GET("/detail", h.GetConnection)
			connection.POST("/disconnect", h.Disconnect)
		}

		// 转账相关
		transfer := api.Group("/transfer")
		{
			transfer.POST("/execute", h.Transfer)
			transfer.GET("/list", h.ListTransfers)
		}

		// 冷静期相关
		timeout := api.Group("/timeout")
		{
			timeout.POST("/request", h.RequestTimeout)
			timeout.GET("/status", h.GetTimeoutStatus)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
