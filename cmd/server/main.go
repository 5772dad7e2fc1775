// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"salespulse-go/internal/config"
	"salespulse-go/internal/handler"
	"salespulse-go/internal/middleware"
	"salespulse-go/internal/pipeline"
	"salespulse-go/internal/repository"
	"salespulse-go/internal/service"
	"salespulse-go/internal/sqlguard"
	"salespulse-go/pkg/database"
	"salespulse-go/pkg/embedding"
	"salespulse-go/pkg/es"
	"salespulse-go/pkg/kafka"
	"salespulse-go/pkg/llm"
	"salespulse-go/pkg/log"
	"salespulse-go/pkg/storage"
	"salespulse-go/pkg/token"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与 Elasticsearch
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	sellerRepo := repository.NewSellerRepository(database.DB)
	entityRepo := repository.NewEntityRepository(database.DB)
	analyticsRepo := repository.NewAnalyticsRepository(database.DB)
	queryRepo := repository.NewQueryRepository(database.DB)
	answerCacheRepo := repository.NewAnswerCacheRepository(
		database.RDB,
		time.Duration(cfg.Search.AnswerCacheTTLSec)*time.Second,
	)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	sellerService := service.NewSellerService(sellerRepo, jwtManager)
	intentRouter := service.NewIntentRouter()
	analyticsService := service.NewAnalyticsService(analyticsRepo)
	indexService := service.NewIndexService(embeddingClient, cfg.Elasticsearch.IndexName, cfg.Search.IndexingEnabled)
	searchService := service.NewSearchService(embeddingClient, cfg.Elasticsearch.IndexName)
	sqlRunner := sqlguard.NewRunner(llmClient, queryRepo, cfg.Search.SQLRowLimit)
	answerService := service.NewAnswerService(
		intentRouter,
		analyticsService,
		searchService,
		sqlRunner,
		llmClient,
		sellerRepo,
		answerCacheRepo,
		cfg.Search.GuardedSQLEnabled,
		cfg.Search.LLMIntentEnabled,
		cfg.Search.MaxContextChars,
		cfg.Search.PerDocChars,
	)

	// 6. 初始化索引处理管道 (Processor)
	processor := pipeline.NewProcessor(entityRepo, sellerRepo, indexService, cfg.MinIO.BucketName)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组 (公开访问)
		auth := apiV1.Group("/auth")
		{
			auth.POST("/login", handler.NewAuthHandler(sellerService).Login)
			auth.POST("/refreshToken", handler.NewAuthHandler(sellerService).RefreshToken)
		}

		// Search 路由组，需要认证
		search := apiV1.Group("/search")
		search.Use(middleware.AuthMiddleware(jwtManager, sellerService))
		{
			searchHandler := handler.NewSearchHandler(searchService, answerService)
			search.POST("", searchHandler.Search)
			search.POST("/answer", searchHandler.Answer)
		}

		// Stream 路由 (WebSocket)，token 经 URL 传递
		streamHandler := handler.NewStreamHandler(
			searchService,
			sellerService,
			llmClient,
			jwtManager,
			cfg.Search.MaxContextChars,
			cfg.Search.PerDocChars,
		)
		r.GET("/stream/:token", streamHandler.Handle)

		// Internal 路由组，需要同时通过认证和管理员授权两个中间件
		internal := apiV1.Group("/internal")
		internal.Use(middleware.AuthMiddleware(jwtManager, sellerService), middleware.AdminAuthMiddleware())
		{
			internal.POST("/reindex", handler.NewReindexHandler(entityRepo).Reindex)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已退出")
}
