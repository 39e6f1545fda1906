// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"agstack-go/internal/config"
	"agstack-go/internal/handler"
	"agstack-go/internal/middleware"
	"agstack-go/internal/repository"
	"agstack-go/internal/service"
	"agstack-go/pkg/database"
	"agstack-go/pkg/es"
	"agstack-go/pkg/kafka"
	"agstack-go/pkg/llm"
	"agstack-go/pkg/log"
	"agstack-go/pkg/notify"
	"agstack-go/pkg/prober"
	"agstack-go/pkg/runner"
	"agstack-go/pkg/secret"
	"agstack-go/pkg/storage"
	"agstack-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	defaultPath := os.Getenv(config.PathEnv)
	if defaultPath == "" {
		defaultPath = "./configs/config.yaml"
	}
	configPath := flag.String("config", defaultPath, "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf
	absConfig, err := filepath.Abs(*configPath)
	if err != nil {
		absConfig = *configPath
	}

	// 2. 初始化日志记录器
	log.Init(log.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	ctx := context.Background()

	// 3. 初始化元数据库、缓存与外部组件
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal("元数据库连接失败", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		log.Fatal("元数据库迁移失败", err)
	}

	var cache repository.MetadataCache
	rdb, err := database.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	switch {
	case err != nil:
		log.Warnf("Redis 不可用，使用进程内缓存: %v", err)
		cache = repository.NewMemoryMetadataCache(cfg.Cache.TTL)
	case rdb == nil:
		cache = repository.NewMemoryMetadataCache(cfg.Cache.TTL)
	default:
		cache = repository.NewRedisMetadataCache(rdb, cfg.Cache.TTL)
		defer rdb.Close()
	}

	store, err := storage.Open(ctx, cfg.Artifacts, cfg.MinIO)
	if err != nil {
		log.Fatal("结果存储初始化失败", err)
	}
	catalog, err := es.NewCatalog(cfg.Elasticsearch)
	if err != nil {
		log.Errorf("es 初始化失败，目录检索已关闭: %v", err)
		catalog = es.NopCatalog{}
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	box, err := secret.NewBox(cfg.Security.SecretKey)
	if err != nil {
		log.Fatal("密钥初始化失败", err)
	}

	// 4. 初始化 Repository
	connRepo := repository.NewConnectionRepository(db)
	chatRepo := repository.NewChatRepository(db)

	// 5. 初始化 Service (依赖注入)
	schemaProber := prober.New(prober.Options{
		ConnectTimeout: cfg.Prober.ConnectTimeout,
		SampleLimit:    cfg.Prober.SampleLimit,
		SSLMode:        cfg.Prober.SSLMode,
	})
	llmClient := llm.NewClient(cfg.LLM)
	generator := llm.NewCodeGenerator(llmClient, cfg.LLM)
	codeRunner := runner.New(runner.Options{
		Interpreter:    cfg.Runner.Interpreter,
		FileSuffix:     cfg.Runner.FileSuffix,
		LibraryPath:    cfg.Runner.LibraryPath,
		SearchPathEnv:  cfg.Runner.SearchPathEnv,
		TempDir:        cfg.Runner.TempDir,
		Timeout:        cfg.Runner.Timeout,
		MaxOutputBytes: cfg.Runner.MaxOutputBytes,
	})
	hub := notify.NewHub()
	tickets := token.NewTicketManager(cfg.Security.TicketSecret, cfg.Security.TicketExpiresIn)

	connectionService := service.NewConnectionService(connRepo, schemaProber, box, cache, catalog, producer)
	chatService := service.NewChatService(chatRepo, connRepo, connectionService, generator, codeRunner, store, hub, producer,
		service.ChatOptions{MaxRegenerations: cfg.Runner.MaxRegenerations, ConfigPath: absConfig})
	catalogService := service.NewCatalogService(catalog)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), middleware.CORS(), gin.Recovery())

	// 7. 注册路由
	handler.RegisterRoutes(r,
		handler.NewConnectionHandler(connectionService),
		handler.NewChatHandler(chatService, tickets, hub),
		handler.NewCatalogHandler(catalogService),
	)

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

	// 对话轮次同步执行且受执行超时约束，停机时给它们留出时间
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runner.Timeout+5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("服务已优雅关闭")
}
