package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThaiDuy504/traffic-sign-detection/config"
	"github.com/ThaiDuy504/traffic-sign-detection/handler"
	"github.com/ThaiDuy504/traffic-sign-detection/middleware"
	"github.com/ThaiDuy504/traffic-sign-detection/service"
	"github.com/ThaiDuy504/traffic-sign-detection/utils"
	"github.com/akamensky/argparse"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	parser := argparse.NewParser("signdet", "Traffic sign detection API server")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (YAML)", Default: "config.yaml"})
	showVersion := parser.Flag("v", "version", &argparse.Options{Help: "Print version and exit", Default: false})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if *showVersion {
		fmt.Printf("signdet %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
		return
	}

	// .env 可选，环境变量覆盖配置文件
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Failed to load .env: %v\n", err)
	}

	// 加载配置
	cfg := config.New(*configFile)

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	if err := cfg.Validate(); err != nil {
		utils.Logger.Fatal("invalid configuration", zap.Error(err))
	}

	utils.Logger.Info("starting traffic sign detection server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	if cfg.Upload.TempDir != "" {
		if err := os.MkdirAll(cfg.Upload.TempDir, 0755); err != nil {
			utils.Logger.Fatal("failed to create temp directory", zap.Error(err))
		}
	}

	// 加载模型，进程生命周期内只加载一次
	yolo, err := service.LoadYOLOModel(&cfg.Model)
	if err != nil {
		utils.Logger.Fatal("failed to load model", zap.String("path", cfg.Model.Path), zap.Error(err))
	}
	defer yolo.Close()

	classMapping := service.LoadClassMapping(cfg.Model.ClassMappingPath)

	// 初始化Redis
	var cache service.ResultCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(context.Background()); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			redisService.Close()
		} else {
			utils.Logger.Info("redis connected successfully", zap.String("addr", cfg.Redis.Addr))
			cache = redisService
			defer redisService.Close()
		}
	}

	detectionService := service.NewDetectionService(yolo, classMapping, cache, cfg.Upload.TempDir)
	detectHandler := handler.NewDetectHandler(cfg, detectionService)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxSize
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 静态文件服务
	if info, err := os.Stat(cfg.Static.Dir); err == nil && info.IsDir() {
		r.Static("/static", cfg.Static.Dir)
	}
	r.GET("/", handler.Root(cfg.Static.Dir))

	// 健康检查和版本信息
	r.GET("/health", detectHandler.Health)
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	// 检测接口
	r.POST("/detect", detectHandler.Detect)
	r.POST("/detect/image", detectHandler.DetectImage)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	utils.Logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Error("server forced to shutdown", zap.Error(err))
	}
}
