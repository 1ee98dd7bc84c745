package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	httpin "github.com/albin6/social-realtime/internal/adapters/in/http"
	"github.com/albin6/social-realtime/internal/adapters/in/ws"
	"github.com/albin6/social-realtime/internal/adapters/out/db"
	"github.com/albin6/social-realtime/internal/adapters/out/memory"
	"github.com/albin6/social-realtime/internal/adapters/out/mq"
	redisRepo "github.com/albin6/social-realtime/internal/adapters/out/redis"
	"github.com/albin6/social-realtime/internal/application"
	"github.com/albin6/social-realtime/internal/metrics"
	"github.com/albin6/social-realtime/internal/ports/out"
	"github.com/albin6/social-realtime/pkg/jwt"
	"github.com/albin6/social-realtime/pkg/zlog"
)

func main() {
	// 加载配置
	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	os.Setenv("APP_ENV", env)
	logCfgPath := filepath.Join(".", "configs", fmt.Sprintf("config.%s.yaml", env))
	if _, err := os.Stat(logCfgPath); os.IsNotExist(err) {
		logCfgPath = filepath.Join("..", "configs", fmt.Sprintf("config.%s.yaml", env))
	}

	logCfg, err := zlog.LoadConfig(logCfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载日志配置失败: %v\n", err)
		os.Exit(1)
	}
	logCfg.Service = "social-realtime"
	zlog.MustInitGlobal(*logCfg)
	defer zap.L().Sync()

	logger := zap.L()
	logger.Info("social-realtime starting", zap.String("env", env))

	// 注册指标
	metrics.Register(prometheus.DefaultRegisterer)
	zlog.RegisterMetrics(prometheus.DefaultRegisterer)

	serverAddr := fmt.Sprintf("%s:%d", getHostname(), viper.GetInt("server.http_port"))

	// 初始化存储层，storage.mode 决定单机内存还是Redis共享视图
	var (
		registry out.ConnectionRegistry
		queue    out.DeliveryQueue
		acks     out.AckStore
		typing   out.TypingStore
	)

	connTTL := viper.GetDuration("realtime.conn_ttl")
	if connTTL == 0 {
		connTTL = time.Hour
	}
	queueCap := viper.GetInt("realtime.queue_capacity")
	if queueCap == 0 {
		queueCap = 100
	}
	queueTTL := viper.GetDuration("realtime.queue_ttl")
	if queueTTL == 0 {
		queueTTL = 24 * time.Hour
	}
	ackTTL := viper.GetDuration("realtime.ack_ttl")
	if ackTTL == 0 {
		ackTTL = 24 * time.Hour
	}
	typingTTL := viper.GetDuration("realtime.typing_ttl")
	if typingTTL == 0 {
		typingTTL = 10 * time.Second
	}

	switch viper.GetString("storage.mode") {
	case "redis":
		redisClient, err := initRedis()
		if err != nil {
			logger.Fatal("Failed to init redis", zap.Error(err))
		}
		registry = redisRepo.NewConnectionRegistryRedis(redisClient, connTTL)
		queue = redisRepo.NewDeliveryQueueRedis(redisClient, queueCap, queueTTL)
		acks = redisRepo.NewAckStoreRedis(redisClient, ackTTL)
		typing = redisRepo.NewTypingStoreRedis(redisClient, typingTTL)
	default:
		registry = memory.NewRegistry(connTTL)
		queue = memory.NewQueue(queueCap)
		acks = memory.NewAckStore()
		typing = memory.NewTypingStore(typingTTL)
	}

	// 通话归档，未配置MySQL时跳过
	var records out.CallRecordRepository
	if viper.GetBool("mysql.enabled") {
		database, err := initDB()
		if err != nil {
			logger.Fatal("Failed to init database", zap.Error(err))
		}
		repo, err := db.NewCallRecordRepositoryMySQL(database)
		if err != nil {
			logger.Fatal("Failed to migrate call records", zap.Error(err))
		}
		records = repo
	}

	// 本节点连接管理器，同时是路由层的出站投递
	connManager := ws.NewConnectionManager()

	// 用例层
	routerUseCase := application.NewRouterService(registry, queue, acks, connManager)
	presenceUseCase := application.NewPresenceService(registry, typing)
	ackUseCase := application.NewAckService(acks, registry, connManager)

	ringTimeout := viper.GetDuration("call.ring_timeout")
	if ringTimeout == 0 {
		ringTimeout = time.Minute
	}
	stunServers := viper.GetStringSlice("call.stun_servers")
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	callUseCase := application.NewCallService(registry, connManager, records, ringTimeout, stunServers)
	connUseCase := application.NewConnectionService(registry, routerUseCase, callUseCase, serverAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 后台清理
	go connUseCase.RunSweeper(ctx, 30*time.Second)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				callUseCase.SweepTerminated(queueTTL)
			}
		}
	}()

	// Kafka事件摄入，未配置时只走HTTP投递
	var consumer *mq.KafkaEventConsumer
	if viper.GetBool("kafka.enabled") {
		consumer, err = mq.NewKafkaEventConsumer(
			viper.GetStringSlice("kafka.brokers"),
			viper.GetString("kafka.group_id"),
			routerUseCase,
		)
		if err != nil {
			logger.Fatal("Failed to init kafka consumer", zap.Error(err))
		}
		if err := consumer.Start(ctx); err != nil {
			logger.Fatal("Failed to start kafka consumer", zap.Error(err))
		}
	}

	// WebSocket接入
	jwtManager := jwt.NewManager(viper.GetString("jwt.secret"))
	wsServer := ws.NewWSServer(connManager, jwtManager, connUseCase, ackUseCase, presenceUseCase, callUseCase)

	// HTTP接入
	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery(), zlog.GinLogger())
	ginRouter.Use(cors.New(cors.Config{
		AllowOrigins:     viper.GetStringSlice("server.cors_origins"),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	ginRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))
	ginRouter.Any("/log/level", gin.WrapF(zlog.LevelHTTPHandler()))

	handler := httpin.NewHandler(routerUseCase, presenceUseCase, ackUseCase, callUseCase, queue, records, wsServer)
	handler.RegisterRoutes(ginRouter)

	httpPort := viper.GetInt("server.http_port")
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", httpPort),
		Handler: ginRouter,
	}

	go func() {
		logger.Info("Realtime server starting", zap.Int("port", httpPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Warn("Kafka consumer stop error", zap.Error(err))
		}
	}

	logger.Info("Server exited properly")
}

func loadConfig() error {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../configs")

	return viper.ReadInConfig()
}

func initDB() (*gorm.DB, error) {
	dsn := viper.GetString("mysql.dsn")

	database, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(viper.GetInt("mysql.max_idle_conns"))
	sqlDB.SetMaxOpenConns(viper.GetInt("mysql.max_open_conns"))
	sqlDB.SetConnMaxLifetime(time.Hour)

	return database, nil
}

func initRedis() (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
		PoolSize: viper.GetInt("redis.pool_size"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// getHostname 获取当前节点地址，多实例部署时用于标识连接归属
func getHostname() string {
	if addr := viper.GetString("server.advertise_addr"); addr != "" {
		return addr
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}
