package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coderunner/internal/common/cache"
	commonmw "coderunner/internal/common/http/middleware"
	"coderunner/internal/common/mq"
	"coderunner/internal/common/storage"
	"coderunner/internal/execution/backend"
	"coderunner/internal/execution/backend/batch"
	"coderunner/internal/execution/backend/local"
	"coderunner/internal/execution/backend/stream"
	"coderunner/internal/execution/consumer"
	"coderunner/internal/execution/controller"
	"coderunner/internal/execution/invokation"
	"coderunner/internal/execution/language"
	"coderunner/internal/execution/sink"
	"coderunner/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/coderunner.yaml"
	catalogTimeout    = 30 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "coderunner stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	sources, err := buildSources(appCfg.Backends)
	if err != nil {
		return err
	}
	registry := language.NewRegistry(sources...)
	catalogCtx, cancelCatalog := context.WithTimeout(context.Background(), catalogTimeout)
	n := registry.Populate(catalogCtx)
	cancelCatalog()
	if n == 0 {
		return errors.New("no languages available from any backend")
	}
	logger.Info(context.Background(), "language catalog ready", zap.Int("languages", n))

	var mqClient *mq.KafkaQueue
	if appCfg.Kafka.IsEnabled() {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.KafkaConfig)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
	}

	store, closeStore, err := buildOutputStore(appCfg.Output)
	if err != nil {
		return err
	}
	defer closeStore()
	if mqClient != nil && appCfg.Output.EventsTopic != "" {
		store = sink.NewEventSink(store, mqClient, appCfg.Output.EventsTopic)
	}

	svc, err := invokation.NewService(invokation.Config{
		Languages:      registry,
		Sink:           store,
		IndicatorDelay: appCfg.Invokation.IndicatorDelay,
		SinkTimeout:    appCfg.Invokation.SinkTimeout,
		MaxCodeBytes:   appCfg.Invokation.MaxCodeBytes,
	})
	if err != nil {
		return fmt.Errorf("init invokation service failed: %w", err)
	}

	if mqClient != nil {
		triggerConsumer := consumer.NewTriggerConsumer(svc, mqClient)
		if appCfg.Output.EventsTopic != "" {
			triggerConsumer.WithRejections(mqClient, appCfg.Output.EventsTopic)
		}
		if err := triggerConsumer.Subscribe(context.Background(), appCfg.Kafka.TriggerTopic, appCfg.Kafka.toSubscribeOptions()); err != nil {
			return fmt.Errorf("subscribe triggers failed: %w", err)
		}
		if err := mqClient.Start(); err != nil {
			return fmt.Errorf("start kafka consumer failed: %w", err)
		}
		logger.Info(context.Background(), "trigger consumer started", zap.String("topic", appCfg.Kafka.TriggerTopic))
	}

	httpServer := buildHTTPServer(appCfg.Server, svc, registry, store)
	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "coderunner http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pruneTicker := time.NewTicker(appCfg.Invokation.PruneInterval)
	defer pruneTicker.Stop()

	var serveErr error
loop:
	for {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr = err
			}
			break loop
		case <-shutdownCtx.Done():
			logger.Info(context.Background(), "shutdown signal received")
			break loop
		case <-pruneTicker.C:
			if n := svc.Prune(appCfg.Invokation.Retention); n > 0 {
				logger.Debug(context.Background(), "pruned settled triggers", zap.Int("count", n))
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	if mqClient != nil {
		_ = mqClient.Stop()
	}
	if err := svc.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "invokation shutdown failed", zap.Error(err))
	}
	return serveErr
}

// buildSources returns the enabled backends in registration order.
func buildSources(cfg BackendsConfig) ([]backend.Source, error) {
	client := &http.Client{}
	var sources []backend.Source
	if cfg.Batch.Enabled {
		sources = append(sources, batch.New(cfg.Batch.Config, client))
	}
	if cfg.Stream.Enabled {
		sources = append(sources, stream.New(cfg.Stream.Config, client))
	}
	if cfg.Local.Enabled {
		templates, err := local.LoadTemplates(cfg.Local.Templates)
		if err != nil {
			return nil, fmt.Errorf("load local templates failed: %w", err)
		}
		sources = append(sources, local.New(cfg.Local.Config, templates))
	}
	return sources, nil
}

func buildOutputStore(cfg OutputConfig) (sink.Store, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Warn(context.Background(), "redis not configured, keeping outputs in memory")
		return sink.NewMemorySink(), func() {}, nil
	}
	redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis failed: %w", err)
	}
	closeFn := func() {
		_ = redisCache.Close()
	}

	var objStorage storage.ObjectStorage
	if cfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("init minio failed: %w", err)
		}
		objStorage = minioStorage
	}
	return sink.NewRedisSink(redisCache, objStorage, cfg.Store), closeFn, nil
}

func buildHTTPServer(cfg ServerConfig, svc *invokation.Service, registry *language.Registry, store sink.Store) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	controller.RegisterRoutes(router,
		controller.NewTriggerController(svc, cfg.WaitTimeout),
		controller.NewLanguageController(registry),
		controller.NewOutputController(store),
	)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
