package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/api"
	"github.com/t77yq/statuswatch/internal/cache"
	"github.com/t77yq/statuswatch/internal/collector"
	"github.com/t77yq/statuswatch/internal/engine"
	"github.com/t77yq/statuswatch/internal/metrics"
	"github.com/t77yq/statuswatch/internal/notifier"
	"github.com/t77yq/statuswatch/internal/scheduler"
	"github.com/t77yq/statuswatch/internal/storage"
)

type httpCheckConf struct {
	EntityID   string `mapstructure:"entity_id"`
	EntityName string `mapstructure:"entity_name"`
	URL        string `mapstructure:"url"`
}

type statuspageConf struct {
	Source     string `mapstructure:"source"`
	EntityType string `mapstructure:"entity_type"`
	URL        string `mapstructure:"url"`
}

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("database.path", "statuswatch.db")
	viper.SetDefault("cache.long_ttl", 10*time.Minute)
	viper.SetDefault("cache.short_ttl", 60*time.Second)
	viper.SetDefault("engine.degraded_threshold", 5*time.Minute)
	viper.SetDefault("retention.window", 30*24*time.Hour)
	viper.SetDefault("notifier.interval", 30*time.Second)
	viper.SetDefault("checks.services.schedule", "0 */10 * * * *")
	viper.SetDefault("checks.infra.schedule", "0 */15 * * * *")
	viper.SetDefault("checks.cloud.schedule", "30 */15 * * * *")
	viper.SetDefault("retention.schedule", "0 0 4 * * *")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Open the shared database
	db, err := storage.Open(viper.GetString("database.path"))
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	states, err := storage.NewSQLiteAlertState(logger, db)
	if err != nil {
		logger.Fatal("Failed to create alert state store", zap.Error(err))
	}
	events, err := storage.NewSQLiteEventLog(logger, db)
	if err != nil {
		logger.Fatal("Failed to create event log", zap.Error(err))
	}
	cacheStore, err := cache.NewSQLiteStore(logger, db)
	if err != nil {
		logger.Fatal("Failed to create cache store", zap.Error(err))
	}

	longTier := cache.NewLongTier(cacheStore, "collector", viper.GetDuration("cache.long_ttl"))
	shortTier := cache.NewShortTier(cacheStore, viper.GetDuration("cache.short_ttl"))

	// Connect to NATS
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	publisher, err := notifier.NewEventPublisher(logger, js)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}

	// Build the engine
	emitter := engine.NewEmitter(logger, states, events, publisher)
	emitter.SetDegradedThreshold(viper.GetDuration("engine.degraded_threshold"))
	differ := engine.NewDiffer(logger, states, events, publisher)

	// Metrics
	registry := prometheus.NewRegistry()
	cycleMetrics := metrics.New(registry)
	metrics.RegisterDBGauges(registry, db, logger)

	// Assemble collector groups from config
	runner := scheduler.NewRunner(logger, emitter, differ, cycleMetrics)
	runner.SetResponseCache(shortTier)

	var httpChecks []httpCheckConf
	if err := viper.UnmarshalKey("checks.services.http", &httpChecks); err != nil {
		logger.Fatal("Failed to parse service checks", zap.Error(err))
	}
	serviceGroup := scheduler.Group{
		Name:     "services",
		Schedule: viper.GetString("checks.services.schedule"),
	}
	for _, check := range httpChecks {
		c := collector.NewHTTPCheck(logger, "service", collector.HTTPCheckConfig{
			EntityID:   check.EntityID,
			EntityName: check.EntityName,
			URL:        check.URL,
		})
		serviceGroup.Scalars = append(serviceGroup.Scalars, scheduler.ScalarJob{
			Source:    "http-check",
			Collector: collector.NewCachedScalar(c, longTier, cycleMetrics),
		})
	}

	infraGroup := scheduler.Group{
		Name:     "infra",
		Schedule: viper.GetString("checks.infra.schedule"),
		Scalars: []scheduler.ScalarJob{{
			Source: "system",
			Collector: collector.NewSystem(logger, "node", collector.SystemConfig{
				EntityName: "Collector node",
			}),
		}},
	}

	var pages []statuspageConf
	if err := viper.UnmarshalKey("checks.cloud.statuspages", &pages); err != nil {
		logger.Fatal("Failed to parse cloud checks", zap.Error(err))
	}
	cloudGroup := scheduler.Group{
		Name:     "cloud",
		Schedule: viper.GetString("checks.cloud.schedule"),
	}
	for _, page := range pages {
		entityType := page.EntityType
		if entityType == "" {
			entityType = "cloud-incident"
		}
		c := collector.NewStatuspage(logger, entityType, collector.StatuspageConfig{
			Source: page.Source,
			URL:    page.URL,
		})
		cloudGroup.Incidents = append(cloudGroup.Incidents, scheduler.IncidentJob{
			Source:    page.Source,
			Collector: collector.NewCachedIncidents(c, longTier, cycleMetrics),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, group := range []scheduler.Group{serviceGroup, infraGroup, cloudGroup} {
		if len(group.Scalars) == 0 && len(group.Incidents) == 0 {
			continue
		}
		if err := runner.AddGroup(ctx, group); err != nil {
			logger.Fatal("Failed to register group",
				zap.String("group", group.Name),
				zap.Error(err))
		}
	}

	// Daily retention sweep
	sweeper := scheduler.NewSweeper(logger, events, states, cacheStore, viper.GetDuration("retention.window"))
	if err := runner.AddJob("retention", viper.GetString("retention.schedule"), func() {
		sweeper.Run(ctx)
	}); err != nil {
		logger.Fatal("Failed to register retention job", zap.Error(err))
	}

	runner.Start()
	defer runner.Stop()

	// Change notifier
	changes, err := notifier.NewChangeNotifier(logger, js, states, events, viper.GetDuration("notifier.interval"))
	if err != nil {
		logger.Fatal("Failed to create change notifier", zap.Error(err))
	}
	changes.Start(ctx)
	defer changes.Stop()

	// HTTP API
	apiServer := api.NewServer(logger, events, states, shortTier, registry)
	httpServer := &http.Server{
		Addr:    viper.GetString("server.listen"),
		Handler: apiServer.Handler(),
	}
	go func() {
		logger.Info("API server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}

	logger.Info("Server shutting down gracefully")
}
