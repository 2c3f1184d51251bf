package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devicesync/internal/api"
	"devicesync/internal/clock"
	"devicesync/internal/config"
	"devicesync/internal/coordinator"
	"devicesync/internal/detail"
	"devicesync/internal/metrics"
	"devicesync/internal/push"
	"devicesync/internal/vendorsim"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	streamToken := os.Getenv("STREAM_TOKEN")

	cfg, err := config.NewLoader(configPath, logger).Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	apiPort := cfg.APIPort
	if apiPort == 0 {
		apiPort = 8081
	}

	logger.Info("Starting device-state coordinator",
		zap.String("config", configPath),
		zap.Int("api_port", apiPort))

	clk := clock.NewRealClock()
	m := metrics.New()

	// The demo binary runs against the in-process vendor simulator; real
	// deployments swap in a vendor adapter implementing pkg/source.
	sim := vendorsim.New(clk)
	for _, dev := range cfg.Devices() {
		sim.AddDevice(dev)
	}
	gen := vendorsim.NewGenerator(sim, 15*time.Second)
	gen.Start()
	defer gen.Stop()

	caches := make([]*detail.Cache, 0, len(cfg.DetailCategories))
	for _, cat := range cfg.DetailCategories {
		caches = append(caches, detail.NewCache(
			cat.Name,
			time.Duration(cat.IntervalSeconds)*time.Second,
			sim, clk, logger, m))
	}

	coord := coordinator.New(coordinator.Config{
		PollInterval:      cfg.PollInterval(),
		CatchupFetchLimit: cfg.CatchupFetchLimit,
		UpdateFetchLimit:  cfg.UpdateFetchLimit,
		Groups:            cfg.GroupIDs(),
		Devices:           cfg.Devices(),
	}, sim, sim, caches, clk, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		logger.Fatal("Failed to start coordinator", zap.Error(err))
	}
	defer coord.Stop()

	// Push transports feed the same merge path as polling.
	if cfg.Push.Stream.Enabled {
		stream := push.NewStreamClient(cfg.Push.Stream.URL, streamToken, coord.IngestPush, logger)
		if err := stream.Connect(); err != nil {
			logger.Error("Failed to connect to activity stream", zap.Error(err))
		} else {
			defer stream.Disconnect()
		}
	}
	if cfg.Push.MQTT.Enabled {
		mqttSource := push.NewMQTTSource(push.MQTTSettings{
			Broker:      cfg.Push.MQTT.Broker,
			Port:        cfg.Push.MQTT.Port,
			ClientID:    cfg.Push.MQTT.ClientID,
			User:        cfg.Push.MQTT.User,
			Password:    cfg.Push.MQTT.Password,
			TopicPrefix: cfg.Push.MQTT.TopicPrefix,
		}, coord.IngestPush, logger)
		mqttSource.Start()
		defer mqttSource.Stop()
	}

	server := api.NewServer(coord, logger, apiPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}
	defer server.Stop()

	// Log device changes so the demo is observable.
	for _, dev := range cfg.Devices() {
		coord.SubscribeDevice(dev.ID, func(deviceID string) {
			logger.Info("Device changed", zap.String("device_id", deviceID))
		})
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Coordinator running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")
}
