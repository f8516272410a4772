package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"optionflow/config"
	"optionflow/internal/channel"
	"optionflow/internal/collector"
	"optionflow/internal/dashboard"
	"optionflow/internal/market"
	"optionflow/internal/metrics"
	"optionflow/internal/provider"
	"optionflow/internal/writer"
	"optionflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Optionflow.Name,
		"version": cfg.Optionflow.Version,
	}).Info("starting optionflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	metrics.Configure(cfg.Metrics)
	metrics.Init()
	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Metrics.Namespace)
		metrics.InitCloudWatch(cfg.Storage.S3.Region, cfg.Metrics.Namespace, cfg.Metrics.DashboardName)
	}

	clock, err := market.NewClock(cfg.Market)
	if err != nil {
		log.WithError(err).Error("failed to build market clock")
		os.Exit(1)
	}

	channels := channel.NewChannels(cfg.Channels)
	defer channels.Close()

	backend, err := provider.NewBackend(cfg)
	if err != nil {
		log.WithError(err).Error("failed to build provider backend")
		os.Exit(1)
	}

	client := provider.NewClient(cfg, backend)
	if err := client.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start provider client")
		os.Exit(1)
	}

	parquetWriter, err := writer.NewWriter(cfg, channels.Chain, channels.Spot)
	if err != nil {
		log.WithError(err).Error("failed to create writer")
		os.Exit(1)
	}
	if err := parquetWriter.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start writer")
		os.Exit(1)
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, log)
	if err != nil {
		log.WithError(err).Error("failed to build dashboard server")
		os.Exit(1)
	}

	coll := collector.NewCollector(cfg, clock, client, collector.NewChannelSink(channels))
	coll.AddObserver(collector.NewMetricsSink())
	if dash != nil {
		coll.AddObserver(dash.Status())
		coll.AddStatusSink(dash.Status())
		dash.Status().Bind(dashboard.StatusFuncs{
			CollectorState: coll.State,
			ProviderStats:  client.Stats,
			WriterStats:    parquetWriter.Stats,
			ChannelStats:   channels.GetStats,
		})
	}

	if err := coll.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start collector")
		os.Exit(1)
	}

	dashCtx, dashCancel := context.WithCancel(ctx)
	defer dashCancel()

	dashDone := make(chan struct{})
	if dash != nil {
		go func() {
			defer close(dashDone)
			if err := dash.Run(dashCtx, cfg.Optionflow.Name); err != nil {
				log.WithError(err).Error("dashboard server failed")
			}
		}()
		log.WithComponent("main").WithFields(logger.Fields{
			"address": dash.Address(),
		}).Info("dashboard listening")
	} else {
		close(dashDone)
	}

	metrics.StartChannelSizeMetrics(ctx, channels, 30*time.Second)

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-coll.Done():
		log.Info("collection finished; shutting down")
	}

	log.Info("starting graceful shutdown")

	log.Info("stopping collector")
	coll.Stop()

	log.Info("stopping provider client")
	client.Stop()

	channels.Close()

	log.Info("stopping writer")
	parquetWriter.Stop()

	dashCancel()
	select {
	case <-dashDone:
	case <-time.After(10 * time.Second):
		log.Warn("dashboard shutdown timeout exceeded")
	}

	log.Info("optionflow stopped")
}
