package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/rizkirmdhn/memzip/internal/common/logger"
	"github.com/rizkirmdhn/memzip/internal/common/messaging"
	"github.com/rizkirmdhn/memzip/internal/downloader"
	"github.com/rizkirmdhn/memzip/internal/downloader/service"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load the configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Initialize logger
	log := logger.New(cfg)

	// Print the Downloader configuration
	log.WithFields(logrus.Fields{
		"component": "downloader_main",
		"config":    fmt.Sprintf("%+v", cfg.Downloader),
	}).Debug("Downloader configuration loaded")

	log.WithFields(logrus.Fields{
		"component": "downloader_main",
		"url":       cfg.RabbitMq.URL,
		"exchange":  cfg.RabbitMq.Exchange,
	}).Debug("RabbitMQ configuration loaded")

	// Initialize RabbitMQ connection
	messageClient, err := messaging.NewRabbitMQClient(&cfg.RabbitMq, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "downloader_main",
			"error":     err,
		}).Fatal("Failed to initialize RabbitMQ")
	}
	defer messageClient.Close()

	fetcher := downloader.NewHTTPFetcher(&cfg.Downloader, log)
	defer fetcher.Close()

	// Initialize the Downloader service
	downloaderService := service.NewDownloaderService(&cfg.Downloader, &cfg.RabbitMq, log, messageClient, fetcher)

	// Start the service
	if err := downloaderService.Start(); err != nil {
		log.WithFields(logrus.Fields{
			"component": "downloader_main",
			"error":     err,
		}).Fatal("Failed to start Downloader service")
	}

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Block until we receive a termination signal
	sig := <-sigCh
	log.WithFields(logrus.Fields{
		"component": "downloader_main",
		"signal":    sig,
		"running":   len(downloaderService.Running()),
	}).Info("Received signal, shutting down")

	// Cancel running jobs and wait for their final logs
	downloaderService.Stop()
}
