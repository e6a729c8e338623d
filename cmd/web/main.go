package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/rizkirmdhn/memzip/internal/common/logger"
	"github.com/rizkirmdhn/memzip/internal/common/messaging"
	"github.com/rizkirmdhn/memzip/internal/extractor"
	"github.com/rizkirmdhn/memzip/internal/web/handler"
	"github.com/rizkirmdhn/memzip/internal/web/store"
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

	// Print the Web panel configuration
	log.WithFields(logrus.Fields{
		"component": "web_main",
		"config":    fmt.Sprintf("%+v", cfg.WebPanel),
	}).Debug("Web panel configuration loaded")

	// Initialize message client
	msgClient, err := messaging.NewRabbitMQClient(&cfg.RabbitMq, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"error":     err,
		}).Fatal("Failed to create RabbitMQ client")
	}
	defer msgClient.Close()

	// Open the job history
	st, err := store.Open(&cfg.WebPanel, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"error":     err,
		}).Fatal("Failed to open job history")
	}
	defer st.Close()

	ext, err := extractor.NewFromConfig(&cfg.Extractor, log)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"error":     err,
		}).Fatal("Failed to create extractor")
	}

	// Check environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize the gin router
	r := gin.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup Handlers
	h, err := handler.NewHandler(ctx, cfg, log, msgClient, st, ext)
	if err != nil {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"error":     err,
		}).Fatal("Failed to create handler")
	}

	// Register routes
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.WebPanel.Host, strconv.Itoa(cfg.WebPanel.Port)),
		Handler: r,
	}

	// Start the web server
	go func() {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"addr":      srv.Addr,
		}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(logrus.Fields{
				"component": "web_main",
				"error":     err,
			}).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.WithField("component", "web_main").Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"error":     err,
		}).Error("Server shutdown failed")
	}
}
