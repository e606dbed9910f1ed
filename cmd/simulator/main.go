package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/albertkur/ocpp-charger-simulator/config"
	"github.com/albertkur/ocpp-charger-simulator/internal/api"
	"github.com/albertkur/ocpp-charger-simulator/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Setup logger
	cfg.SetupLogger()
	logrus.Info("Starting charging station simulator")

	// Create the simulator fleet
	simulator, err := service.NewSimulator(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create simulator")
	}

	// Start the stations
	if err := simulator.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start simulator")
	}

	// Create API server
	apiServer := api.NewAPI(simulator)

	// Start API server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: apiServer,
	}

	// Run the server in a goroutine
	go func() {
		logrus.Infof("Starting API server on port %d", cfg.APIPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start API server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the simulator
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down simulator...")

	// Create a deadline for the shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Attempt to gracefully shut down the API server
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	// Take the fleet offline
	simulator.Stop()

	logrus.Info("Simulator exited")
}
