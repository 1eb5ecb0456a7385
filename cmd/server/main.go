package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"LUCID/go-backend/internal/config"
	"LUCID/go-backend/internal/database"
	"LUCID/go-backend/internal/handlers"
	"LUCID/go-backend/internal/monitor"
	"LUCID/go-backend/internal/notify"
	"LUCID/go-backend/internal/scheduler"
	"LUCID/go-backend/internal/services"
	"LUCID/go-backend/internal/status"
)

const version = "1.0.0"

var (
	grpcServer *grpc.Server
	httpServer *http.Server
)

func main() {
	cfg := config.LoadConfig()

	httpPort := flag.String("http-port", cfg.HTTPPort, "HTTP port")
	grpcPort := flag.String("grpc-port", cfg.GRPCPort, "gRPC health port")
	analysisURL := flag.String("analysis-url", cfg.AnalysisURL, "Analysis service URL")
	thresholdsFile := flag.String("thresholds", cfg.ThresholdsFile, "Thresholds YAML file")
	flag.Parse()
	cfg.HTTPPort = strings.TrimPrefix(*httpPort, ":")
	cfg.GRPCPort = strings.TrimPrefix(*grpcPort, ":")
	cfg.AnalysisURL = *analysisURL
	cfg.ThresholdsFile = *thresholdsFile

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Println("Starting Lucid driver monitor...")
	log.Printf("gRPC port: %s", cfg.GRPCPort)
	log.Printf("HTTP port: %s", cfg.HTTPPort)
	log.Printf("Analysis service: %s", cfg.AnalysisURL)
	log.Printf("Store: %s (%s)", cfg.DBDriver, cfg.DSNForLog())
	log.Printf("Environment: %s", cfg.Environment)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := services.GetMetrics()

	client := services.NewAnalysisClient(cfg.AnalysisURL, cfg.AnalysisTimeout)
	defer client.Close()

	resetters := monitor.ResetChain{client}
	var store monitor.Store
	var measurements handlers.Measurements
	db, err := database.Open(ctx, cfg.DBDriver, cfg.DatabaseDSN())
	if err != nil {
		log.Printf("Store unavailable: %v", err)
		log.Println("Continuing without persistence")
	} else {
		defer db.Close()
		store = db
		measurements = db
		resetters = append(resetters, db)
	}

	sched := scheduler.New(scheduler.Config{
		Interval:   cfg.Interval,
		MinSamples: cfg.MinSamples,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		DriverID:   cfg.DriverID,
		Debug:      cfg.Debug(),
	}, &services.EnrichingAnalyzer{
		Client:     client,
		WithState:  cfg.EnableStateClassifier,
		WithVitals: cfg.EnableVitals,
	}, resetters)
	sched.UseMetrics(metrics)

	thresholds := status.DefaultThresholds()
	if cfg.ThresholdsFile != "" {
		if thresholds, err = status.LoadThresholds(cfg.ThresholdsFile); err != nil {
			log.Printf("Using default thresholds: %v", err)
		}
	}

	hub := handlers.NewHub(cfg.MaxConnections, metrics)

	var notifier monitor.Notifier
	if cfg.DesktopNotify {
		n, err := notify.NewDesktopNotifier()
		if err != nil {
			log.Printf("Desktop notifications unavailable: %v", err)
		} else {
			defer n.Close()
			notifier = n
		}
	}

	mon, err := monitor.New(sched, monitor.Options{
		Variant:    strings.ToLower(cfg.Classifier),
		Thresholds: thresholds,
		DriverID:   cfg.DriverID,
		Store:      store,
		Hub:        hub,
		Notifier:   notifier,
		Metrics:    metrics,
	})
	if err != nil {
		log.Fatalf("Failed to create monitor: %v", err)
	}
	defer mon.Close()

	if cfg.ThresholdsFile != "" {
		if err := mon.WatchThresholds(ctx, cfg.ThresholdsFile); err != nil {
			log.Printf("Thresholds hot reload disabled: %v", err)
		}
	}

	health := handlers.NewHealthReporter(client, cfg.HealthInterval)
	go health.Run(ctx)

	grpcServer = grpc.NewServer()
	health.Register(grpcServer)

	api := &handlers.API{
		Monitor:     mon,
		Video:       client,
		Store:       measurements,
		Hub:         hub,
		Health:      health,
		Metrics:     metrics,
		AdminHash:   cfg.AdminTokenHash,
		CORSOrigins: cfg.CORSOrigins,
		Version:     version,
	}

	log.Println("Starting gRPC health server...")
	go startGRPCServer(cfg.GRPCPort)

	log.Println("Starting HTTP server...")
	httpServer = &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go startHTTPServer(cfg.HTTPPort)

	<-done
	log.Println("Shutting down...")
	health.Shutdown()
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	stopped := make(chan struct{})
	go func() {
		log.Println("Stopping gRPC server...")
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		log.Println("gRPC server stopped")
	case <-shutdownCtx.Done():
		log.Println("Forced shutdown")
		grpcServer.Stop()
	}

	log.Println("Stopping HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	} else {
		log.Println("HTTP server gracefully stopped")
	}

	log.Println("Closing WebSocket connections...")
	hub.Close()
	log.Println("Goodbye!")
}

func startGRPCServer(port string) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		log.Fatalf("failed to listen on gRPC port %v", err)
	}
	log.Printf("gRPC server listening on port %s", port)
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("failed to serve gRPC server %v", err)
	}
}

func startHTTPServer(port string) {
	log.Printf("HTTP server listening on port %s", port)
	log.Printf("WebSocket:  ws://localhost:%s/ws", port)
	log.Printf("REST API:   http://localhost:%s/api/*", port)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to serve HTTP: %v", err)
	}
}
