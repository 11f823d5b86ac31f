package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"go.bug.st/serial"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/linecount/internal/api"
	"github.com/banshee-data/linecount/internal/config"
	"github.com/banshee-data/linecount/internal/db"
	"github.com/banshee-data/linecount/internal/ingest"
	"github.com/banshee-data/linecount/internal/monitoring"
	"github.com/banshee-data/linecount/internal/pipeline"
	"github.com/banshee-data/linecount/internal/serialmux"
)

// healthService is the gRPC health service name reported alongside "".
const healthService = "linecount"

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to a .json or .yaml config file")
	listen := fs.String("listen", "", "HTTP listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = listen
	}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	metrics := monitoring.NewMetrics()
	manager, err := buildManager(ctx, cfg, managerOptions{database: database, metrics: metrics, restore: true})
	if err != nil {
		return err
	}
	setStream := streamDefaulter(manager, "")
	submit := func(f pipeline.Frame) error {
		setStream(&f)
		return manager.Submit(ctx, f)
	}

	mux := http.NewServeMux()
	api.NewServer(manager, api.WithEventStore(database), api.WithMetrics(metrics.Handler())).Register(mux)
	if err := database.AttachAdminRoutes(mux); err != nil {
		return err
	}

	var tracker *serialmux.SerialMux[serial.Port]
	if sc := cfg.Serial; sc != nil {
		tracker, err = serialmux.NewRealSerialMux(sc.Port, serialmux.OptionsFromConfig(*sc))
		if err != nil {
			return fmt.Errorf("failed to open serial port %s: %w", sc.Port, err)
		}
		defer tracker.Close()
		tracker.AttachAdminRoutes(mux)
	}

	// Create a wait group for the manager, listeners and servers
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("manager stopped: %v", err)
		}
		log.Print("pipeline workers stopped")
	}()

	if addr := cfg.GetUDPListen(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ingest.ListenUDP(ctx, addr, submit); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("UDP listener stopped: %v", err)
			}
		}()
	}

	if tracker != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := tracker.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("serial monitor terminated")
		}()
		go func() {
			defer wg.Done()
			if err := serialmux.Feed(ctx, tracker, cfg.Serial.Stream, submit); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("serial feed stopped: %v", err)
			}
		}()
	}

	if addr := cfg.GetGRPCListen(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC health on %s: %w", addr, err)
		}
		gs, hs := newHealthServer()
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				<-ctx.Done()
				hs.Shutdown()
				gs.GracefulStop()
			}()
			log.Printf("gRPC health server listening on %s", lis.Addr())
			if err := gs.Serve(lis); err != nil {
				log.Printf("gRPC health server stopped: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveHTTP(ctx, cfg.GetListen(), api.LoggingMiddleware(mux))
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return nil
}

// newHealthServer reports SERVING for the whole server and for the
// linecount service until Shutdown.
func newHealthServer() (*grpc.Server, *health.Server) {
	gs := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
