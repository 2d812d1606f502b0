package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/umbradb/umbra/internal/config"
	"github.com/umbradb/umbra/internal/logger"
	"github.com/umbradb/umbra/internal/metrics"
	"github.com/umbradb/umbra/internal/server"
	"github.com/umbradb/umbra/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync() //nolint:errcheck

	log.Info("Umbra starting",
		zap.String("port", cfg.Server.Port),
		zap.Bool("sweeper", cfg.GC.Enabled),
	)

	db := store.New()
	engine := server.NewEngine(db, cfg, log)

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Info("metrics listening on", zap.String("address", cfg.Metrics.Addr))
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error("metrics listener error", zap.Error(err))
			}
		}()
	}

	address := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		log.Error("listener error", zap.Error(err))
		return
	}
	log.Info("listening on", zap.String("address", address))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error("Accept error", zap.Error(err))
				continue
			}

			metrics.ConnectionsTotal.Inc()
			metrics.ConnectionsActive.Inc()

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer metrics.ConnectionsActive.Dec()
				server.NewSession(conn, cfg.Server.ReadBufferSize, log).Serve(engine)
			}()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down...")

	listener.Close() //nolint:errcheck
	engine.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("All connections closed gracefully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timed out, forcing exit", zap.Duration("timeout", 5*time.Second))
	}

	log.Info("Umbra stopped")
}
