// notifyd is the real-time notification delivery service: it tracks
// connected clients, routes notifications to them, queues for offline
// recipients, retries failures with backoff, and monitors connection health.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/look4dennis/stride-notify/internal/config"
	"github.com/look4dennis/stride-notify/internal/dispatch"
	"github.com/look4dennis/stride-notify/internal/hub"
	"github.com/look4dennis/stride-notify/internal/registry"
	"github.com/look4dennis/stride-notify/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	reg := registry.New()

	var (
		t    dispatch.Transport
		amqp *transport.AMQP
	)
	if cfg.AMQPURL != "" {
		var err error
		amqp, err = transport.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Error("amqp transport unavailable", slog.Any("error", err))
			os.Exit(1)
		}
		t = amqp
	} else {
		logger.Info("no AMQP_URL configured, using loopback transport")
		t = transport.NewLoopback(reg)
	}

	h := hub.New(reg, t, cfg.Policy, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	srv := newServer(h, logger)
	engine := gin.New()
	engine.Use(gin.Recovery())
	srv.routes(engine)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("notifyd listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	<-done
	if amqp != nil {
		_ = amqp.Close()
	}
	logger.Info("notifyd stopped")
}
