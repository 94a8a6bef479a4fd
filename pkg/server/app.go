package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BetPull/internal/usecase"
	xhttp "BetPull/pkg/http"
	pkgkafka "BetPull/pkg/kafka"
	applogger "BetPull/pkg/logger"
	"BetPull/pkg/queue"
)

// Components are the long-running parts of the process. Nil fields are skipped.
type Components struct {
	Router     *usecase.Router
	Consumer   *pkgkafka.Consumer
	Handlers   []pkgkafka.MessageHandler
	Collector  *usecase.SnapshotCollector
	HTTP       *xhttp.Server
	RetryQueue *queue.RedisQueue

	// Closers release infrastructure clients after everything else has stopped, in order.
	Closers []io.Closer
}

// App owns the application lifecycle.
type App struct {
	log             *applogger.Logger
	c               Components
	shutdownTimeout time.Duration
	started         bool
}

func New(log *applogger.Logger, c Components, shutdownTimeout time.Duration) *App {
	if log == nil {
		log = applogger.Nop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &App{log: log, c: c, shutdownTimeout: shutdownTimeout}
}

// Run starts the app and blocks until SIGINT/SIGTERM or ctx is done, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		sctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		return errors.Join(err, a.Stop(sctx))
	}
	<-ctx.Done()
	a.log.Info("shutdown signal received")

	sctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	return a.Stop(sctx)
}

// Start brings components up with the snapshot sources last, after the router is running.
func (a *App) Start(ctx context.Context) error {
	a.started = true
	if q := a.c.RetryQueue; q != nil {
		if err := q.Start(ctx); err != nil {
			return fmt.Errorf("start retry queue: %w", err)
		}
	}
	if a.c.Router != nil {
		// shard work outlives the signal; Stop drains it and persists open markets
		a.c.Router.Start(context.WithoutCancel(ctx))
		a.log.Info("market router started")
	}
	if a.c.Consumer != nil && len(a.c.Handlers) > 0 {
		topics := make([]string, 0, len(a.c.Handlers))
		for _, h := range a.c.Handlers {
			a.c.Consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.Strings("topics", topics))
	}
	if a.c.Collector != nil {
		if err := a.c.Collector.Start(ctx); err != nil {
			return fmt.Errorf("start snapshot stream: %w", err)
		}
	}
	if a.c.HTTP != nil {
		if err := a.c.HTTP.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}
	return nil
}

// Stop shuts components down in reverse order. Markets still open are finalized by the router,
// so persistence and the retry queue stay up until it has returned.
func (a *App) Stop(ctx context.Context) error {
	if !a.started {
		return nil
	}
	a.started = false
	a.log.Info("shutting down")

	var errs []error
	collect := func(what string, err error) {
		if err != nil {
			a.log.Warn(what+" stop error", applogger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}

	if a.c.HTTP != nil {
		collect("http", a.c.HTTP.Stop(ctx))
	}
	if a.c.Collector != nil {
		collect("snapshot stream", a.c.Collector.Shutdown(ctx))
	}
	if a.c.Consumer != nil && len(a.c.Handlers) > 0 {
		collect("kafka consumer", a.c.Consumer.Stop(ctx))
	}
	if a.c.Router != nil {
		collect("router", a.c.Router.Stop(ctx))
	}
	if a.c.RetryQueue != nil {
		collect("retry queue", a.c.RetryQueue.Stop(ctx))
	}
	for _, c := range a.c.Closers {
		if c == nil {
			continue
		}
		collect(fmt.Sprintf("%T", c), c.Close())
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
