package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/eventbroker/internal/archive"
	"github.com/alfredjeanlab/eventbroker/internal/config"
	"github.com/alfredjeanlab/eventbroker/internal/dispatch"
	"github.com/alfredjeanlab/eventbroker/internal/events"
	"github.com/alfredjeanlab/eventbroker/internal/queue"
	"github.com/alfredjeanlab/eventbroker/internal/queue/jetstream"
	"github.com/alfredjeanlab/eventbroker/internal/queue/sqs"
	"github.com/alfredjeanlab/eventbroker/internal/server"
	"github.com/alfredjeanlab/eventbroker/internal/store/postgres"
	"github.com/alfredjeanlab/eventbroker/internal/watchdog"
	"github.com/spf13/cobra"
)

// drainTimeout bounds how long shutdown waits for in-flight dispatches.
const drainTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the event broker",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Connect to Postgres.
		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("error closing store", "err", err)
			}
		}()

		// Create event publisher.
		var publisher events.Publisher
		var natsPub *events.NATSPublisher
		if cfg.NATSURL != "" {
			natsPub, err = events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			publisher = natsPub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (BROKER_NATS_URL not set)")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("error closing publisher", "err", err)
			}
		}()
		notifier := events.NewBusNotifier(publisher, logger)

		// Queue backends.
		retrier := queue.NewRetrier(cfg.PublishInitialBackoff, cfg.PublishMaxBackoff, cfg.PublishMaxAttempts, logger)
		var publishers []queue.Publisher
		if cfg.JetStreamActive() {
			publishers = append(publishers, jetstream.New(jetstream.Options{
				Conn:    natsPub.Conn(),
				Prefix:  cfg.QueuePrefix,
				Retrier: retrier,
				Logger:  logger,
			}))
			logger.Info("jetstream queue backend enabled")
		}
		if cfg.SQSEnabled {
			p, err := sqs.New(ctx, sqs.Options{
				Region:            cfg.AWSRegion,
				Endpoint:          cfg.SQSEndpoint,
				Prefix:            cfg.QueuePrefix,
				VisibilityTimeout: cfg.SQSVisibilityTimeout,
				Retrier:           retrier,
				Logger:            logger,
			})
			if err != nil {
				return err
			}
			publishers = append(publishers, p)
			logger.Info("sqs queue backend enabled", "region", cfg.AWSRegion, "endpoint", cfg.SQSEndpoint)
		}
		defer func() {
			for _, p := range publishers {
				if err := p.Close(); err != nil {
					logger.Error("error closing queue backend", "backend", p.Name(), "err", err)
				}
			}
		}()

		// Job watchdog.
		var wd *watchdog.Watchdog
		if cfg.WatchdogEnabled {
			wd = watchdog.New(watchdog.Config{
				Deadline: cfg.WatchdogDeadline,
				OnStuck:  notifier.Stuck,
				Logger:   logger,
			})
			defer wd.Stop()
			logger.Info("job watchdog enabled", "deadline", cfg.WatchdogDeadline)
		}

		orchestrator, err := dispatch.New(dispatch.Config{
			Store:             store,
			Publishers:        publishers,
			Watchdog:          wd,
			Notifier:          notifier,
			HeartbeatInterval: cfg.HeartbeatInterval,
			Logger:            logger,
		})
		if err != nil {
			return err
		}

		// Dispatches accepted over HTTP outlive the signal so they can drain.
		dispatchCtx, cancelDispatches := context.WithCancel(context.Background())
		defer cancelDispatches()

		// Start HTTP server.
		brokerServer := server.NewBrokerServer(dispatchCtx, orchestrator, store, wd, logger)
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: brokerServer.NewHTTPHandler(cfg.AuthToken),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
				stop()
			}
		}()

		// Start bus listener if NATS is available.
		listenerDone := make(chan struct{})
		if cfg.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				return err
			}
			var acker events.Acker
			if wd != nil {
				acker = wd
			}
			listener := events.NewListener(sub, orchestrator, acker, logger)
			go func() {
				defer close(listenerDone)
				if err := listener.Run(ctx); err != nil {
					logger.Error("bus listener error", "err", err)
				}
				sub.Close()
			}()
		} else {
			close(listenerDone)
		}

		// Start execution-log archive.
		var scheduler *archive.Scheduler
		if cfg.ArchiveInterval > 0 {
			dest, err := archive.NewS3Destination(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Prefix, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
			if err != nil {
				return err
			}
			cursorName := "s3://" + cfg.ArchiveS3Bucket + "/" + cfg.ArchiveS3Prefix
			scheduler = archive.NewScheduler(store, []archive.Destination{dest}, cfg.ArchiveInterval, 0, logger,
				archive.WithSettle(cfg.ArchiveSettle),
				archive.WithCursorStore(store, cursorName))
			if err := scheduler.Resume(ctx); err != nil {
				return err
			}
			scheduler.Start(ctx)
			logger.Info("archive scheduler started", "interval", cfg.ArchiveInterval, "bucket", cfg.ArchiveS3Bucket, "cursor", scheduler.Cursor())
		}

		logger.Info("event broker started",
			"http_addr", cfg.HTTPAddr,
			"backends", len(publishers),
		)

		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		<-listenerDone
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		drained := make(chan struct{})
		go func() {
			brokerServer.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(drainTimeout):
			logger.Warn("in-flight dispatches did not finish, cancelling", "timeout", drainTimeout)
			cancelDispatches()
			<-drained
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// newLogger returns a text logger on stderr at the named level.
func newLogger(level string) (*slog.Logger, error) {
	return newLoggerTo(os.Stderr, level)
}

func newLoggerTo(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("BROKER_LOG_LEVEL: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l, ReplaceAttr: alertLevel})), nil
}

// alertLevel prints watchdog.LevelAlert as ALERT instead of ERROR+4.
func alertLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == watchdog.LevelAlert {
		a.Value = slog.StringValue("ALERT")
	}
	return a
}
