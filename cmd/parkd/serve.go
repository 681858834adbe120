package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parkspot/tracker/internal/backup"
	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/connectivity"
	"github.com/parkspot/tracker/internal/dispatcher"
	"github.com/parkspot/tracker/internal/events"
	"github.com/parkspot/tracker/internal/geocode"
	"github.com/parkspot/tracker/internal/handlers"
	"github.com/parkspot/tracker/internal/httpapi"
	"github.com/parkspot/tracker/internal/influx"
	"github.com/parkspot/tracker/internal/jobs"
	"github.com/parkspot/tracker/internal/lifecycle"
	"github.com/parkspot/tracker/internal/logging"
	"github.com/parkspot/tracker/internal/notify"
	"github.com/parkspot/tracker/internal/timer"
	"github.com/parkspot/tracker/pkg/streaming"

	"github.com/rs/zerolog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the parking service",
	Long: `Start the HTTP API, the live notice stream, the reminder timers and the
background jobs. Runs until interrupted.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 15 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 30 * time.Second // a manual sync answers after the whole pass
	serverIdleTimeout      = 60 * time.Second
	noticeLimit            = 20
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	if err := viper.BindPFlag("server.address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Error binding address flag", "error", err)
	}
}

// liveState feeds the log context handler. Fields are set once the
// services exist.
type liveState struct {
	manager      atomic.Pointer[lifecycle.Manager]
	connectivity atomic.Pointer[connectivity.Service]
}

func (s *liveState) attrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if id := middleware.GetReqID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if c := s.connectivity.Load(); c != nil {
		attrs = append(attrs, slog.Bool("online", c.Online()))
	}
	if m := s.manager.Load(); m != nil {
		attrs = append(attrs, slog.Int("records", len(m.Records())))
	}
	return attrs
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := &liveState{}
	a, err := newApp(ServiceName, state.attrs)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.Logger
	fmt.Fprintf(os.Stderr, "%s %s logging to %s\n", ServiceName, Version, a.LogFilePath)

	store, err := openStore(config.GetStorageConfig(), a.SlogManager)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	geocoder := geocode.New(config.GetGeocoderConfig())

	connCfg := config.GetConnectivityConfig()
	connDeps := connectivity.Dependencies{
		Interval:   connCfg.ProbeInterval,
		LogManager: a.SlogManager,
	}
	if connCfg.Probe {
		connDeps.Probe = geocoder.Healthcheck
	}
	conn := connectivity.NewService(connDeps)
	state.connectivity.Store(conn)

	// notices
	toaster := notify.NewToaster(noticeLimit)
	hub := notify.NewHub(func() streaming.HelloPayload {
		return streaming.HelloPayload{Online: conn.Online(), Notices: toaster.Active()}
	}, logger)
	notifiers := notify.Multi{toaster, notify.LogNotifier{Logger: logger}, hub}
	if nc := config.GetNotifyConfig(); nc.FCMEnabled {
		fcm, err := notify.NewFCM(ctx, nc, logger)
		if err != nil {
			logger.Warn("Push notifications disabled", "error", err)
		} else {
			notifiers = append(notifiers, fcm)
			logger.Info("Push notifications enabled", "devices", len(nc.FCMTokens))
		}
	}

	// events
	publishers := events.Multi{hub}
	var kafkaPublisher *events.KafkaPublisher
	if kc := config.GetKafkaConfig(); kc.Enabled {
		kafkaPublisher, err = events.NewKafka(kc, logger)
		if err != nil {
			logger.Warn("Kafka publishing disabled", "error", err)
		} else {
			publishers = append(publishers, kafkaPublisher)
			logger.Info("Publishing lifecycle events to Kafka", "brokers", kc.Brokers, "topic", kc.Topic)
		}
	}

	// history
	var history lifecycle.HistoryRecorder
	var influxManager *influx.Manager
	if ic := config.GetInfluxConfig(); ic.Enabled {
		influxManager = influx.NewManager(zerolog.New(a.LogFile).With().Timestamp().Str("component", "influx").Logger(), ic)
		if err := influxManager.Connect(ctx); err != nil {
			logger.Warn("Parking history disabled", "error", err)
			influxManager = nil
		} else {
			history = influxManager
			logger.Info("Recording parking history", "url", ic.URL, "bucket", ic.Bucket, "online", influxManager.IsValid)
		}
	}

	timers := timer.New(timer.SystemClock{}, logger)
	defer timers.Stop()

	mgr, err := lifecycle.New(lifecycle.Dependencies{
		Store:     store,
		Timers:    timers,
		Resolver:  geocoder,
		Notifier:  notifiers,
		Logger:    logger,
		Publisher: publishers,
		History:   history,
		Meter:     a.OTelProvider.Meter("github.com/parkspot/tracker/internal/lifecycle"),
		Sync:      config.GetSyncConfig(),
	})
	if err != nil {
		return fmt.Errorf("failed to create location manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		logger.Error("Failed to load locations", "error", err)
		return err
	}
	state.manager.Store(mgr)

	conn.Subscribe(mgr.Reconciler().OnConnectivity)
	if connCfg.Probe {
		conn.Start(ctx)
	} else {
		conn.Report(true)
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	handlerService := handlers.NewService(handlers.Dependencies{
		Manager:      mgr,
		Connectivity: conn,
		LogManager:   a.SlogManager,
	})
	handlerService.Register(d)
	logger.Info("Handlers registered with dispatcher", "commands", d.Commands())
	hub.SetCommandHandler(func(ctx context.Context, command string, args json.RawMessage) (any, error) {
		res, err := d.Dispatch(ctx, dispatcher.Event{Command: command, Payload: args})
		if err != nil {
			return nil, errors.New(lifecycle.UserMessage(err))
		}
		return res, nil
	})

	// background jobs
	var uploader jobs.Uploader
	backupCfg := config.GetBackupConfig()
	if backupCfg.Enabled {
		u, err := backup.New(backupCfg, logger)
		if err == nil {
			err = u.EnsureBucket(ctx)
		}
		if err != nil {
			logger.Warn("Backups disabled", "error", err)
		} else {
			uploader = u
		}
	}
	syncCfg := config.GetSyncConfig()
	jobService, err := jobs.NewService(jobs.Dependencies{
		Manager:        mgr,
		Timers:         timers,
		Store:          store,
		Backup:         uploader,
		Logger:         logger,
		SyncSchedule:   syncCfg.RetrySchedule,
		SweepSchedule:  config.GetTimerConfig().SweepSchedule,
		BackupSchedule: backupCfg.Schedule,
	})
	if err != nil {
		return err
	}
	jobService.Start()

	router := httpapi.NewRouter(httpapi.Dependencies{
		Manager:  mgr,
		Handlers: handlerService,
		Commands: d,
		Toaster:  toaster,
		Stream:   hub,
		Metrics:  a.OTelProvider.MetricsHandler(),
		Online:   conn.Online,
		Logger:   logger,
	}, httpapi.WithMiddlewares(httpapi.LoggingMiddleware(logger)))

	server := &http.Server{
		Addr:         config.GetServerConfig().Address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "address", server.Addr, "storage", storageName(config.GetStorageConfig()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server failed", "error", err)
		}
		stop()
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}

	conn.Stop()
	jobService.Stop()
	mgr.Reconciler().Close()
	d.Close()
	if err := hub.Close(); err != nil {
		logger.Warn("Failed to close notice stream", "error", err)
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Warn("Failed to close Kafka writer", "error", err)
		}
	}
	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			logger.Warn("Failed to close InfluxDB client", "error", err)
		}
	}
	logger.Info("Shutdown complete")
	return nil
}
