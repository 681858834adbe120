package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/logging"
	intOtel "github.com/parkspot/tracker/internal/otel"
)

// app carries the ambient services every command needs: the log file, the
// OTel provider and the slog manager writing to both.
type app struct {
	LogFilePath  string
	LogFile      *os.File
	OTelProvider *intOtel.Provider
	SlogManager  *logging.SlogManager
	Logger       *slog.Logger
}

// newApp opens the session log file and sets up logging and metrics.
// contextProvider, when set, adds live attributes to every record.
func newApp(name string, contextProvider logging.ContextProvider) (*app, error) {
	a := &app{SlogManager: logging.NewSlogManager()}

	a.LogFilePath = logging.LogFilePath(viper.GetString("logsDir"), name, SessionStartTime)
	f, err := logging.OpenLogFile(a.LogFilePath)
	if err != nil {
		return nil, err
	}
	a.LogFile = f

	otelCfg := config.GetOTelConfig()
	a.OTelProvider, err = intOtel.New(intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		ServiceVersion: Version,
		BatchTimeout:   otelCfg.BatchTimeout,
		LogWriter:      f,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize OTel provider: %w", err)
	}
	otel.SetMeterProvider(a.OTelProvider.MeterProvider())

	var extra []io.Writer
	graylogCfg := config.GetGraylogConfig()
	var gelfErr error
	if graylogCfg.Enabled {
		w, err := logging.NewGELFWriter(graylogCfg.Address)
		if err != nil {
			gelfErr = err
		} else {
			extra = append(extra, w)
		}
	}

	if contextProvider != nil {
		a.SlogManager.SetContextProvider(contextProvider)
	}
	a.SlogManager.Setup(f, viper.GetString("logLevel"), a.OTelProvider.LoggerProvider(), extra...)
	a.Logger = a.SlogManager.Logger()
	slog.SetDefault(a.Logger)

	a.Logger.Info("Begin logging in logs directory", "path", a.LogFilePath, "version", Version, "built", BuildDate)
	if otelCfg.Enabled {
		a.Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
	}
	if gelfErr != nil {
		a.Logger.Warn("Graylog disabled", "error", gelfErr)
	} else if graylogCfg.Enabled {
		a.Logger.Info("Shipping logs to Graylog", "address", graylogCfg.Address)
	}
	return a, nil
}

// Close flushes and shuts down OTel, then closes the log file.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
	}
	if err := a.OTelProvider.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to shut down OTel provider: %v\n", err)
	}
	a.LogFile.Close()
}
