package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kimiroo/ice-server/config"
	"github.com/kimiroo/ice-server/infra/tracing"
	"github.com/kimiroo/ice-server/internal/domain/state"
)

// ProvideLogger builds the process logger. Output is rotated by lumberjack
// when log.file is set, stdout otherwise.
func ProvideLogger(lc fx.Lifecycle, cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		lc.Append(fx.StopHook(rotating.Close))
		out = rotating
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}

	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler).With(
		"service", ServiceName,
		"version", version,
	)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ProvideWatermillLogger routes watermill's own logging into slog.
func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

// ProvideState seeds the armed flag from configuration.
func ProvideState(cfg *config.Config) *state.State {
	return state.New(cfg.Armed)
}

// ProvideTracerProvider installs the tracer provider that arbitration and API
// spans are recorded on, exporting them as tracing.exporter selects.
func ProvideTracerProvider(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (trace.TracerProvider, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.namespace", ServiceNamespace),
		attribute.String("service.version", version),
	))
	if err != nil {
		return nil, err
	}

	tp, shutdown, err := tracing.New(context.Background(), cfg.Tracing, res, os.Stdout)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	logger.Info("TRACING_CONFIGURED", "exporter", cfg.Tracing.Exporter, "sample_ratio", cfg.Tracing.SampleRatio)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return shutdown(ctx) },
	})
	return tp, nil
}
