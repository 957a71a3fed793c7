package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/trace"
)

type LoggerClient struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

func InitLoggerClient(cfg *config.EnvConfig) *LoggerClient {
	level := slog.LevelInfo
	if cfg.Environment.Mode == "development" {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	var provider *sdklog.LoggerProvider
	if cfg.Grafana.OTLPEndpoint != "" {
		ctx := context.Background()
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Grafana.OTLPEndpoint)}
		if cfg.Grafana.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}

		exporter, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			log.Printf("Warning: failed to create OTLP log exporter, logging to console only: %v", err)
		} else {
			res, err := newResource(ctx, cfg)
			if err != nil {
				log.Printf("Warning: failed to build telemetry resource: %v", err)
			}
			provider = sdklog.NewLoggerProvider(
				sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
				sdklog.WithResource(res),
			)
			handlers = append(handlers, otelslog.NewHandler(cfg.Grafana.ServiceName, otelslog.WithLoggerProvider(provider)))
		}
	}

	return &LoggerClient{
		logger:   slog.New(fanoutHandler(handlers)),
		provider: provider,
	}
}

// NewLoggerClient wraps an arbitrary handler, mostly for tests and CLI output.
func NewLoggerClient(handler slog.Handler) *LoggerClient {
	return &LoggerClient{logger: slog.New(handler)}
}

// DiscardLogger drops every record.
func DiscardLogger() *LoggerClient {
	return NewLoggerClient(slog.NewTextHandler(io.Discard, nil))
}

func (l *LoggerClient) With(args ...any) *LoggerClient {
	return &LoggerClient{logger: l.logger.With(args...), provider: l.provider}
}

func (l *LoggerClient) DebugWithContextf(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelDebug, nil, format, args...)
}

func (l *LoggerClient) InfoWithContextf(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelInfo, nil, format, args...)
}

func (l *LoggerClient) WarningWithContextf(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelWarn, nil, format, args...)
}

func (l *LoggerClient) ErrorWithContextf(ctx context.Context, err error, format string, args ...any) {
	l.log(ctx, slog.LevelError, err, format, args...)
}

func (l *LoggerClient) log(ctx context.Context, level slog.Level, err error, format string, args ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 3)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", span.TraceID().String()),
			slog.String("span_id", span.SpanID().String()),
		)
	}

	l.logger.LogAttrs(ctx, level, strings.TrimSpace(fmt.Sprintf(format, args...)), attrs...)
}

// Shutdown flushes buffered log records to the collector.
func (l *LoggerClient) Shutdown(ctx context.Context) error {
	if l.provider == nil {
		return nil
	}
	return l.provider.Shutdown(ctx)
}

// fanoutHandler sends every record to each enabled handler.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, handler := range h {
		next[i] = handler.WithAttrs(attrs)
	}
	return next
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, handler := range h {
		next[i] = handler.WithGroup(name)
	}
	return next
}
