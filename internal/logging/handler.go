// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

// Package logging builds the process slog.Logger. Every record carries the
// service name and version, plus the request ID and OpenTelemetry trace
// context found on the record's context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatTint = "tint"
)

type requestIDKey struct{}

// WithRequestID returns ctx carrying a request ID for log records.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// contextHandler decorates records with service metadata and context values.
type contextHandler struct {
	handler slog.Handler
	service string
	version string
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	if id := RequestIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{handler: h.handler.WithAttrs(attrs), service: h.service, version: h.version}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{handler: h.handler.WithGroup(name), service: h.service, version: h.version}
}

// Options configure Setup.
type Options struct {
	Service string
	Version string
	// Format is json, text or tint. Empty means json.
	Format string
	// Level is the minimum level. The zero value is info.
	Level slog.Level
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// ParseLevel maps debug, info, warn or error to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, oops.Code("LOG_LEVEL_INVALID").With("level", s).Wrap(err)
	}
	return level, nil
}

// ValidFormat reports whether format is supported. Empty is valid.
func ValidFormat(format string) bool {
	switch format {
	case "", FormatJSON, FormatText, FormatTint:
		return true
	}
	return false
}

// Setup creates a configured slog.Logger.
func Setup(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var base slog.Handler
	switch opts.Format {
	case FormatText:
		base = slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level})
	case FormatTint:
		base = tint.NewHandler(w, &tint.Options{Level: opts.Level, TimeFormat: time.Kitchen})
	default:
		base = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level})
	}

	return slog.New(&contextHandler{handler: base, service: opts.Service, version: opts.Version})
}

// SetDefault installs a logger built from opts as the slog default.
func SetDefault(opts Options) *slog.Logger {
	logger := Setup(opts)
	slog.SetDefault(logger)
	return logger
}
