package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	zapobserver "go.uber.org/zap/zaptest/observer"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}
	return entry
}

// TestLogger_WithAddsFields verifies With fields appear on every record.
func TestLogger_WithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).With(Field{Key: "dependency", Value: "payment-service"})

	logger.Info(context.Background(), "test message")

	entry := decodeEntry(t, &buf)
	if v, ok := entry["dependency"].(string); !ok || v != "payment-service" {
		t.Errorf("expected dependency='payment-service', got %v", entry["dependency"])
	}
	if v, ok := entry["msg"].(string); !ok || v != "test message" {
		t.Errorf("expected msg='test message', got %v", entry["msg"])
	}
}

// TestLogger_IncludesDuration verifies duration_ms field is present.
func TestLogger_IncludesDuration(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "test message",
		Field{Key: "duration_ms", Value: 50.5},
	)

	entry := decodeEntry(t, &buf)
	if v, ok := entry["duration_ms"].(float64); !ok || v != 50.5 {
		t.Errorf("expected duration_ms=50.5, got %v", entry["duration_ms"])
	}
}

// TestLogger_ErrorField verifies error values are logged by message.
func TestLogger_ErrorField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Error(context.Background(), "call failed", Field{Key: "error", Value: errors.New("connection refused")})

	entry := decodeEntry(t, &buf)
	if entry["level"] != "error" {
		t.Errorf("expected level=error, got %v", entry["level"])
	}
	if entry["error"] != "connection refused" {
		t.Errorf("expected error='connection refused', got %v", entry["error"])
	}
}

// TestLogger_SensitiveFieldsRedacted verifies credential-like keys are masked.
func TestLogger_SensitiveFieldsRedacted(t *testing.T) {
	tests := []string{"password", "api_key", "Authorization", "card_number", "stripe_secret", "refresh_token"}

	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter("info", &buf)

			logger.Info(context.Background(), "request", Field{Key: key, Value: "s3cr3t-value"})

			if strings.Contains(buf.String(), "s3cr3t-value") {
				t.Errorf("field %q leaked its value: %s", key, buf.String())
			}
			entry := decodeEntry(t, &buf)
			if entry[key] != "[REDACTED]" {
				t.Errorf("expected %s=[REDACTED], got %v", key, entry[key])
			}
		})
	}
}

// TestLogger_LevelFiltering verifies records below the level are dropped.
func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)

	logger.Debug(context.Background(), "debug")
	logger.Info(context.Background(), "info")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got: %s", buf.String())
	}

	logger.Warn(context.Background(), "warn")
	entry := decodeEntry(t, &buf)
	if entry["level"] != "warn" {
		t.Errorf("expected level=warn, got %v", entry["level"])
	}
}

// TestLogger_DebugLevel verifies debug records pass at debug level.
func TestLogger_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", &buf)

	logger.Debug(context.Background(), "debug message")

	entry := decodeEntry(t, &buf)
	if entry["level"] != "debug" {
		t.Errorf("expected level=debug, got %v", entry["level"])
	}
}

// TestLogger_TraceCorrelation verifies trace and span ids are attached.
func TestLogger_TraceCorrelation(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	NewLoggerWithWriter("info", &buf).Info(ctx, "with trace")

	entry := decodeEntry(t, &buf)
	if entry["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("expected trace_id=%s, got %v", span.SpanContext().TraceID(), entry["trace_id"])
	}
	if entry["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("expected span_id=%s, got %v", span.SpanContext().SpanID(), entry["span_id"])
	}
}

// TestNewZapLogger verifies a wrapped zap logger receives records.
func TestNewZapLogger(t *testing.T) {
	core, logs := zapobserver.New(zap.InfoLevel)
	logger := NewZapLogger(zap.New(core))

	logger.With(Field{Key: "dependency", Value: "database"}).Warn(context.Background(), "slow")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", logs.Len())
	}
	got := logs.All()[0]
	if got.Message != "slow" {
		t.Errorf("expected message 'slow', got %q", got.Message)
	}
	if got.ContextMap()["dependency"] != "database" {
		t.Errorf("expected dependency=database, got %v", got.ContextMap()["dependency"])
	}

	if _, ok := NewZapLogger(nil).(*noopLogger); !ok {
		t.Error("NewZapLogger(nil) should return a no-op logger")
	}
}

// TestNewLogger_InvalidConfig verifies level and format are validated.
func TestNewLogger_InvalidConfig(t *testing.T) {
	if _, err := NewLogger(LoggingConfig{Level: "verbose"}); !errors.Is(err, ErrInvalidLogLevel) {
		t.Errorf("expected ErrInvalidLogLevel, got %v", err)
	}
	if _, err := NewLogger(LoggingConfig{Level: "info", Format: "xml"}); !errors.Is(err, ErrInvalidLogFormat) {
		t.Errorf("expected ErrInvalidLogFormat, got %v", err)
	}
}

// TestNewLogger_FileOutput verifies records reach the rotating log file.
func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depguard.log")

	logger, err := NewLogger(LoggingConfig{
		Level:   "error",
		Format:  "json",
		File:    path,
		Service: "depguard",
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info(context.Background(), "filtered")
	logger.Error(context.Background(), "kept", Field{Key: "dependency", Value: "database"})
	if s, ok := logger.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "filtered") {
		t.Errorf("info record written at error level: %s", out)
	}
	if !strings.Contains(out, `"msg":"kept"`) || !strings.Contains(out, `"service":"depguard"`) {
		t.Errorf("expected error record with service field, got: %s", out)
	}
}

// TestParseLogLevel verifies level parsing and its fallback.
func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"bogus": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if LevelWarn.String() != "warn" {
		t.Errorf("LevelWarn.String() = %q, want warn", LevelWarn.String())
	}
}
