package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pendulo/formstudio/internal/config"
	"github.com/pendulo/formstudio/model"
)

func TestNewLogger_levels(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "warn"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestNewLogger_badLevelDefaultsToInfo(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "shout"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be enabled after level fallback")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should stay disabled after level fallback")
	}
}

func TestLoggerFrom_fallback(t *testing.T) {
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return fallback when context holds no logger")
	}

	stored := zap.NewNop()
	ctx := WithLogger(context.Background(), stored)
	if got := LoggerFrom(ctx, fallback); got != stored {
		t.Error("LoggerFrom should return the stored logger")
	}
}

func TestRequestLogger_withoutRequestContext(t *testing.T) {
	fallback := zap.NewNop()
	if got := RequestLogger(context.Background(), fallback); got != fallback {
		t.Error("RequestLogger without RequestContext should be the plain logger")
	}
}

func TestRedactBody(t *testing.T) {
	body := map[string]any{
		"name":  "support_ticket",
		"token": "secret-value",
		"persistence": map[string]any{
			"cosmos_key": "abc",
			"database":   "forms",
		},
	}

	got := RedactBody(body, []string{"name"})

	if got["name"] != "[REDACTED]" {
		t.Errorf("name = %v, want redacted", got["name"])
	}
	if got["token"] != "[REDACTED]" {
		t.Errorf("token = %v, want redacted", got["token"])
	}
	nested := got["persistence"].(map[string]any)
	if nested["cosmos_key"] != "[REDACTED]" {
		t.Errorf("cosmos_key = %v, want redacted", nested["cosmos_key"])
	}
	if nested["database"] != "forms" {
		t.Errorf("database = %v, want untouched", nested["database"])
	}

	// Original must not be mutated.
	if body["token"] != "secret-value" {
		t.Error("RedactBody mutated its input")
	}
}

func TestRedactBody_nil(t *testing.T) {
	if RedactBody(nil, nil) != nil {
		t.Error("RedactBody(nil) should be nil")
	}
}

func TestRequestLogger_enriches(t *testing.T) {
	rctx := &model.RequestContext{
		SubjectID:     "sara",
		TenantID:      "acme",
		CorrelationID: "corr-1",
	}
	ctx := model.WithRequestContext(context.Background(), rctx)

	// Just verify it does not panic and returns a usable logger.
	logger := RequestLogger(ctx, zap.NewNop())
	logger.Info("session created")
}
