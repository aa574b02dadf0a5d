package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pendulo/formstudio/internal/config"
)

func TestInitTracing_disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false}, "studio", "test")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown error = %v", err)
	}
}

func TestInitTracing_stdoutExporter(t *testing.T) {
	cfg := config.TracingConfig{
		Enabled:      true,
		Exporter:     "stdout",
		SamplingRate: 1.0,
	}
	shutdown, err := InitTracing(context.Background(), cfg, "studio", "test")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	defer shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "test-span", AttrSessionID.String("s-1"))
	if TraceIDFromContext(ctx) == "" {
		t.Error("no trace id inside started span")
	}
	span.End()
}

func TestInitTracing_unknownExporter(t *testing.T) {
	cfg := config.TracingConfig{Enabled: true, Exporter: "carrier-pigeon"}
	if _, err := InitTracing(context.Background(), cfg, "studio", "test"); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestTraceIDFromContext_noSpan(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("trace id = %q, want empty", got)
	}
}

func TestTracingMiddleware_passesThrough(t *testing.T) {
	called := false
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ui/agents", nil))

	if !called {
		t.Fatal("handler not invoked")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}
