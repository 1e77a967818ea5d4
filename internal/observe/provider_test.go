package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	b, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestInitProvider_ExportsTurnMetrics(t *testing.T) {
	ctx := context.Background()
	tel, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordTurn(ctx, OutcomeSpoken)

	body := scrape(t, tel)
	if !strings.Contains(body, "pivoice_turns_total") {
		t.Errorf("turn counter missing from scrape:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("runtime collector missing from scrape")
	}
}

func TestInitProvider_SkipRuntimeMetrics(t *testing.T) {
	tel, err := InitProvider(context.Background(), ProviderConfig{SkipRuntimeMetrics: true})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	if body := scrape(t, tel); strings.Contains(body, "go_goroutines") {
		t.Error("runtime collector registered despite SkipRuntimeMetrics")
	}
}

func TestTelemetry_ShutdownTwice(t *testing.T) {
	tel, err := InitProvider(context.Background(), ProviderConfig{SkipRuntimeMetrics: true})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	// The SDK reports a second shutdown as an error; it must not panic.
	_ = tel.Shutdown(context.Background())
}
