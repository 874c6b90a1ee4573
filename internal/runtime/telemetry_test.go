package runtime

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/wayfarer/config"
	"github.com/mohammad-safakhou/wayfarer/session/session_models"
)

func counterFor(t *testing.T, tel *Telemetry, prefix, stage string) float64 {
	t.Helper()
	families, err := tel.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "stage" && lp.GetValue() == stage && m.GetCounter() != nil {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestTelemetryRecordsPipelineMetrics(t *testing.T) {
	tel, err := SetupTelemetry(context.Background(), config.TelemetryConfig{}, TelemetryOptions{ServiceName: "wayfarer-test"})
	if err != nil {
		t.Fatalf("SetupTelemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	m := tel.PipelineMetrics()
	m.Transition(session_models.StageDone)
	m.Transition(session_models.StageDone)
	m.Transition(session_models.StageFailed)
	m.StageDuration(session_models.StageExecuting, 120*time.Millisecond, errors.New("tool crashed"))

	if got := counterFor(t, tel, "wayfarer_stage_transitions", "done"); got != 2 {
		t.Fatalf("done transitions = %v, want 2", got)
	}
	if got := counterFor(t, tel, "wayfarer_stage_errors", "executing"); got != 1 {
		t.Fatalf("executing errors = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "wayfarer_stage_duration") {
		t.Fatalf("duration histogram missing from exposition:\n%s", body)
	}
}

func TestTelemetryShutdownNil(t *testing.T) {
	var tel *Telemetry
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
}
