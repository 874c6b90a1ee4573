package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/wayfarer/models"
	"github.com/mohammad-safakhou/wayfarer/provider"
	"github.com/mohammad-safakhou/wayfarer/session/inmemory"
	"github.com/mohammad-safakhou/wayfarer/session/session_models"
)

type fakePlanner struct {
	strategy models.SearchStrategy
	err      error
	calls    atomic.Int32
}

func (p *fakePlanner) Plan(ctx context.Context, request string) (models.SearchStrategy, error) {
	p.calls.Add(1)
	return p.strategy, p.err
}

type fakeExecutor struct {
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (x *fakeExecutor) Search(ctx context.Context, queries []string) (string, error) {
	x.calls.Add(1)
	if x.gate != nil {
		<-x.gate
	}
	if x.err != nil {
		return "", x.err
	}
	var b strings.Builder
	for _, q := range queries {
		fmt.Fprintf(&b, "### Results for: '%s'\n- **Spot** (https://example.com)\n", q)
	}
	return b.String(), nil
}

type fakeWriter struct {
	err         error
	calls       atomic.Int32
	lastResults string
}

func (w *fakeWriter) Compose(ctx context.Context, request, results string) (models.TripItinerary, error) {
	w.calls.Add(1)
	w.lastResults = results
	if w.err != nil {
		return models.TripItinerary{}, w.err
	}
	return models.TripItinerary{Destination: "Rio de Janeiro", Overview: "Trails by day, samba by night."}, nil
}

var rioStrategy = models.SearchStrategy{
	Reasoning: "Cover hikes, music and where to stay.",
	Queries:   []string{"Rio de Janeiro hiking trail", "live music venue Rio de Janeiro", "neighborhood guide Rio de Janeiro"},
}

type harness struct {
	store    *inmemory.Store
	planner  *fakePlanner
	executor *fakeExecutor
	writer   *fakeWriter
	engine   *Engine
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		store:    inmemory.NewInMemorySessionStore(time.Hour),
		planner:  &fakePlanner{strategy: rioStrategy},
		executor: &fakeExecutor{},
		writer:   &fakeWriter{},
	}
	h.engine = New(h.store, h.planner, h.executor, h.writer, opts...)
	return h
}

func TestEndToEndApproval(t *testing.T) {
	var transitions []session_models.Stage
	h := newHarness(WithMetrics(Metrics{Transition: func(to session_models.Stage) { transitions = append(transitions, to) }}))
	ctx := context.Background()

	out, err := h.engine.Start(ctx, "I want to visit Rio de Janeiro, I like hiking and live music.")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if out.Stage != session_models.StageAwaitingApproval || out.Strategy == nil {
		t.Fatalf("expected suspension with a strategy, got %+v", out)
	}
	if !reflect.DeepEqual(out.Strategy.Queries, rioStrategy.Queries) {
		t.Fatalf("unexpected queries %v", out.Strategy.Queries)
	}
	if h.executor.calls.Load() != 0 {
		t.Fatalf("executor must not run before approval")
	}

	out, err = h.engine.Decide(ctx, out.SessionID, true, "alice")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if out.Stage != session_models.StageDone || out.Itinerary == nil || out.Itinerary.Destination != "Rio de Janeiro" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	for _, q := range rioStrategy.Queries {
		if !strings.Contains(h.writer.lastResults, "### Results for: '"+q+"'") {
			t.Fatalf("writer did not see results for %q", q)
		}
	}

	cp, err := h.engine.Status(ctx, out.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cp.DecidedBy != "alice" || cp.State.SearchResults == nil || cp.State.FinalItinerary == nil {
		t.Fatalf("checkpoint incomplete: %+v", cp)
	}
	want := []session_models.Stage{
		session_models.StagePlanning, session_models.StageAwaitingApproval,
		session_models.StageExecuting, session_models.StageSynthesizing, session_models.StageDone,
	}
	if !reflect.DeepEqual(transitions, want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
}

func TestRejectionNeverExecutes(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	out, err := h.engine.Start(ctx, "Lisbon for a weekend")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	out, err = h.engine.Decide(ctx, out.SessionID, false, "bob")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if out.Stage != session_models.StageRejected {
		t.Fatalf("expected rejected, got %s", out.Stage)
	}
	if h.executor.calls.Load() != 0 || h.writer.calls.Load() != 0 {
		t.Fatalf("rejection must not run execute or synthesize")
	}
	cp, _ := h.engine.Status(ctx, out.SessionID)
	if cp.State.SearchResults != nil || cp.State.FinalItinerary != nil {
		t.Fatalf("rejected session must not carry results: %+v", cp.State)
	}
}

func TestStartRejectsEmptyRequest(t *testing.T) {
	h := newHarness()
	if _, err := h.engine.Start(context.Background(), "  \n"); !errors.Is(err, ErrEmptyRequest) {
		t.Fatalf("expected ErrEmptyRequest, got %v", err)
	}
	if h.planner.calls.Load() != 0 {
		t.Fatalf("planner must not run for an empty request")
	}
}

func TestPlanFailureRecordsFailedSession(t *testing.T) {
	h := newHarness(WithIDGenerator(func() string { return "s-plan" }))
	h.planner.err = errors.New("model unavailable")
	out, err := h.engine.Start(context.Background(), "Kyoto in autumn")
	if err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected planner error, got %v", err)
	}
	if out.SessionID != "s-plan" || out.Stage != session_models.StageFailed {
		t.Fatalf("unexpected outcome %+v", out)
	}
	cp, err := h.engine.Status(context.Background(), "s-plan")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cp.Stage != session_models.StageFailed || !strings.Contains(cp.Error, "model unavailable") {
		t.Fatalf("failure not recorded: %+v", cp)
	}
}

func TestInvalidStrategyFails(t *testing.T) {
	h := newHarness()
	h.planner.strategy = models.SearchStrategy{Reasoning: "none"}
	out, err := h.engine.Start(context.Background(), "Oslo")
	var genErr *provider.GenerationError
	if !errors.As(err, &genErr) || out.Stage != session_models.StageFailed {
		t.Fatalf("expected a generation error for a strategy without queries, got %+v, %v", out, err)
	}
	cp, _ := h.engine.Status(context.Background(), out.SessionID)
	if cp.Stage != session_models.StageFailed || cp.State.SearchStrategy != nil {
		t.Fatalf("invalid strategy must not be stored: %+v", cp)
	}
	if h.executor.calls.Load() != 0 {
		t.Fatalf("executor must not run")
	}
}

func TestSynthesizeFailureIsTerminal(t *testing.T) {
	h := newHarness()
	boom := errors.New("model refused")
	h.writer.err = boom
	ctx := context.Background()
	out, _ := h.engine.Start(ctx, "Rio")
	out, err := h.engine.Decide(ctx, out.SessionID, true, "alice")
	if !errors.Is(err, boom) || out.Stage != session_models.StageFailed {
		t.Fatalf("expected writer error and failed stage, got %+v, %v", out, err)
	}
	cp, err := h.engine.Status(ctx, out.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cp.Stage != session_models.StageFailed || cp.State.SearchResults == nil || cp.State.FinalItinerary != nil || cp.Error == "" {
		t.Fatalf("unexpected checkpoint after synthesize failure: %+v", cp)
	}
	var invalid *InvalidStateError
	if _, err := h.engine.Resume(ctx, out.SessionID); !errors.As(err, &invalid) {
		t.Fatalf("failed sessions are not resumable, got %v", err)
	}
}

func TestDecideWithoutStrategyFails(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if _, err := h.store.Create(ctx, session_models.Checkpoint{
		SessionID: "bare",
		Stage:     session_models.StageAwaitingApproval,
		State:     models.NewPipelineState("Rio"),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	out, err := h.engine.Decide(ctx, "bare", true, "alice")
	if !errors.Is(err, ErrMissingStrategy) || out.Stage != session_models.StageFailed {
		t.Fatalf("expected ErrMissingStrategy, got %+v, %v", out, err)
	}
	if h.executor.calls.Load() != 0 {
		t.Fatalf("executor must not run without a strategy")
	}
	if cp, _ := h.engine.Status(ctx, "bare"); cp.Stage != session_models.StageFailed {
		t.Fatalf("stage = %s, want failed", cp.Stage)
	}
}

func TestExecuteFailureIsTerminal(t *testing.T) {
	h := newHarness()
	h.executor.err = errors.New("tool crashed")
	ctx := context.Background()
	out, _ := h.engine.Start(ctx, "Rio")
	out, err := h.engine.Decide(ctx, out.SessionID, true, "alice")
	if err == nil || out.Stage != session_models.StageFailed {
		t.Fatalf("expected failed stage, got %+v, %v", out, err)
	}
	if h.writer.calls.Load() != 0 {
		t.Fatalf("synthesize must not run after an execute failure")
	}
	var invalid *InvalidStateError
	if _, err := h.engine.Resume(ctx, out.SessionID); !errors.As(err, &invalid) || invalid.Stage != session_models.StageFailed {
		t.Fatalf("failed sessions are not resumable, got %v", err)
	}
}

func TestResumeFromAwaitingApprovalMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()

	direct := newHarness(WithIDGenerator(func() string { return "direct" }))
	out, _ := direct.engine.Start(ctx, "Rio de Janeiro, hiking and live music")
	want, err := direct.engine.Decide(ctx, out.SessionID, true, "resume")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	first := newHarness(WithIDGenerator(func() string { return "resumed" }))
	if _, err := first.engine.Start(ctx, "Rio de Janeiro, hiking and live music"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// A fresh engine over the same store stands in for a restarted process.
	second := New(first.store, first.planner, first.executor, first.writer)
	got, err := second.Resume(ctx, "resumed")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.Stage != want.Stage || !reflect.DeepEqual(got.Itinerary, want.Itinerary) || !reflect.DeepEqual(got.Strategy, want.Strategy) {
		t.Fatalf("resumed run diverged:\n got %+v\nwant %+v", got, want)
	}
	if first.planner.calls.Load() != 1 {
		t.Fatalf("resume must not re-plan")
	}
}

func TestResumeFromSynthesizingRunsOnlySynthesize(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	// A checkpoint at synthesizing, as left by a process that died mid-synthesis.
	cp := session_models.Checkpoint{SessionID: "s-mid", Stage: session_models.StageSynthesizing, State: models.NewPipelineState("Rio")}
	_ = cp.State.SetSearchStrategy(rioStrategy)
	_ = cp.State.SetSearchResults("### Results for: 'x'\n")
	if _, err := h.store.Create(ctx, cp); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := h.engine.Resume(ctx, "s-mid")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.Stage != session_models.StageDone || got.Itinerary == nil {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if h.executor.calls.Load() != 0 {
		t.Fatalf("resume at synthesizing must not re-execute")
	}
	if h.writer.lastResults != "### Results for: 'x'\n" {
		t.Fatalf("writer must see the stored results, got %q", h.writer.lastResults)
	}
}

func TestDoubleApprovalExecutesOnce(t *testing.T) {
	h := newHarness()
	h.executor.gate = make(chan struct{})
	ctx := context.Background()
	out, _ := h.engine.Start(ctx, "Rio")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.Decide(ctx, out.SessionID, true, fmt.Sprintf("user-%d", i))
		}(i)
	}
	// Let whichever call claimed the session through once the other has lost.
	deadline := time.After(2 * time.Second)
	for h.executor.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("no decision reached the executor")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(h.executor.gate)
	wg.Wait()

	var invalid int
	for _, err := range errs {
		var ise *InvalidStateError
		if errors.As(err, &ise) {
			invalid++
		} else if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if invalid != 1 || h.executor.calls.Load() != 1 {
		t.Fatalf("expected one winner and one InvalidStateError, got invalid=%d executions=%d", invalid, h.executor.calls.Load())
	}

	var ise *InvalidStateError
	if _, err := h.engine.Decide(ctx, out.SessionID, true, "late"); !errors.As(err, &ise) || ise.Stage != session_models.StageDone {
		t.Fatalf("deciding a finished session must fail, got %v", err)
	}
}

func TestUnknownSession(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	var nf *SessionNotFoundError
	if _, err := h.engine.Decide(ctx, "missing", true, "x"); !errors.As(err, &nf) || nf.SessionID != "missing" {
		t.Fatalf("expected SessionNotFoundError, got %v", err)
	}
	if _, err := h.engine.Resume(ctx, "missing"); !errors.Is(err, session_models.ErrNotFound) {
		t.Fatalf("SessionNotFoundError must unwrap to ErrNotFound, got %v", err)
	}
	if _, err := h.engine.Status(ctx, "missing"); !errors.As(err, &nf) {
		t.Fatalf("expected SessionNotFoundError from Status, got %v", err)
	}
}

func TestStageDurationsReported(t *testing.T) {
	var mu sync.Mutex
	seen := map[session_models.Stage]int{}
	h := newHarness(WithMetrics(Metrics{StageDuration: func(stage session_models.Stage, d time.Duration, err error) {
		mu.Lock()
		seen[stage]++
		mu.Unlock()
	}}))
	ctx := context.Background()
	out, _ := h.engine.Start(ctx, "Rio")
	if _, err := h.engine.Decide(ctx, out.SessionID, true, "a"); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	for _, s := range []session_models.Stage{session_models.StagePlanning, session_models.StageExecuting, session_models.StageSynthesizing} {
		if seen[s] != 1 {
			t.Fatalf("stage %s observed %d times", s, seen[s])
		}
	}
}

func TestSessionsFilter(t *testing.T) {
	n := 0
	h := newHarness(WithIDGenerator(func() string { n++; return fmt.Sprintf("s%d", n) }))
	ctx := context.Background()
	a, _ := h.engine.Start(ctx, "one")
	_, _ = h.engine.Start(ctx, "two")
	_, _ = h.engine.Decide(ctx, a.SessionID, false, "x")

	waiting, err := h.engine.Sessions(ctx, session_models.StageAwaitingApproval)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(waiting) != 1 || waiting[0].SessionID != "s2" {
		t.Fatalf("unexpected awaiting sessions %+v", waiting)
	}
}
