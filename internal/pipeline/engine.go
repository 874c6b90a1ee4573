package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/wayfarer/models"
	"github.com/mohammad-safakhou/wayfarer/provider"
	"github.com/mohammad-safakhou/wayfarer/session"
	"github.com/mohammad-safakhou/wayfarer/session/session_models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Planner produces the search strategy for a request.
type Planner interface {
	Plan(ctx context.Context, request string) (models.SearchStrategy, error)
}

// Executor runs the approved queries and returns the raw result text.
type Executor interface {
	Search(ctx context.Context, queries []string) (string, error)
}

// Writer synthesizes the itinerary from the request and the results.
type Writer interface {
	Compose(ctx context.Context, request, results string) (models.TripItinerary, error)
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	StageDuration func(stage session_models.Stage, d time.Duration, err error)
	Transition    func(to session_models.Stage)
}

// Outcome is what an operation leaves behind for the caller to display.
type Outcome struct {
	SessionID string                 `json:"session_id"`
	Stage     session_models.Stage   `json:"stage"`
	Strategy  *models.SearchStrategy `json:"strategy,omitempty"`
	Itinerary *models.TripItinerary  `json:"itinerary,omitempty"`
}

// Engine drives sessions through plan, approval, execute and synthesize.
// It keeps no per-session state: every operation starts from the stored checkpoint.
type Engine struct {
	store    session.Store
	planner  Planner
	executor Executor
	writer   Writer

	logger  *log.Logger
	metrics Metrics
	tracer  trace.Tracer
	newID   func() string
}

// Option configures engine behaviour.
type Option func(*Engine)

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithIDGenerator overrides the session id source (uuid v4 by default).
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// New creates a new Engine instance.
func New(store session.Store, planner Planner, executor Executor, writer Writer, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		planner:  planner,
		executor: executor,
		writer:   writer,
		logger:   log.New(io.Discard, "", 0),
		tracer:   otel.Tracer("wayfarer/pipeline"),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start creates a session, runs Plan and suspends at awaiting_approval.
// When planning fails the session is recorded as failed and its id is still returned.
func (e *Engine) Start(ctx context.Context, request string) (Outcome, error) {
	if strings.TrimSpace(request) == "" {
		return Outcome{}, ErrEmptyRequest
	}
	cp, err := e.store.Create(ctx, session_models.Checkpoint{
		SessionID: e.newID(),
		Stage:     session_models.StagePlanning,
		State:     models.NewPipelineState(request),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create session: %w", err)
	}
	e.logger.Printf("session %s started", cp.SessionID)
	e.transitioned(session_models.StagePlanning)

	var strategy models.SearchStrategy
	err = e.runStage(ctx, cp.SessionID, session_models.StagePlanning, func(ctx context.Context) error {
		var perr error
		strategy, perr = e.planner.Plan(ctx, cp.State.UserRequest)
		if perr == nil {
			if verr := strategy.Validate(); verr != nil {
				perr = &provider.GenerationError{Provider: "planner", Schema: "search_strategy", Err: verr}
			}
		}
		return perr
	})
	if err == nil {
		err = cp.State.SetSearchStrategy(strategy)
	}
	if err != nil {
		return e.fail(ctx, cp, err)
	}

	cp.Stage = session_models.StageAwaitingApproval
	if cp, err = e.save(ctx, cp, "plan"); err != nil {
		return Outcome{SessionID: cp.SessionID}, err
	}
	e.logger.Printf("session %s awaiting approval (%d queries)", cp.SessionID, len(strategy.Queries))
	return outcomeOf(cp), nil
}

// Decide records the approval decision. Rejection is terminal and never runs
// the executor; approval runs Execute and Synthesize to completion.
func (e *Engine) Decide(ctx context.Context, sessionID string, approved bool, decidedBy string) (Outcome, error) {
	cp, err := e.load(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	if cp.Stage != session_models.StageAwaitingApproval {
		return outcomeOf(cp), &InvalidStateError{SessionID: sessionID, Op: "decide", Stage: cp.Stage}
	}
	if !approved {
		cp.Stage = session_models.StageRejected
		cp.DecidedBy = decidedBy
		if cp, err = e.save(ctx, cp, "decide"); err != nil {
			return Outcome{SessionID: sessionID}, err
		}
		e.logger.Printf("session %s rejected by %q", sessionID, decidedBy)
		return outcomeOf(cp), nil
	}
	e.logger.Printf("session %s approved by %q", sessionID, decidedBy)
	return e.execute(ctx, cp, decidedBy, "decide")
}

// Resume continues a session from its checkpoint. At awaiting_approval it acts
// as the approval; at synthesizing it reruns only Synthesize.
func (e *Engine) Resume(ctx context.Context, sessionID string) (Outcome, error) {
	cp, err := e.load(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	switch cp.Stage {
	case session_models.StageAwaitingApproval:
		decidedBy := cp.DecidedBy
		if decidedBy == "" {
			decidedBy = "resume"
		}
		return e.execute(ctx, cp, decidedBy, "resume")
	case session_models.StageSynthesizing:
		// Claim by bumping the revision so concurrent resumes cannot both synthesize.
		if cp, err = e.save(ctx, cp, "resume"); err != nil {
			return Outcome{SessionID: sessionID}, err
		}
		return e.synthesize(ctx, cp)
	default:
		return outcomeOf(cp), &InvalidStateError{SessionID: sessionID, Op: "resume", Stage: cp.Stage}
	}
}

// Status returns the stored checkpoint.
func (e *Engine) Status(ctx context.Context, sessionID string) (session_models.Checkpoint, error) {
	return e.load(ctx, sessionID)
}

// Sessions lists checkpoints, optionally filtered by stage.
func (e *Engine) Sessions(ctx context.Context, stages ...session_models.Stage) ([]session_models.Checkpoint, error) {
	return e.store.List(ctx, stages...)
}

func (e *Engine) execute(ctx context.Context, cp session_models.Checkpoint, decidedBy, op string) (Outcome, error) {
	if cp.State.SearchStrategy == nil {
		return e.fail(ctx, cp, ErrMissingStrategy)
	}
	cp.Stage = session_models.StageExecuting
	cp.DecidedBy = decidedBy
	cp, err := e.save(ctx, cp, op)
	if err != nil {
		return Outcome{SessionID: cp.SessionID}, err
	}
	e.transitioned(session_models.StageExecuting)

	var results string
	err = e.runStage(ctx, cp.SessionID, session_models.StageExecuting, func(ctx context.Context) error {
		var serr error
		results, serr = e.executor.Search(ctx, cp.State.SearchStrategy.Queries)
		return serr
	})
	if err == nil {
		err = cp.State.SetSearchResults(results)
	}
	if err != nil {
		return e.fail(ctx, cp, err)
	}

	cp.Stage = session_models.StageSynthesizing
	if cp, err = e.save(ctx, cp, op); err != nil {
		return Outcome{SessionID: cp.SessionID}, err
	}
	e.transitioned(session_models.StageSynthesizing)
	return e.synthesize(ctx, cp)
}

func (e *Engine) synthesize(ctx context.Context, cp session_models.Checkpoint) (Outcome, error) {
	var it models.TripItinerary
	err := e.runStage(ctx, cp.SessionID, session_models.StageSynthesizing, func(ctx context.Context) error {
		var werr error
		it, werr = e.writer.Compose(ctx, cp.State.UserRequest, cp.State.Results())
		return werr
	})
	if err == nil {
		err = cp.State.SetFinalItinerary(it)
	}
	if err != nil {
		return e.fail(ctx, cp, err)
	}
	cp.Stage = session_models.StageDone
	if cp, err = e.save(ctx, cp, "synthesize"); err != nil {
		return Outcome{SessionID: cp.SessionID}, err
	}
	e.logger.Printf("session %s done: %s", cp.SessionID, it.Destination)
	return outcomeOf(cp), nil
}

func (e *Engine) runStage(ctx context.Context, sessionID string, stage session_models.Stage, fn func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "pipeline."+string(stage),
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if e.metrics.StageDuration != nil {
		e.metrics.StageDuration(stage, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// fail records the terminal failed stage and returns cause unchanged. The
// write is detached from ctx so a cancelled call still leaves a checkpoint.
func (e *Engine) fail(ctx context.Context, cp session_models.Checkpoint, cause error) (Outcome, error) {
	e.logger.Printf("session %s failed in %s: %v", cp.SessionID, cp.Stage, cause)
	cp.Stage = session_models.StageFailed
	cp.Error = cause.Error()
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := e.store.Save(saveCtx, cp); err != nil {
		e.logger.Printf("session %s: could not record failure: %v", cp.SessionID, err)
	} else {
		e.transitioned(session_models.StageFailed)
	}
	return Outcome{SessionID: cp.SessionID, Stage: session_models.StageFailed, Strategy: cp.State.SearchStrategy}, cause
}

func (e *Engine) load(ctx context.Context, sessionID string) (session_models.Checkpoint, error) {
	cp, err := e.store.Load(ctx, sessionID)
	if errors.Is(err, session_models.ErrNotFound) {
		return session_models.Checkpoint{}, &SessionNotFoundError{SessionID: sessionID}
	}
	if err != nil {
		return session_models.Checkpoint{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return cp, nil
}

// save writes cp; losing the revision race means another caller already moved the session.
func (e *Engine) save(ctx context.Context, cp session_models.Checkpoint, op string) (session_models.Checkpoint, error) {
	saved, err := e.store.Save(ctx, cp)
	switch {
	case err == nil:
		if cp.Stage.Terminal() || cp.Stage == session_models.StageAwaitingApproval {
			e.transitioned(cp.Stage)
		}
		return saved, nil
	case errors.Is(err, session_models.ErrConflict):
		current := cp.Stage
		if latest, lerr := e.store.Load(ctx, cp.SessionID); lerr == nil {
			current = latest.Stage
		}
		return cp, &InvalidStateError{SessionID: cp.SessionID, Op: op, Stage: current}
	case errors.Is(err, session_models.ErrNotFound):
		return cp, &SessionNotFoundError{SessionID: cp.SessionID}
	default:
		return cp, fmt.Errorf("save session %s: %w", cp.SessionID, err)
	}
}

func (e *Engine) transitioned(to session_models.Stage) {
	if e.metrics.Transition != nil {
		e.metrics.Transition(to)
	}
}

func outcomeOf(cp session_models.Checkpoint) Outcome {
	return Outcome{
		SessionID: cp.SessionID,
		Stage:     cp.Stage,
		Strategy:  cp.State.SearchStrategy,
		Itinerary: cp.State.FinalItinerary,
	}
}
