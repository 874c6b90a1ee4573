package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/wayfarer/internal/pipeline"
	"github.com/mohammad-safakhou/wayfarer/internal/runtime"
	"github.com/mohammad-safakhou/wayfarer/mcp"
	"github.com/mohammad-safakhou/wayfarer/provider"
	"github.com/mohammad-safakhou/wayfarer/session/session_models"
)

// Service is the pipeline surface the API drives.
type Service interface {
	Start(ctx context.Context, request string) (pipeline.Outcome, error)
	Decide(ctx context.Context, sessionID string, approved bool, decidedBy string) (pipeline.Outcome, error)
	Resume(ctx context.Context, sessionID string) (pipeline.Outcome, error)
	Status(ctx context.Context, sessionID string) (session_models.Checkpoint, error)
	Sessions(ctx context.Context, stages ...session_models.Stage) ([]session_models.Checkpoint, error)
}

// Options configures the HTTP surface.
type Options struct {
	// Secret enables bearer auth; the token subject becomes decided_by.
	Secret  []byte
	Metrics http.Handler
	Logger  *log.Logger
}

type Server struct {
	echo   *echo.Echo
	svc    Service
	auth   bool
	logger *log.Logger
}

func New(svc Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	s := &Server{echo: e, svc: svc, auth: len(opts.Secret) > 0, logger: logger}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	api := e.Group("/api/sessions")
	decide := []echo.MiddlewareFunc{}
	if s.auth {
		api.Use(runtime.EchoAuthMiddleware(opts.Secret))
		decide = append(decide, runtime.RequireScopes(runtime.ScopeDecide))
	}
	api.POST("", s.create)
	api.GET("", s.list)
	api.GET("/:id", s.get)
	api.POST("/:id/decision", s.decision, decide...)
	api.POST("/:id/resume", s.resume, decide...)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Printf("listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

type createRequest struct {
	Request string `json:"request"`
}

type decisionRequest struct {
	Approved  *bool  `json:"approved"`
	DecidedBy string `json:"decided_by"`
}

type errorResponse struct {
	Error     string               `json:"error"`
	SessionID string               `json:"session_id,omitempty"`
	Stage     session_models.Stage `json:"stage,omitempty"`
}

func (s *Server) create(c echo.Context) error {
	var body createRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	out, err := s.svc.Start(c.Request().Context(), body.Request)
	if err != nil {
		return s.fail(c, out, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (s *Server) get(c echo.Context) error {
	cp, err := s.svc.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, pipeline.Outcome{}, err)
	}
	return c.JSON(http.StatusOK, cp)
}

func (s *Server) list(c echo.Context) error {
	var stages []session_models.Stage
	for _, raw := range strings.Split(c.QueryParam("stage"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		st := session_models.Stage(raw)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown stage: "+raw)
		}
		stages = append(stages, st)
	}
	cps, err := s.svc.Sessions(c.Request().Context(), stages...)
	if err != nil {
		return s.fail(c, pipeline.Outcome{}, err)
	}
	if cps == nil {
		cps = []session_models.Checkpoint{}
	}
	return c.JSON(http.StatusOK, cps)
}

func (s *Server) decision(c echo.Context) error {
	var body decisionRequest
	if err := c.Bind(&body); err != nil || body.Approved == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must carry \"approved\": true|false")
	}
	out, err := s.svc.Decide(c.Request().Context(), c.Param("id"), *body.Approved, s.decidedBy(c, body.DecidedBy))
	if err != nil {
		return s.fail(c, out, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) resume(c echo.Context) error {
	out, err := s.svc.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, out, err)
	}
	return c.JSON(http.StatusOK, out)
}

// decidedBy prefers the authenticated subject over anything in the body.
func (s *Server) decidedBy(c echo.Context, fromBody string) string {
	if sub, ok := runtime.SubjectFromContext(c.Request().Context()); ok {
		return sub
	}
	if fromBody = strings.TrimSpace(fromBody); fromBody != "" {
		return fromBody
	}
	return "api"
}

func (s *Server) fail(c echo.Context, out pipeline.Outcome, err error) error {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		return err
	}
	s.logger.Printf("%d %s %s: %v", code, c.Request().Method, c.Request().URL.Path, err)
	return c.JSON(code, errorResponse{Error: err.Error(), SessionID: out.SessionID, Stage: out.Stage})
}

// StatusFor maps pipeline errors to HTTP status codes.
func StatusFor(err error) int {
	var (
		notFound  *pipeline.SessionNotFoundError
		invalid   *pipeline.InvalidStateError
		genErr    *provider.GenerationError
		toolErr   *mcp.ToolExecutionError
		transport *mcp.TransportError
	)
	switch {
	case errors.Is(err, pipeline.ErrEmptyRequest):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusConflict
	case errors.As(err, &genErr), errors.As(err, &toolErr), errors.As(err, &transport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
