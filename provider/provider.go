package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/mohammad-safakhou/wayfarer/config"
	"github.com/mohammad-safakhou/wayfarer/internal/schema"
	gemini_provider "github.com/mohammad-safakhou/wayfarer/provider/gemini"
	openai_provider "github.com/mohammad-safakhou/wayfarer/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
	Gemini Client = "gemini"
)

// Backend returns raw JSON text for an instruction/input pair constrained by a schema.
type Backend interface {
	Complete(ctx context.Context, instruction, input string, desc *schema.Descriptor) (string, error)
}

// Generator produces a value conforming to desc and decodes it into out.
// Every failure is a *GenerationError.
type Generator interface {
	Generate(ctx context.Context, instruction, input string, desc *schema.Descriptor, out interface{}) error
}

// GenerationError reports a failed structured generation call: transport,
// provider refusal, malformed JSON or schema mismatch.
type GenerationError struct {
	Provider string
	Schema   string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s/%s): %v", e.Provider, e.Schema, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

type generator struct {
	name    Client
	backend Backend
	logger  *log.Logger
}

// NewGenerator wraps a backend with schema validation and error typing.
func NewGenerator(name Client, backend Backend, logger *log.Logger) Generator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &generator{name: name, backend: backend, logger: logger}
}

func (g *generator) Generate(ctx context.Context, instruction, input string, desc *schema.Descriptor, out interface{}) error {
	if desc == nil {
		return &GenerationError{Provider: string(g.name), Schema: "-", Err: errors.New("schema descriptor is nil")}
	}
	fail := func(err error) error {
		return &GenerationError{Provider: string(g.name), Schema: desc.Name, Err: err}
	}
	raw, err := g.backend.Complete(ctx, instruction, input, desc)
	if err != nil {
		return fail(err)
	}
	raw = stripFences(raw)
	if raw == "" {
		return fail(errors.New("empty response"))
	}
	if err := desc.Decode([]byte(raw), out); err != nil {
		g.logger.Printf("schema rejection for %s: %v", desc.Name, err)
		return fail(err)
	}
	return nil
}

// stripFences removes a surrounding ```json fence some models add despite JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(ctx context.Context, cfg config.LLMConfig, logger *log.Logger) (Generator, error) {
	key := cfg.APIKey()
	switch Client(cfg.Provider) {
	case OpenAI:
		if key == "" {
			return nil, errors.New("OPENAI_API_KEY not set")
		}
		backend := openai_provider.NewOpenAIClient(key, cfg.Model, cfg.BaseURL, cfg.Temperature, cfg.MaxTokens, cfg.Timeout)
		return NewGenerator(OpenAI, backend, logger), nil
	case Gemini:
		if key == "" {
			return nil, errors.New("GOOGLE_API_KEY not set")
		}
		backend, err := gemini_provider.NewGeminiClient(ctx, key, cfg.Model, cfg.Temperature, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		return NewGenerator(Gemini, backend, logger), nil
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
