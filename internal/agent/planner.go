package agent

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mohammad-safakhou/wayfarer/internal/schema"
	"github.com/mohammad-safakhou/wayfarer/models"
	"github.com/mohammad-safakhou/wayfarer/provider"
)

// Planner turns a travel request into a search strategy. It never searches.
type Planner struct {
	generator provider.Generator
	now       func() time.Time
	logger    *log.Logger
}

// NewPlanner creates a new planner instance
func NewPlanner(generator provider.Generator, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Planner{generator: generator, now: time.Now, logger: logger}
}

// WithClock overrides the date injected into the prompt.
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

// Plan asks the model for a SearchStrategy for request.
func (p *Planner) Plan(ctx context.Context, request string) (models.SearchStrategy, error) {
	p.logger.Printf("generating search strategy")
	var strategy models.SearchStrategy
	if err := p.generator.Generate(ctx, p.instruction(), request, schema.Strategy, &strategy); err != nil {
		return models.SearchStrategy{}, err
	}
	if err := strategy.Validate(); err != nil {
		return models.SearchStrategy{}, &provider.GenerationError{Provider: "planner", Schema: schema.Strategy.Name, Err: err}
	}
	p.logger.Printf("strategy ready with %d queries", len(strategy.Queries))
	return strategy, nil
}

func (p *Planner) instruction() string {
	return fmt.Sprintf(`You are a Travel Architect & Logistics Expert. Current Date: %s.

Your goal is to design a targeted information retrieval strategy. Do not generate the itinerary yet. Focus purely on HOW to find the best data.

Guidelines:
1. Use search-engine friendly keywords.
2. Plan queries for attractions, hidden gems, and logistics.
3. Target specific historical eras or sites if requested.
4. Put the most important queries first; only the first few are executed.

Explain in 'reasoning' why these searches are necessary.`, p.now().Format("2006-01-02"))
}
