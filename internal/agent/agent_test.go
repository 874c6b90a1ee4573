package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/wayfarer/internal/schema"
	"github.com/mohammad-safakhou/wayfarer/provider"
)

type recordingGenerator struct {
	reply       string
	err         error
	instruction string
	input       string
	schemaName  string
	invocations int
}

func (g *recordingGenerator) Generate(_ context.Context, instruction, input string, desc *schema.Descriptor, out interface{}) error {
	g.invocations++
	g.instruction = instruction
	g.input = input
	g.schemaName = desc.Name
	if g.err != nil {
		return g.err
	}
	return json.Unmarshal([]byte(g.reply), out)
}

func TestPlannerInjectsDateAndUsesStrategySchema(t *testing.T) {
	gen := &recordingGenerator{reply: `{"reasoning":"culture first","queries":["santa teresa","pedra do sal samba"]}`}
	p := NewPlanner(gen, nil).WithClock(func() time.Time { return time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) })

	strategy, err := p.Plan(context.Background(), "3 days in Rio")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(strategy.Queries) != 2 {
		t.Fatalf("unexpected strategy: %+v", strategy)
	}
	if !strings.Contains(gen.instruction, "Current Date: 2026-03-09") {
		t.Fatalf("date missing from instruction: %s", gen.instruction)
	}
	if gen.input != "3 days in Rio" || gen.schemaName != "search_strategy" {
		t.Fatalf("unexpected call: input=%q schema=%q", gen.input, gen.schemaName)
	}
}

func TestPlannerRejectsBlankQueries(t *testing.T) {
	gen := &recordingGenerator{reply: `{"reasoning":"r","queries":["  "]}`}
	_, err := NewPlanner(gen, nil).Plan(context.Background(), "x")
	var genErr *provider.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
}

func TestWriterBuildsComposeInput(t *testing.T) {
	gen := &recordingGenerator{reply: `{"destination":"Rio","overview":"o"}`}
	it, err := NewWriter(gen, nil).Compose(context.Background(), "3 days in Rio", "### Results for: 'x'")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if it.Destination != "Rio" {
		t.Fatalf("unexpected itinerary: %+v", it)
	}
	want := "User Request: 3 days in Rio\n\nSearch Context: ### Results for: 'x'"
	if gen.input != want {
		t.Fatalf("input = %q, want %q", gen.input, want)
	}
	if gen.schemaName != "trip_itinerary" {
		t.Fatalf("unexpected schema %q", gen.schemaName)
	}
}

func TestWriterDedupesSources(t *testing.T) {
	gen := &recordingGenerator{reply: `{"destination":"Rio","overview":"o","sources":["https://a.example/lapa","https://A.example/lapa?utm_source=x","https://b.example"]}`}
	it, err := NewWriter(gen, nil).Compose(context.Background(), "r", "")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(it.Sources) != 2 || it.Sources[1] != "https://b.example" {
		t.Fatalf("unexpected sources %v", it.Sources)
	}
}

func TestWriterPropagatesGenerationError(t *testing.T) {
	genErr := &provider.GenerationError{Provider: "stub", Schema: "trip_itinerary", Err: errors.New("bad")}
	gen := &recordingGenerator{err: genErr}
	if _, err := NewWriter(gen, nil).Compose(context.Background(), "r", ""); !errors.Is(err, genErr) {
		t.Fatalf("expected generation error, got %v", err)
	}
}
