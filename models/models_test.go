package models

import (
	"errors"
	"testing"
)

func TestPipelineStateOrdering(t *testing.T) {
	st := NewPipelineState("3-day trip")

	if err := st.SetSearchResults("early"); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for results before strategy, got %v", err)
	}
	if err := st.SetFinalItinerary(TripItinerary{Destination: "x"}); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for itinerary before results, got %v", err)
	}
	if err := st.SetSearchStrategy(SearchStrategy{Reasoning: "r", Queries: []string{"q"}}); err != nil {
		t.Fatalf("SetSearchStrategy: %v", err)
	}
	if err := st.SetFinalItinerary(TripItinerary{Destination: "x"}); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for itinerary before results, got %v", err)
	}
	if err := st.SetSearchResults(""); err != nil {
		t.Fatalf("SetSearchResults: %v", err)
	}
	if st.SearchResults == nil {
		t.Fatalf("empty results must still count as set")
	}
	if err := st.SetFinalItinerary(TripItinerary{Destination: "x"}); err != nil {
		t.Fatalf("SetFinalItinerary: %v", err)
	}
}

func TestPipelineStateSetOnce(t *testing.T) {
	st := NewPipelineState("req")
	_ = st.SetSearchStrategy(SearchStrategy{Reasoning: "r", Queries: []string{"a"}})
	if err := st.SetSearchStrategy(SearchStrategy{Reasoning: "other", Queries: []string{"b"}}); !errors.Is(err, ErrAlreadySet) {
		t.Fatalf("expected ErrAlreadySet, got %v", err)
	}
	if st.SearchStrategy.Reasoning != "r" {
		t.Fatalf("strategy was mutated: %+v", st.SearchStrategy)
	}
	_ = st.SetSearchResults("one")
	if err := st.SetSearchResults("two"); !errors.Is(err, ErrAlreadySet) {
		t.Fatalf("expected ErrAlreadySet, got %v", err)
	}
	if st.Results() != "one" {
		t.Fatalf("results were mutated: %q", st.Results())
	}
}

func TestSetSearchStrategyCopiesQueries(t *testing.T) {
	st := NewPipelineState("req")
	queries := []string{"a", "b"}
	_ = st.SetSearchStrategy(SearchStrategy{Reasoning: "r", Queries: queries})
	queries[0] = "mutated"
	if st.SearchStrategy.Queries[0] != "a" {
		t.Fatalf("state aliases caller slice")
	}
}

func TestSearchStrategyValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       SearchStrategy
		wantErr bool
	}{
		{"ok", SearchStrategy{Reasoning: "why", Queries: []string{"a", "a"}}, false},
		{"no reasoning", SearchStrategy{Queries: []string{"a"}}, true},
		{"no queries", SearchStrategy{Reasoning: "why"}, true},
		{"blank query", SearchStrategy{Reasoning: "why", Queries: []string{"a", " "}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.s.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
