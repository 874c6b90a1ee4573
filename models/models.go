package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOutOfOrder is returned when a pipeline field is set before its predecessor.
	ErrOutOfOrder = errors.New("pipeline field set out of order")
	// ErrAlreadySet is returned when a pipeline field would be overwritten.
	ErrAlreadySet = errors.New("pipeline field already set")
)

// SearchStrategy is the planner's output: why and what to search.
type SearchStrategy struct {
	Reasoning string   `json:"reasoning"`
	Queries   []string `json:"queries"`
}

// Validate checks the invariants the schema cannot express on its own.
func (s SearchStrategy) Validate() error {
	if strings.TrimSpace(s.Reasoning) == "" {
		return errors.New("strategy reasoning is empty")
	}
	if len(s.Queries) == 0 {
		return errors.New("strategy has no queries")
	}
	for i, q := range s.Queries {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("strategy query %d is empty", i)
		}
	}
	return nil
}

// TripItinerary is the terminal artifact of a session.
type TripItinerary struct {
	Destination  string    `json:"destination" yaml:"destination"`
	Overview     string    `json:"overview" yaml:"overview"`
	DurationDays int       `json:"duration_days,omitempty" yaml:"duration_days,omitempty"`
	Days         []DayPlan `json:"days,omitempty" yaml:"days,omitempty"`
	Logistics    []string  `json:"logistics,omitempty" yaml:"logistics,omitempty"`
	Sources      []string  `json:"sources,omitempty" yaml:"sources,omitempty"`
}

type DayPlan struct {
	Day        int        `json:"day" yaml:"day"`
	Theme      string     `json:"theme" yaml:"theme"`
	Activities []Activity `json:"activities" yaml:"activities"`
}

type Activity struct {
	TimeOfDay   string `json:"time_of_day" yaml:"time_of_day"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Location    string `json:"location,omitempty" yaml:"location,omitempty"`
}

// PipelineState accumulates stage outputs. Fields are only ever set through
// the setters below, which enforce request -> strategy -> results -> itinerary.
type PipelineState struct {
	UserRequest    string          `json:"user_request"`
	SearchStrategy *SearchStrategy `json:"search_strategy,omitempty"`
	SearchResults  *string         `json:"search_results,omitempty"`
	FinalItinerary *TripItinerary  `json:"final_itinerary,omitempty"`
}

// NewPipelineState seeds a state with only the request set.
func NewPipelineState(request string) PipelineState {
	return PipelineState{UserRequest: request}
}

func (s *PipelineState) SetSearchStrategy(strategy SearchStrategy) error {
	if s.UserRequest == "" {
		return ErrOutOfOrder
	}
	if s.SearchStrategy != nil {
		return ErrAlreadySet
	}
	cp := strategy
	cp.Queries = append([]string(nil), strategy.Queries...)
	s.SearchStrategy = &cp
	return nil
}

func (s *PipelineState) SetSearchResults(results string) error {
	if s.SearchStrategy == nil {
		return ErrOutOfOrder
	}
	if s.SearchResults != nil {
		return ErrAlreadySet
	}
	s.SearchResults = &results
	return nil
}

func (s *PipelineState) SetFinalItinerary(it TripItinerary) error {
	if s.SearchResults == nil {
		return ErrOutOfOrder
	}
	if s.FinalItinerary != nil {
		return ErrAlreadySet
	}
	s.FinalItinerary = &it
	return nil
}

// Results returns the search results or "" when unset.
func (s PipelineState) Results() string {
	if s.SearchResults == nil {
		return ""
	}
	return *s.SearchResults
}
