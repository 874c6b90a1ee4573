package agent

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/mohammad-safakhou/wayfarer/internal/helpers"
	"github.com/mohammad-safakhou/wayfarer/internal/schema"
	"github.com/mohammad-safakhou/wayfarer/models"
	"github.com/mohammad-safakhou/wayfarer/provider"
)

const writerInstruction = `You are an expert Travel Guide. Synthesize a logical itinerary based STRICTLY on the provided search results. Ensure activities follow a realistic time flow. Do not invent specific details (like prices) if missing from context. List the links you relied on under sources.`

// Writer composes the final itinerary from the request and the search context.
type Writer struct {
	generator provider.Generator
	logger    *log.Logger
}

func NewWriter(generator provider.Generator, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Writer{generator: generator, logger: logger}
}

// Compose returns a TripItinerary grounded on results.
func (w *Writer) Compose(ctx context.Context, request, results string) (models.TripItinerary, error) {
	w.logger.Printf("composing itinerary from %d bytes of search context", len(results))
	var it models.TripItinerary
	if err := w.generator.Generate(ctx, writerInstruction, ComposeInput(request, results), schema.Itinerary, &it); err != nil {
		return models.TripItinerary{}, err
	}
	it.Sources = helpers.DedupeURLs(it.Sources)
	return it, nil
}

// ComposeInput builds the user message handed to the writer model.
func ComposeInput(request, results string) string {
	return fmt.Sprintf("User Request: %s\n\nSearch Context: %s", request, results)
}
