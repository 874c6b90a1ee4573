package gemini_provider

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/wayfarer/internal/schema"
	"google.golang.org/genai"
)

// client implements structured completions on the Gemini API.
type client struct {
	models      *genai.Models
	model       string
	temperature float32
	maxTokens   int32
}

// NewGeminiClient creates a Gemini client bound to the public Gemini API backend.
func NewGeminiClient(ctx context.Context, apiKey, model string, temperature float64, maxTokens int) (*client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &client{
		models:      c.Models,
		model:       model,
		temperature: float32(temperature),
		maxTokens:   int32(maxTokens),
	}, nil
}

// Complete requests JSON output constrained by desc and returns the response text.
func (c *client) Complete(ctx context.Context, instruction, input string, desc *schema.Descriptor) (string, error) {
	schemaMap, err := desc.Map()
	if err != nil {
		return "", err
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction:  genai.NewContentFromText(instruction, genai.RoleUser),
		Temperature:        genai.Ptr(c.temperature),
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: schemaMap,
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	resp, err := c.models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(input, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	return resp.Text(), nil
}
