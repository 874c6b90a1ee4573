package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mohammad-safakhou/wayfarer/tools/web_search/models"
)

const defaultEndpoint = "https://api.tavily.com/search"

type Search struct {
	ApiKey   string
	Endpoint string
	Client   *http.Client
}

type request struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
}

func (s Search) Search(ctx context.Context, r models.Request) (models.Response, error) {
	// https://docs.tavily.com/documentation/api-reference/endpoint/search
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	body, err := json.Marshal(request{Query: r.Query, SearchDepth: r.Depth, MaxResults: r.MaxResults, IncludeAnswer: r.IncludeAnswer})
	if err != nil {
		return models.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.ApiKey)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Response{}, fmt.Errorf("tavily returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var raw struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Response{}, err
	}
	out := models.Response{Answer: raw.Answer}
	for _, res := range raw.Results {
		out.Results = append(out.Results, models.Result{Title: res.Title, URL: res.URL, Content: res.Content})
	}
	return out, nil
}
