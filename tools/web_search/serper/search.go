package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/wayfarer/tools/web_search/models"
	"github.com/mohammad-safakhou/wayfarer/utils"
)

const defaultEndpoint = "https://google.serper.dev/search"

type Search struct {
	ApiKey   string
	Endpoint string
	Client   *http.Client
}

func (s Search) Search(ctx context.Context, r models.Request) (models.Response, error) {
	// https://serper.dev/ docs
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	payload := map[string]any{"q": r.Query}
	if r.MaxResults > 0 {
		payload["num"] = r.MaxResults
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Response{}, err
	}
	req.Header.Set("X-API-KEY", s.ApiKey)
	req.Header.Set("Content-Type", "application/json")

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
		return models.Response{}, fmt.Errorf("serper returned status %d", resp.StatusCode)
	}
	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Response{}, err
	}

	var out models.Response
	if box, ok := raw["answerBox"].(map[string]any); ok {
		out.Answer = utils.Str(box["answer"])
		if out.Answer == "" {
			out.Answer = utils.Str(box["snippet"])
		}
	}
	if items, ok := raw["organic"].([]any); ok {
		for i, it := range items {
			if r.MaxResults > 0 && i >= r.MaxResults {
				break
			}
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			out.Results = append(out.Results, models.Result{
				Title: utils.Str(m["title"]), URL: utils.Str(m["link"]), Content: utils.Str(m["snippet"]),
			})
		}
	}
	return out, nil
}
