package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mohammad-safakhou/wayfarer/internal/helpers"
	"github.com/mohammad-safakhou/wayfarer/tools/web_search/models"
)

const defaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

type Search struct {
	ApiKey   string
	Endpoint string
	Client   *http.Client
}

func (s Search) Search(ctx context.Context, r models.Request) (models.Response, error) {
	// https://api.search.brave.com/app/documentation/web-search
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	q := url.Values{}
	q.Set("q", r.Query)
	if r.MaxResults > 0 {
		q.Set("count", fmt.Sprint(r.MaxResults))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return models.Response{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.ApiKey)

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
		return models.Response{}, fmt.Errorf("brave returned status %d", resp.StatusCode)
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Response{}, err
	}
	var out models.Response
	for i, res := range raw.Web.Results {
		if r.MaxResults > 0 && i >= r.MaxResults {
			break
		}
		out.Results = append(out.Results, models.Result{
			Title:   helpers.PlainText(res.Title),
			URL:     res.URL,
			Content: helpers.PlainText(res.Snippet),
		})
	}
	return out, nil
}
