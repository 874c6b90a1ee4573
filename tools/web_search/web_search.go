package web_search

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/wayfarer/tools/web_search/brave"
	"github.com/mohammad-safakhou/wayfarer/tools/web_search/models"
	"github.com/mohammad-safakhou/wayfarer/tools/web_search/serper"
	"github.com/mohammad-safakhou/wayfarer/tools/web_search/tavily"
)

type WebSearcher interface {
	Search(ctx context.Context, req models.Request) (models.Response, error)
}

type Provider string

const (
	TavilyProvider Provider = "tavily"
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

func NewWebSearcher(provider Provider, apiKey string, timeout time.Duration) (WebSearcher, error) {
	client := &http.Client{Timeout: timeout}
	switch provider {
	case TavilyProvider, "":
		return tavily.Search{ApiKey: apiKey, Client: client}, nil
	case SerperProvider:
		return serper.Search{ApiKey: apiKey, Client: client}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey, Client: client}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
