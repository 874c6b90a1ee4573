// Package web_fetch: plain HTTP fetch + readability extraction.
package web_fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

type Result struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Byline string `json:"byline"`
	Text   string `json:"text"`
	Status int    `json:"status"`
}

// Fetcher downloads a page and extracts its main readable text.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
	MaxChars  int
}

// NewFetcher clamps defaults; userAgent is optional.
func NewFetcher(timeout time.Duration, maxChars int, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 12000
	}
	return &Fetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		MaxBytes:  4 << 20,
		MaxChars:  maxChars,
	}
}

// Exec fetches link and returns the readable text. Non-2xx responses and
// network failures are errors; pages readability cannot parse yield empty text.
func (f *Fetcher) Exec(ctx context.Context, link string) (Result, error) {
	if strings.TrimSpace(link) == "" {
		return Result{}, errors.New("invalid url")
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{}, fmt.Errorf("invalid url %q", link)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return Result{}, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{URL: link, Status: resp.StatusCode}, fmt.Errorf("fetch %s: status %d", link, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes))
	if err != nil {
		return Result{}, err
	}

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return Result{URL: link, Status: resp.StatusCode}, nil
	}
	text := strings.Join(strings.Fields(article.TextContent), " ")
	if r := []rune(text); len(r) > f.MaxChars {
		text = string(r[:f.MaxChars])
	}
	return Result{
		URL:    link,
		Title:  strings.TrimSpace(article.Title),
		Byline: strings.TrimSpace(article.Byline),
		Text:   text,
		Status: resp.StatusCode,
	}, nil
}

// Readable returns only the extracted text of link.
func (f *Fetcher) Readable(ctx context.Context, link string) (string, error) {
	res, err := f.Exec(ctx, link)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
