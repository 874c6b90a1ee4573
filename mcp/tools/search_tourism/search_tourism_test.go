package search_tourism

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/wayfarer/tools/web_search/models"
)

type fakeSearcher struct {
	mu       sync.Mutex
	seen     []models.Request
	fail     map[string]error
	response func(q string) models.Response
}

func (f *fakeSearcher) Search(_ context.Context, req models.Request) (models.Response, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	if err := f.fail[req.Query]; err != nil {
		return models.Response{}, err
	}
	if f.response != nil {
		return f.response(req.Query), nil
	}
	return models.Response{
		Answer:  "answer for " + req.Query,
		Results: []models.Result{{Title: "T " + req.Query, URL: "https://example.com/" + req.Query, Content: "c"}},
	}, nil
}

func (f *fakeSearcher) queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.seen))
	for i, r := range f.seen {
		out[i] = r.Query
	}
	return out
}

func TestRunFormatsSection(t *testing.T) {
	h := New(Config{APIKey: "k"}, &fakeSearcher{}, nil)
	got := h.Run(context.Background(), []string{"lapa"})
	want := "### Results for: 'lapa'\n" +
		"**AI Summary**: answer for lapa\n\n" +
		"- **Title**: T lapa\n  **Link**: https://example.com/lapa\n  **Content**: c\n\n"
	if got != want {
		t.Fatalf("unexpected output:\n%q\nwant:\n%q", got, want)
	}
}

func TestRunRequestParameters(t *testing.T) {
	fs := &fakeSearcher{}
	New(Config{APIKey: "k"}, fs, nil).Run(context.Background(), []string{"a"})
	req := fs.seen[0]
	if req.MaxResults != 2 || req.Depth != "basic" || !req.IncludeAnswer {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestRunCapsBatchAndNotesSkipped(t *testing.T) {
	fs := &fakeSearcher{}
	h := New(Config{APIKey: "k", Concurrency: 3}, fs, nil)
	got := h.Run(context.Background(), []string{"q1", "q2", "q3", "q4", "q5"})

	if n := len(fs.queries()); n != MaxQueriesPerBatch {
		t.Fatalf("expected %d searches, got %d", MaxQueriesPerBatch, n)
	}
	if strings.Contains(got, "'q4'") || strings.Contains(got, "'q5'") {
		t.Fatalf("dropped queries must not be searched: %s", got)
	}
	if !strings.HasSuffix(got, "\n\n*Note: 2 queries were skipped to conserve resources.*") {
		t.Fatalf("missing skipped note: %q", got)
	}
	i1, i2, i3 := strings.Index(got, "'q1'"), strings.Index(got, "'q2'"), strings.Index(got, "'q3'")
	if !(i1 >= 0 && i1 < i2 && i2 < i3) {
		t.Fatalf("sections out of input order: %s", got)
	}
}

func TestRunNoNoteAtCap(t *testing.T) {
	got := New(Config{APIKey: "k"}, &fakeSearcher{}, nil).Run(context.Background(), []string{"a", "b", "c"})
	if strings.Contains(got, "*Note:") {
		t.Fatalf("unexpected note: %s", got)
	}
}

func TestRunIsolatesQueryFailure(t *testing.T) {
	fs := &fakeSearcher{fail: map[string]error{"bad": errors.New("upstream 502")}}
	got := New(Config{APIKey: "k"}, fs, nil).Run(context.Background(), []string{"good1", "bad", "good2"})

	if !strings.Contains(got, "Error searching 'bad': upstream 502") {
		t.Fatalf("missing inline error: %s", got)
	}
	for _, q := range []string{"good1", "good2"} {
		if !strings.Contains(got, "### Results for: '"+q+"'\n**AI Summary**: answer for "+q) {
			t.Fatalf("missing section for %s: %s", q, got)
		}
	}
	if strings.Contains(got, "### Results for: 'bad'") {
		t.Fatalf("failed query must not render a results header")
	}
}

func TestRunTruncation(t *testing.T) {
	exact := strings.Repeat("x", MaxCharsPerResult)
	long := strings.Repeat("y", MaxCharsPerResult+50)
	fs := &fakeSearcher{response: func(q string) models.Response {
		return models.Response{Results: []models.Result{
			{Title: "exact", URL: "u1", Content: exact},
			{Title: "long", URL: "u2", Content: long},
		}}
	}}
	got := New(Config{APIKey: "k"}, fs, nil).Run(context.Background(), []string{"q"})

	if !strings.Contains(got, "**Content**: "+exact+"\n") {
		t.Fatalf("content at the limit must pass through unchanged")
	}
	if !strings.Contains(got, "**Content**: "+strings.Repeat("y", MaxCharsPerResult)+"...\n") {
		t.Fatalf("long content must be cut to exactly %d characters plus marker", MaxCharsPerResult)
	}
	if strings.Contains(got, "**AI Summary**") {
		t.Fatalf("summary line must be omitted when there is no answer")
	}
}

func TestRunDefaultsForMissingFields(t *testing.T) {
	fs := &fakeSearcher{response: func(string) models.Response {
		return models.Response{Results: []models.Result{{}}}
	}}
	got := New(Config{APIKey: "k"}, fs, nil).Run(context.Background(), []string{"q"})
	if !strings.Contains(got, "- **Title**: N/A\n  **Link**: #\n  **Content**: \n\n") {
		t.Fatalf("unexpected defaults: %q", got)
	}
}

func TestRunMissingKey(t *testing.T) {
	fs := &fakeSearcher{}
	got := New(Config{}, fs, nil).Run(context.Background(), []string{"a"})
	if got != MissingKeyMessage {
		t.Fatalf("unexpected output %q", got)
	}
	if len(fs.queries()) != 0 {
		t.Fatalf("search must not run without a key")
	}
}

func TestRunEmptyInput(t *testing.T) {
	if got := New(Config{APIKey: "k"}, &fakeSearcher{}, nil).Run(context.Background(), nil); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

type fakeReader struct{ text string }

func (f fakeReader) Readable(context.Context, string) (string, error) { return f.text, nil }

func TestRunEnrichesEmptyContent(t *testing.T) {
	fs := &fakeSearcher{response: func(string) models.Response {
		return models.Response{Results: []models.Result{{Title: "t", URL: "https://x"}}}
	}}
	h := New(Config{APIKey: "k", EnrichEmptyResults: true}, fs, nil).WithReader(fakeReader{text: "from page"})
	if got := h.Run(context.Background(), []string{"q"}); !strings.Contains(got, "**Content**: from page\n") {
		t.Fatalf("expected enriched content: %q", got)
	}
}

func TestToolHandlerDecodesArguments(t *testing.T) {
	fs := &fakeSearcher{}
	tool := New(Config{APIKey: "k"}, fs, nil).Tool()
	if tool.Name != Name {
		t.Fatalf("unexpected tool name %s", tool.Name)
	}
	res, err := tool.Handler(context.Background(), json.RawMessage(`{"queries":["a","b"]}`))
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if res.IsError || !strings.Contains(res.Text(), "'b'") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := tool.Handler(context.Background(), json.RawMessage(`{"queries":"a"}`)); err == nil {
		t.Fatalf("expected argument decode error")
	}
}
