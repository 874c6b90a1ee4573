package models

// Request is one hosted search query.
type Request struct {
	Query         string
	MaxResults    int
	Depth         string // basic, advanced (tavily only)
	IncludeAnswer bool
}

// Response is a provider-neutral search reply. Answer is empty when the
// provider does not synthesize one.
type Response struct {
	Answer  string
	Results []Result
}

type Result struct {
	Title   string
	URL     string
	Content string
}
