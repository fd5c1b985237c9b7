package search

// Record is the data we index for a decision.
type Record struct {
	ID          string `json:"id"`
	TeamID      string `json:"teamId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Tags        string `json:"tags"`
}

// Query describes a search request. TeamIDs scopes results to the teams the
// caller belongs to and must never be empty for non-staff users.
type Query struct {
	Text     string
	TeamIDs  []string
	Status   string
	Priority string
	Limit    int
	Offset   int
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	TeamID   string `json:"teamId"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a decision search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push decisions into a search index.
type Indexer interface {
	IndexDecision(r Record) error
	DeleteDecision(id string) error
}
