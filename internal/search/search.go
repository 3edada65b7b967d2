package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCanvas  ResultType = "canvas"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	CanvasID string     `json:"canvasId"`
	PageURL  string     `json:"pageUrl,omitempty"`
	Resolved bool       `json:"resolved,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterCanvasID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexCanvas(c CanvasRecord) error
	IndexComment(c CommentRecord) error
	DeleteCanvas(id string) error
	DeleteComment(id string) error
}

// CanvasRecord is the data we index for a canvas.
type CanvasRecord struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	CanvasID string `json:"canvasId"`
	PageURL  string `json:"pageUrl"`
	Resolved bool   `json:"resolved"`
}
