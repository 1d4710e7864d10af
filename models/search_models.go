package models

// SearchRequest represents a semantic search over the corpus
type SearchRequest struct {
	Query string `json:"query" validate:"notblank"`
	Limit int    `json:"limit,omitempty" validate:"omitempty,min=1,max=20"`
}

// SearchResult represents one matching corpus chunk
type SearchResult struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// SearchResponse represents the full search response
type SearchResponse struct {
	BaseResponse
	Query    string         `json:"query"`
	Results  []SearchResult `json:"results"`
	Count    int            `json:"count"`
	Duration string         `json:"duration"`
}
