package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

const (
	defaultSearchURL = "https://api.tavily.com/search"
	searchDepth      = "basic"
	maxSearchResults = 5

	searchNotConfigured = "Web search is not configured. Set TAVILY_API_KEY to enable it."
	searchNoResults     = "No results found."
)

// SearchTool queries the Tavily web search API and renders the ranked results
// as text for the model.
type SearchTool struct {
	apiKey    string
	baseURL   string
	client    *http.Client
	sanitizer *bluemonday.Policy
}

// SearchInput is the argument payload the model supplies for a search call.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query to run against the web."`
}

type searchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type searchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type SearchOption func(*SearchTool)

// WithSearchURL overrides the provider endpoint.
func WithSearchURL(u string) SearchOption {
	return func(s *SearchTool) { s.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) SearchOption {
	return func(s *SearchTool) { s.client = c }
}

func NewSearchTool(apiKey string, opts ...SearchOption) *SearchTool {
	s := &SearchTool{
		apiKey:    apiKey,
		baseURL:   defaultSearchURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		sanitizer: bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SearchTool) Name() string { return "web_search" }

func (s *SearchTool) Description() string {
	return "Search the web for current information. Returns a ranked list of results with title, URL and an excerpt."
}

func (s *SearchTool) Schema() map[string]any { return GenerateSchema[SearchInput]() }

// Invoke performs the search. Provider-side problems never become errors;
// they surface as descriptive content so the loop keeps going.
func (s *SearchTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var input SearchInput
	if err := json.Unmarshal(args, &input); err != nil {
		return fmt.Sprintf("Error: invalid search arguments: %v", err), nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return "Error: search requires a non-empty query.", nil
	}
	if s.apiKey == "" {
		return searchNotConfigured, nil
	}

	body, err := json.Marshal(searchRequest{
		Query:       input.Query,
		SearchDepth: searchDepth,
		MaxResults:  maxSearchResults,
	})
	if err != nil {
		return fmt.Sprintf("Error: building search request: %v", err), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Sprintf("Error: building search request: %v", err), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: search request failed: %v", err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Error: reading search response: %v", err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: search request failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody))), nil
	}

	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Sprintf("Error: parsing search response: %v", err), nil
	}
	if len(parsed.Results) == 0 {
		return searchNoResults, nil
	}
	return s.render(parsed.Results), nil
}

// render keeps the provider's relevance order. Titles and excerpts are
// untrusted web content headed back to the model, so markup is stripped.
func (s *SearchTool) render(results []searchResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Result %d:\n", i+1)
		fmt.Fprintf(&b, "Title: %s\n", s.clean(r.Title))
		fmt.Fprintf(&b, "URL: %s\n", r.URL)
		fmt.Fprintf(&b, "Content: %s\n", s.clean(r.Content))
	}
	return b.String()
}

func (s *SearchTool) clean(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(text)))
}
