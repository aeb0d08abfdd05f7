package tools_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RichardoC/scout/internal/tools"
	"github.com/stretchr/testify/require"
)

func TestSearchToolRendersRankedResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))

		var req struct {
			Query       string `json:"query"`
			SearchDepth string `json:"search_depth"`
			MaxResults  int    `json:"max_results"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "weather in Paris", req.Query)
		require.Equal(t, "basic", req.SearchDepth)
		require.Equal(t, 5, req.MaxResults)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[
			{"title":"<b>Paris</b> weather","url":"https://example.com/w","content":"18&deg;C and cloudy","score":0.97},
			{"title":"Other","url":"https://example.com/o","content":"stuff","score":0.5}
		]}`)
	}))
	defer srv.Close()

	tool := tools.NewSearchTool("tvly-test", tools.WithSearchURL(srv.URL))
	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"weather in Paris"}`))
	require.NoError(t, err)

	want := "Result 1:\n" +
		"Title: Paris weather\n" +
		"URL: https://example.com/w\n" +
		"Content: 18°C and cloudy\n" +
		"\n" +
		"Result 2:\n" +
		"Title: Other\n" +
		"URL: https://example.com/o\n" +
		"Content: stuff\n"
	require.Equal(t, want, out)
}

func TestSearchToolMissingCredential(t *testing.T) {
	tool := tools.NewSearchTool("")
	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"anything"}`))
	require.NoError(t, err)
	require.Equal(t, "Web search is not configured. Set TAVILY_API_KEY to enable it.", out)
}

func TestSearchToolUpstreamFailureBecomesContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal failure", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tool := tools.NewSearchTool("tvly-test", tools.WithSearchURL(srv.URL))
	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"q"}`))
	require.NoError(t, err)
	require.Equal(t, "Error: search request failed with status 500: internal failure", out)
}

func TestSearchToolTransportFaultBecomesContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	tool := tools.NewSearchTool("tvly-test", tools.WithSearchURL(srv.URL))
	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"q"}`))
	require.NoError(t, err)
	require.Contains(t, out, "Error: search request failed:")
}

func TestSearchToolEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer srv.Close()

	tool := tools.NewSearchTool("tvly-test", tools.WithSearchURL(srv.URL))
	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"q"}`))
	require.NoError(t, err)
	require.Equal(t, "No results found.", out)
}

func TestSearchToolBadArguments(t *testing.T) {
	tool := tools.NewSearchTool("tvly-test")

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":`))
	require.NoError(t, err)
	require.Contains(t, out, "Error: invalid search arguments")

	out, err = tool.Invoke(context.Background(), json.RawMessage(`{"query":"  "}`))
	require.NoError(t, err)
	require.Equal(t, "Error: search requires a non-empty query.", out)
}

func TestSearchToolSchema(t *testing.T) {
	schema := tools.NewSearchTool("").Schema()
	require.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "query")

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	require.Contains(t, required, "query")
}
