package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResponse = `{
  "Heading": "Go",
  "AbstractText": "Go is a programming language.",
  "AbstractURL": "https://en.wikipedia.org/wiki/Go_(programming_language)",
  "Results": [
    {"FirstURL": "https://go.dev", "Text": "Official site - The Go Programming Language"}
  ],
  "RelatedTopics": [
    {"FirstURL": "https://duckduckgo.com/Gopher", "Text": "Gopher - The mascot"},
    {"Name": "Tools", "Topics": [
      {"FirstURL": "/Gofmt", "Text": "Gofmt - Formatter"},
      {"FirstURL": "https://go.dev", "Text": "duplicate"}
    ]}
  ]
}`

func TestDuckDuckGo_Search(t *testing.T) {
	var gotQuery, gotFormat, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	d := NewDuckDuckGo("test-agent")
	d.BaseURL = srv.URL + "/"

	t.Run("collects abstract, results and flattened topics", func(t *testing.T) {
		results, err := d.Search(context.Background(), "golang", 10)
		require.NoError(t, err)

		assert.Equal(t, "golang", gotQuery)
		assert.Equal(t, "json", gotFormat)
		assert.Equal(t, "test-agent", gotAgent)

		require.Len(t, results, 4)
		assert.Equal(t, Result{Title: "Go", URL: "https://en.wikipedia.org/wiki/Go_(programming_language)", Snippet: "Go is a programming language.", Rank: 1}, results[0])
		assert.Equal(t, "Official site", results[1].Title)
		assert.Equal(t, "https://duckduckgo.com/Gopher", results[2].URL)
		assert.Equal(t, "https://duckduckgo.com/Gofmt", results[3].URL)
		assert.Equal(t, 4, results[3].Rank)
	})

	t.Run("honours the limit", func(t *testing.T) {
		results, err := d.Search(context.Background(), "golang", 2)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})
}

func TestDuckDuckGo_Errors(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		d := &DuckDuckGo{BaseURL: srv.URL + "/"}
		_, err := d.Search(context.Background(), "q", 5)
		assert.ErrorContains(t, err, "unexpected status code: 429")
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		d := &DuckDuckGo{BaseURL: srv.URL + "/"}
		_, err := d.Search(context.Background(), "q", 5)
		assert.ErrorContains(t, err, "error parsing response")
	})
}
