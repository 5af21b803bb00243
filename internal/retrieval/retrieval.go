// Package retrieval is the document-index collaborator used by retrieval
// nodes: an embedding client plus a pgvector similarity query.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/vk/flowgridgo/internal/ctxlog"
)

// ErrDisabled is returned by the retriever used when no document index is
// configured.
var ErrDisabled = errors.New("retrieval is not configured")

// Document is a matching passage.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// Retriever finds the k passages most similar to query.
type Retriever interface {
	Query(ctx context.Context, query string, k int) ([]Document, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls an embedding sidecar: POST {url}/embedding with
// {"text": ...}, answered by a JSON array of floats.
type HTTPEmbedder struct {
	url    string
	client *http.Client
}

// NewHTTPEmbedder creates a new HTTPEmbedder.
func NewHTTPEmbedder(url string) *HTTPEmbedder {
	return &HTTPEmbedder{url: strings.TrimRight(url, "/"), client: http.DefaultClient}
}

// Embed returns the embedding for a given text.
func (c *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	requestBody, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/embedding", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get embedding: status code %d", resp.StatusCode)
	}

	var embedding []float32
	if err := json.NewDecoder(resp.Body).Decode(&embedding); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return embedding, nil
}

// Querier is the subset of pgx used for the similarity query. *pgxpool.Pool
// and pgx.Tx satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const similarityQuery = `SELECT content, metadata, 1 - (embedding <=> $1::vector) AS score
FROM documents
ORDER BY embedding <=> $1::vector
LIMIT $2`

// PGVector searches a pgvector `documents` table by cosine distance.
type PGVector struct {
	db       Querier
	embedder Embedder
}

// NewPGVector creates a new PGVector retriever.
func NewPGVector(db Querier, embedder Embedder) *PGVector {
	return &PGVector{db: db, embedder: embedder}
}

// Query implements Retriever.
func (p *PGVector) Query(ctx context.Context, query string, k int) ([]Document, error) {
	logger := ctxlog.FromContext(ctx)

	embedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	logger.Debug("Running similarity search.", "dimensions", len(embedding), "k", k)

	rows, err := p.db.Query(ctx, similarityQuery, vectorLiteral(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0, k)
	for rows.Next() {
		var (
			doc      Document
			metadata []byte
		)
		if err := rows.Scan(&doc.Content, &metadata, &doc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Metadata = map[string]any{}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode document metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	return docs, nil
}

// vectorLiteral renders an embedding in pgvector's text form, "[1,2,3]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// Disabled is the retriever used when no index is configured.
type Disabled struct{}

// Query always fails with ErrDisabled.
func (Disabled) Query(context.Context, string, int) ([]Document, error) {
	return nil, ErrDisabled
}
