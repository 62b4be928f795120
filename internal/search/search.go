// Package search ranks products and commercial clients by semantic
// similarity using OpenAI embeddings stored in pgvector columns.
package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

// DistanceThreshold is the largest L2 distance considered a match.
const DistanceThreshold = 1.05

// DefaultLimit is the number of matches returned by a lookup.
const DefaultLimit = 5

// ErrEmptyEmbedding is returned when the embedding API returns no vector.
var ErrEmptyEmbedding = errors.New("empty embedding")

// Match is a row id with its distance to the query.
type Match struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder for the given model.
func NewOpenAIEmbedder(apiKey, embeddingModel string) *OpenAIEmbedder {
	if embeddingModel == "" {
		embeddingModel = string(openai.LargeEmbedding3)
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  openai.EmbeddingModel(embeddingModel),
	}
}

// Embed returns the embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}

// Searcher runs similarity queries against pgvector.
type Searcher struct {
	db       *gorm.DB
	embedder Embedder
	logger   *logger.Logger
}

// NewSearcher creates a new searcher.
func NewSearcher(db *gorm.DB, embedder Embedder, log *logger.Logger) *Searcher {
	return &Searcher{db: db, embedder: embedder, logger: log}
}

// SimilarProducts returns up to limit products of the tenant closer than
// DistanceThreshold to text, nearest first.
func (s *Searcher) SimilarProducts(ctx context.Context, tenantID, text string, limit int) ([]Match, error) {
	return s.similar(ctx, "products", tenantID, text, limit)
}

// SimilarClients returns up to limit commercial clients of the tenant closer
// than DistanceThreshold to text, nearest first.
func (s *Searcher) SimilarClients(ctx context.Context, tenantID, text string, limit int) ([]Match, error) {
	return s.similar(ctx, "commercial_clients", tenantID, text, limit)
}

func (s *Searcher) similar(ctx context.Context, table, tenantID, text string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	literal := vectorLiteral(vec)
	var matches []Match
	err = s.db.WithContext(ctx).Raw(fmt.Sprintf(`SELECT id, embedding <-> ?::vector AS distance
		FROM %s
		WHERE tenant_id = ? AND embedding IS NOT NULL AND embedding <-> ?::vector < ?
		ORDER BY distance
		LIMIT ?`, table), literal, tenantID, literal, DistanceThreshold, limit).
		Scan(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("similarity query on %s: %w", table, err)
	}

	s.logger.Debug("similarity search",
		zap.String("table", table),
		zap.String("tenant_id", tenantID),
		zap.String("text", text),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}

// IndexProduct stores the embedding of a product's name, category and
// description.
func (s *Searcher) IndexProduct(ctx context.Context, p *model.Product, categoryName string) error {
	text := strings.Join(nonEmpty(p.Name, categoryName, p.Description), " - ")
	return s.index(ctx, "products", p.ID, text)
}

// IndexClient stores the embedding of a client's name and business name.
func (s *Searcher) IndexClient(ctx context.Context, c *model.CommercialClient) error {
	text := strings.Join(nonEmpty(c.Name, c.RazonSocial, c.Localidad), " - ")
	return s.index(ctx, "commercial_clients", c.ID, text)
}

func (s *Searcher) index(ctx context.Context, table, id, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Exec(fmt.Sprintf("UPDATE %s SET embedding = ?::vector WHERE id = ?", table), vectorLiteral(vec), id).Error
	if err != nil {
		return fmt.Errorf("store embedding on %s: %w", table, err)
	}
	return nil
}

// vectorLiteral renders v in pgvector's text format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
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

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
