package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/myaview/backend/internal/platform/logger"
	"github.com/myaview/backend/internal/platform/ollama"
	"github.com/myaview/backend/internal/platform/rediscache"
)

// EmbeddingService wraps the embedding model. It owns dimensional
// consistency: after Probe, every vector it returns has the probed length,
// and a model that starts returning a different length is surfaced as an
// error rather than passed downstream.
type EmbeddingService interface {
	// Probe embeds a fixed sentinel and records the model's output
	// dimension. Called once at startup.
	Probe(ctx context.Context) (int, error)
	Dimension() int
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type embeddingService struct {
	log   *logger.Logger
	llm   ollama.Client
	cache rediscache.VectorCache

	group singleflight.Group

	mu  sync.RWMutex
	dim int
}

func NewEmbeddingService(log *logger.Logger, llm ollama.Client, cache rediscache.VectorCache) EmbeddingService {
	return &embeddingService{
		log:   log.With("service", "EmbeddingService"),
		llm:   llm,
		cache: cache,
	}
}

func (s *embeddingService) Probe(ctx context.Context) (int, error) {
	vecs, err := s.llm.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, fmt.Errorf("embedding probe: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("embedding probe returned no vector")
	}
	s.mu.Lock()
	s.dim = len(vecs[0])
	s.mu.Unlock()
	s.log.Info("Embedding model probed", "model", s.llm.EmbedModel(), "dimension", len(vecs[0]))
	return len(vecs[0]), nil
}

func (s *embeddingService) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

func (s *embeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty query text")
	}

	key := s.cacheKey(text)
	if s.cache != nil {
		if vec, ok := s.cache.Get(ctx, key); ok && s.dimensionOK(vec) {
			return vec, nil
		}
	}

	// Collapse concurrent identical queries into one upstream call. The
	// call runs detached from the caller's cancellation: followers sharing
	// the flight must not fail because the first caller went away. The
	// embed client's own timeout still bounds it.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key, func() (any, error) {
		vecs, err := s.llm.Embed(flightCtx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 {
			return nil, fmt.Errorf("expected 1 vector, got %d", len(vecs))
		}
		vec := vecs[0]
		if !s.dimensionOK(vec) {
			return nil, fmt.Errorf("embedding dimension %d does not match index dimension %d", len(vec), s.Dimension())
		}
		if s.cache != nil {
			s.cache.Set(flightCtx, key, vec)
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (s *embeddingService) dimensionOK(vec []float32) bool {
	dim := s.Dimension()
	return dim == 0 || len(vec) == dim
}

// cacheKey hashes the exact query text. Only identical queries may share a
// cached vector; embedding models are not case-insensitive.
func (s *embeddingService) cacheKey(text string) string {
	sum := sha1.Sum([]byte(text))
	return "embed:" + s.llm.EmbedModel() + ":" + hex.EncodeToString(sum[:])
}
