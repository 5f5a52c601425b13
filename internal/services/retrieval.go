package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/myaview/backend/internal/data/graph"
	"github.com/myaview/backend/internal/domain/profile"
	"github.com/myaview/backend/internal/platform/apierr"
	"github.com/myaview/backend/internal/platform/logger"
)

// oversample gives post-filtering headroom: vector search returns a multiple
// of top_k before person-scope and privacy filtering narrow the set.
const oversample = 3

// wideOversample is the retry multiple when the scoped result comes back
// short. The vector index takes the global top-k before the person scope
// applies, so in an index shared by a family one member's events can be
// crowded out of the first oversampled window entirely.
const wideOversample = 30

const defaultAppointmentWindow = 6 * 30 * 24 * time.Hour

type RetrievalService interface {
	// Retrieve embeds the query, runs person-scoped cosine search over
	// embedded LabEvents, expands each candidate through the graph, and
	// returns at most topK items sorted by similarity (ties: newer event
	// wins). Zero embedded events is an empty result, not an error.
	Retrieve(ctx context.Context, query string, personID uuid.UUID, topK int, recencyWindow time.Duration) ([]profile.ContextItem, error)

	// SimilarEvents finds the person's LabEvents nearest to an existing
	// event's stored embedding.
	SimilarEvents(ctx context.Context, personID, eventID uuid.UUID, topK int) ([]profile.ContextItem, error)
}

type retrievalService struct {
	log      *logger.Logger
	embedder EmbeddingService
	graph    graph.Querier
	maxTopK  int
}

func NewRetrievalService(log *logger.Logger, embedder EmbeddingService, g graph.Querier, maxTopK int) RetrievalService {
	if maxTopK <= 0 {
		maxTopK = 10
	}
	return &retrievalService{
		log:      log.With("service", "RetrievalService"),
		embedder: embedder,
		graph:    g,
		maxTopK:  maxTopK,
	}
}

func (s *retrievalService) Retrieve(ctx context.Context, query string, personID uuid.UUID, topK int, recencyWindow time.Duration) ([]profile.ContextItem, error) {
	if personID == uuid.Nil {
		return nil, apierr.Validation("missing person id")
	}
	if topK < 1 {
		return nil, apierr.Validation("top_k must be >= 1")
	}
	// Callers asking for more than the cap get the capped result, not an
	// error: the cap bounds worst-case latency and prompt size.
	if topK > s.maxTopK {
		topK = s.maxTopK
	}

	// A degraded embedding would silently skew which clinical facts come
	// back, so embedding failure fails the whole retrieval.
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, apierr.RetrievalUnavailable(fmt.Errorf("embed query: %w", err))
	}

	candidates, err := s.nearestScoped(ctx, vector, personID, topK)
	if err != nil {
		return nil, err
	}
	return s.expandAndRank(ctx, personID, candidates, topK, recencyWindow)
}

// nearestScoped runs the oversampled vector search and widens the window
// once if scoping left fewer than want hits.
func (s *retrievalService) nearestScoped(ctx context.Context, vector []float32, personID uuid.UUID, want int) ([]graph.Candidate, error) {
	candidates, err := s.graph.Nearest(ctx, vector, personID, want*oversample)
	if err != nil {
		return nil, apierr.RetrievalUnavailable(fmt.Errorf("vector search: %w", err))
	}
	if len(candidates) >= want {
		return candidates, nil
	}
	wide, err := s.graph.Nearest(ctx, vector, personID, want*wideOversample)
	if err != nil {
		return nil, apierr.RetrievalUnavailable(fmt.Errorf("vector search: %w", err))
	}
	if len(wide) > len(candidates) {
		return wide, nil
	}
	return candidates, nil
}

func (s *retrievalService) SimilarEvents(ctx context.Context, personID, eventID uuid.UUID, topK int) ([]profile.ContextItem, error) {
	if personID == uuid.Nil || eventID == uuid.Nil {
		return nil, apierr.Validation("missing person or event id")
	}
	if topK < 1 {
		return nil, apierr.Validation("top_k must be >= 1")
	}
	if topK > s.maxTopK {
		topK = s.maxTopK
	}

	vector, err := s.graph.EventEmbedding(ctx, personID, eventID)
	if err != nil {
		return nil, apierr.RetrievalUnavailable(fmt.Errorf("event embedding: %w", err))
	}
	if len(vector) == 0 {
		return nil, apierr.NotFound("event has no embedding")
	}

	// +1 because the seed event matches itself with similarity 1.
	candidates, err := s.nearestScoped(ctx, vector, personID, topK+1)
	if err != nil {
		return nil, err
	}
	filtered := candidates[:0]
	for _, c := range candidates {
		if c.EventID != eventID {
			filtered = append(filtered, c)
		}
	}
	return s.expandAndRank(ctx, personID, filtered, topK, defaultAppointmentWindow)
}

func (s *retrievalService) expandAndRank(ctx context.Context, personID uuid.UUID, candidates []graph.Candidate, topK int, recencyWindow time.Duration) ([]profile.ContextItem, error) {
	if len(candidates) == 0 {
		return []profile.ContextItem{}, nil
	}
	if recencyWindow <= 0 {
		recencyWindow = defaultAppointmentWindow
	}

	eventIDs := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		eventIDs = append(eventIDs, c.EventID)
	}
	expansions, err := s.graph.ExpandEvents(ctx, personID, eventIDs, recencyWindow)
	if err != nil {
		return nil, apierr.RetrievalUnavailable(fmt.Errorf("graph expansion: %w", err))
	}

	items := make([]profile.ContextItem, 0, len(candidates))
	for _, c := range candidates {
		exp := expansions[c.EventID]
		items = append(items, profile.ContextItem{
			EventID:         c.EventID,
			PersonID:        personID,
			Summary:         c.Summary,
			EventDate:       c.EventDate,
			Score:           c.Score,
			Privacy:         c.Privacy,
			PrivacyCategory: c.Category,
			Conditions:      exp.Conditions,
			Medications:     exp.Medications,
			LabResults:      exp.LabResults,
			Appointments:    exp.Appointments,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].EventDate.After(items[j].EventDate)
	})

	if len(items) > topK {
		items = items[:topK]
	}
	return items, nil
}
