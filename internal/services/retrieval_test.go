package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/myaview/backend/internal/data/graph"
	"github.com/myaview/backend/internal/domain/profile"
	"github.com/myaview/backend/internal/platform/apierr"
	"github.com/myaview/backend/internal/platform/logger"
)

type fakeEmbedder struct {
	vec []float32
	err error
	dim int
}

func (f *fakeEmbedder) Probe(ctx context.Context) (int, error) { return f.dim, nil }
func (f *fakeEmbedder) Dimension() int                         { return f.dim }
func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

type fakeQuerier struct {
	listPersons  func(ctx context.Context) ([]profile.Person, error)
	getProfile   func(ctx context.Context, personID uuid.UUID, w time.Duration) (*profile.PersonProfile, error)
	indexDim     func(ctx context.Context) (int, error)
	nearest      func(ctx context.Context, vector []float32, personID uuid.UUID, k int) ([]graph.Candidate, error)
	eventEmbed   func(ctx context.Context, personID, eventID uuid.UUID) ([]float32, error)
	expand       func(ctx context.Context, personID uuid.UUID, eventIDs []uuid.UUID, w time.Duration) (map[uuid.UUID]graph.Expansion, error)
	interactions func(ctx context.Context, personID uuid.UUID) ([]profile.MedicationInteraction, error)
}

func (f *fakeQuerier) ListPersons(ctx context.Context) ([]profile.Person, error) {
	if f.listPersons == nil {
		return nil, nil
	}
	return f.listPersons(ctx)
}
func (f *fakeQuerier) GetProfile(ctx context.Context, personID uuid.UUID, w time.Duration) (*profile.PersonProfile, error) {
	if f.getProfile == nil {
		return nil, nil
	}
	return f.getProfile(ctx, personID, w)
}
func (f *fakeQuerier) IndexDimension(ctx context.Context) (int, error) {
	if f.indexDim == nil {
		return 0, nil
	}
	return f.indexDim(ctx)
}
func (f *fakeQuerier) Nearest(ctx context.Context, vector []float32, personID uuid.UUID, k int) ([]graph.Candidate, error) {
	if f.nearest == nil {
		return nil, nil
	}
	return f.nearest(ctx, vector, personID, k)
}
func (f *fakeQuerier) EventEmbedding(ctx context.Context, personID, eventID uuid.UUID) ([]float32, error) {
	if f.eventEmbed == nil {
		return nil, nil
	}
	return f.eventEmbed(ctx, personID, eventID)
}
func (f *fakeQuerier) ExpandEvents(ctx context.Context, personID uuid.UUID, eventIDs []uuid.UUID, w time.Duration) (map[uuid.UUID]graph.Expansion, error) {
	if f.expand == nil {
		return map[uuid.UUID]graph.Expansion{}, nil
	}
	return f.expand(ctx, personID, eventIDs, w)
}
func (f *fakeQuerier) ActiveMedicationInteractions(ctx context.Context, personID uuid.UUID) ([]profile.MedicationInteraction, error) {
	if f.interactions == nil {
		return nil, nil
	}
	return f.interactions(ctx, personID)
}

func candidate(score float64, date time.Time) graph.Candidate {
	return graph.Candidate{EventID: uuid.New(), Summary: "event", Score: score, EventDate: date}
}

func TestRetrieveEmbedFailureIsRetrievalUnavailable(t *testing.T) {
	svc := NewRetrievalService(logger.NewNop(), &fakeEmbedder{err: errors.New("model gone")}, &fakeQuerier{}, 10)
	_, err := svc.Retrieve(context.Background(), "how is my cholesterol", uuid.New(), 3, 0)
	if !errors.Is(err, apierr.ErrRetrievalUnavailable) {
		t.Fatalf("want RetrievalUnavailable, got %v", err)
	}
}

func TestRetrieveValidation(t *testing.T) {
	svc := NewRetrievalService(logger.NewNop(), &fakeEmbedder{vec: []float32{1}}, &fakeQuerier{}, 10)

	if _, err := svc.Retrieve(context.Background(), "q", uuid.Nil, 3, 0); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("nil person: want ValidationError, got %v", err)
	}
	if _, err := svc.Retrieve(context.Background(), "q", uuid.New(), 0, 0); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("top_k=0: want ValidationError, got %v", err)
	}
}

// Asking for more than the cap is capped, not rejected.
func TestRetrieveTopKCapped(t *testing.T) {
	var askedK int
	q := &fakeQuerier{
		nearest: func(ctx context.Context, vector []float32, personID uuid.UUID, k int) ([]graph.Candidate, error) {
			askedK = k
			out := make([]graph.Candidate, 30)
			for i := range out {
				out[i] = candidate(1.0-float64(i)*0.01, time.Now())
			}
			return out, nil
		},
	}
	svc := NewRetrievalService(logger.NewNop(), &fakeEmbedder{vec: []float32{1}}, q, 10)

	items, err := svc.Retrieve(context.Background(), "q", uuid.New(), 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 10 {
		t.Fatalf("items: want=10 got=%d", len(items))
	}
	if askedK != 10*oversample {
		t.Fatalf("oversample: want k=%d got=%d", 10*oversample, askedK)
	}
}

// A graph store that never answers must not stall retrieval: the timeout
// wrapper bounds every query independently of the caller's context, and the
// deadline surfaces as unavailability like any other graph failure.
func TestRetrieveGraphTimeout(t *testing.T) {
	q := &fakeQuerier{
		nearest: func(ctx context.Context, vector []float32, personID uuid.UUID, k int) ([]graph.Candidate, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	svc := NewRetrievalService(logger.NewNop(), &fakeEmbedder{vec: []float32{1}}, graph.WithTimeout(q, 30*time.Millisecond), 10)

	start := time.Now()
	_, err := svc.Retrieve(context.Background(), "q", uuid.New(), 3, 0)
	if !errors.Is(err, apierr.ErrRetrievalUnavailable) {
		t.Fatalf("want RetrievalUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("retrieval blocked for %v", elapsed)
	}
}

// The vector index takes the global top-k before person scoping, so another
// member's events can crowd the requester out of the first window. A short
// scoped result widens the search once.
func TestRetrieveWidensShortScopedResult(t *testing.T) {
	now := time.Now()
	var asked []int
	q := &fakeQuerier{
		nearest: func(ctx context.Context, vector []float32, personID uuid.UUID, k int) ([]graph.Candidate, error) {
			asked = append(asked, k)
			if k < 3*wideOversample {
				return []graph.Candidate{candidate(0.9, now)}, nil
			}
			return []graph.Candidate{candidate(0.9, now), candidate(0.8, now), candidate(0.7, now)}, nil
		},
	}
	svc := NewRetrievalService(logger.NewNop(), &fakeEmbedder{vec: []float32{1}}, q, 10)

	items, err := svc.Retrieve(context.Background(), "q", uuid.New(), 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items: want=3 got=%d", len(items))
	}
	if len(asked) != 2 || asked[0] != 3*oversample || asked[1] != 3*wideOversample {
		t.Fatalf("asked widths: want=[%d %d] got=%v", 3*oversample, 3*wideOversample, asked)
	}
}

func TestRetrievePersonScopePassedThrough(t *testing.T) {
	personID := uuid.New()
	var scopedTo uuid.UUID
	q := &fakeQuerier{
		nearest: func(ctx context.Context, vector []float32, pid uuid.UUID, k int) ([]graph.Candidate, error) {
			scopedTo = pid
			return nil, nil
		},
	}
	svc := NewRetrievalService(logger.NewNop(), &fakeEmbedder{vec: []float32{1}}, q, 10)
	if _, err := svc.Retrieve(context.Background(), "q", personID, 3, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scopedTo != personID {
		t.Fatalf("person scope: want=%s got=%s", personID, scopedTo)
	}
}

// A person with zero embedded events gets an empty result, not an error.
func TestRetrieveNoEmbeddedEvents(t *testing.T) {
	svc := NewRetrievalService(logger.NewNop(), &fakeEmbedder{vec: []float32{1}}, &fakeQuerier{}, 10)
	items, err := svc.Retrieve(context.Background(), "q", uuid.New(), 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items: want empty got=%d", len(items))
	}
}

func TestRetrieveSortAndTieBreak(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candidates := []graph.Candidate{
		candidate(0.80, older),
		candidate(0.95, older),
		candidate(0.80, newer),
	}
	q := &fakeQuerier{
		nearest: func(ctx context.Context, vector []float32, pid uuid.UUID, k int) ([]graph.Candidate, error) {
			return candidates, nil
		},
	}
	svc := NewRetrievalService(logger.NewNop(), &fakeEmbedder{vec: []float32{1}}, q, 10)

	items, err := svc.Retrieve(context.Background(), "q", uuid.New(), 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items: want=3 got=%d", len(items))
	}
	if items[0].Score != 0.95 {
		t.Fatalf("first item score: want=0.95 got=%v", items[0].Score)
	}
	// Equal scores: the more recent event wins.
	if !items[1].EventDate.Equal(newer) || !items[2].EventDate.Equal(older) {
		t.Fatalf("tie-break order wrong: %v then %v", items[1].EventDate, items[2].EventDate)
	}
}

func TestSimilarEventsExcludesSeed(t *testing.T) {
	personID := uuid.New()
	seedID := uuid.New()
	otherID := uuid.New()
	q := &fakeQuerier{
		eventEmbed: func(ctx context.Context, pid, eid uuid.UUID) ([]float32, error) {
			return []float32{0.1, 0.2}, nil
		},
		nearest: func(ctx context.Context, vector []float32, pid uuid.UUID, k int) ([]graph.Candidate, error) {
			return []graph.Candidate{
				{EventID: seedID, Score: 1.0},
				{EventID: otherID, Score: 0.7},
			}, nil
		},
	}
	svc := NewRetrievalService(logger.NewNop(), &fakeEmbedder{vec: []float32{1}}, q, 10)

	items, err := svc.SimilarEvents(context.Background(), personID, seedID, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].EventID != otherID {
		t.Fatalf("seed event should be excluded, got %+v", items)
	}
}

func TestSimilarEventsMissingEmbedding(t *testing.T) {
	q := &fakeQuerier{
		eventEmbed: func(ctx context.Context, pid, eid uuid.UUID) ([]float32, error) {
			return nil, nil
		},
	}
	svc := NewRetrievalService(logger.NewNop(), &fakeEmbedder{vec: []float32{1}}, q, 10)
	_, err := svc.SimilarEvents(context.Background(), uuid.New(), uuid.New(), 5)
	if !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}
