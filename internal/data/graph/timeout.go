package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/myaview/backend/internal/domain/profile"
)

// WithTimeout bounds every query issued through the wrapped Querier with its
// own deadline. Callers like the websocket turn loop run on a context with
// no deadline at all, so a hung graph store would otherwise stall a turn
// indefinitely while it holds the session's turn gate.
func WithTimeout(next Querier, d time.Duration) Querier {
	if d <= 0 {
		return next
	}
	return &timeoutQuerier{next: next, d: d}
}

type timeoutQuerier struct {
	next Querier
	d    time.Duration
}

func (t *timeoutQuerier) ListPersons(ctx context.Context) ([]profile.Person, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.ListPersons(ctx)
}

func (t *timeoutQuerier) GetProfile(ctx context.Context, personID uuid.UUID, apptWindow time.Duration) (*profile.PersonProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.GetProfile(ctx, personID, apptWindow)
}

func (t *timeoutQuerier) IndexDimension(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.IndexDimension(ctx)
}

func (t *timeoutQuerier) Nearest(ctx context.Context, vector []float32, personID uuid.UUID, k int) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Nearest(ctx, vector, personID, k)
}

func (t *timeoutQuerier) EventEmbedding(ctx context.Context, personID, eventID uuid.UUID) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.EventEmbedding(ctx, personID, eventID)
}

func (t *timeoutQuerier) ExpandEvents(ctx context.Context, personID uuid.UUID, eventIDs []uuid.UUID, apptWindow time.Duration) (map[uuid.UUID]Expansion, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.ExpandEvents(ctx, personID, eventIDs, apptWindow)
}

func (t *timeoutQuerier) ActiveMedicationInteractions(ctx context.Context, personID uuid.UUID) ([]profile.MedicationInteraction, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.ActiveMedicationInteractions(ctx, personID)
}
