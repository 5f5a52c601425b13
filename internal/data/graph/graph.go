package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/myaview/backend/internal/domain/profile"
	"github.com/myaview/backend/internal/platform/logger"
	"github.com/myaview/backend/internal/platform/neo4jdb"
)

// VectorIndexName is the Neo4j vector index over LabEvent.summary_embedding.
const VectorIndexName = "medical_content_vector"

// Candidate is a vector-search hit before graph expansion.
type Candidate struct {
	EventID   uuid.UUID
	Summary   string
	EventDate time.Time
	Score     float64
	Privacy   profile.PrivacyLevel
	Category  string
}

// Expansion is the entity neighborhood of one LabEvent.
type Expansion struct {
	Conditions   []profile.ConditionRecord
	Medications  []string
	LabResults   []profile.LabResult
	Appointments []profile.Appointment
}

// Querier is the query contract this core issues against the graph store.
// Every query is scoped by person id; an unscoped query that could return
// another person's data is never issued.
type Querier interface {
	ListPersons(ctx context.Context) ([]profile.Person, error)
	GetProfile(ctx context.Context, personID uuid.UUID, apptWindow time.Duration) (*profile.PersonProfile, error)

	// IndexDimension reports the dimensionality of the vector index, used
	// for the startup consistency check against the embedding gateway.
	IndexDimension(ctx context.Context) (int, error)

	// Nearest runs cosine top-k over the person's embedded LabEvents only.
	Nearest(ctx context.Context, vector []float32, personID uuid.UUID, k int) ([]Candidate, error)

	// EventEmbedding returns the stored vector for one of the person's
	// LabEvents, for similarity seeded by an existing event.
	EventEmbedding(ctx context.Context, personID, eventID uuid.UUID) ([]float32, error)

	// ExpandEvents traverses from the given LabEvents to linked conditions,
	// active medications, lab result line items, and appointments inside the
	// recency window.
	ExpandEvents(ctx context.Context, personID uuid.UUID, eventIDs []uuid.UUID, apptWindow time.Duration) (map[uuid.UUID]Expansion, error)

	// ActiveMedicationInteractions emits one record per INTERACTS_WITH edge
	// between a pair of the person's active medications. Deterministic: a
	// record exists if and only if the edge does.
	ActiveMedicationInteractions(ctx context.Context, personID uuid.UUID) ([]profile.MedicationInteraction, error)
}

type querier struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewQuerier(client *neo4jdb.Client, log *logger.Logger) Querier {
	return &querier{client: client, log: log.With("repo", "GraphQuerier")}
}

func (q *querier) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := q.client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}
