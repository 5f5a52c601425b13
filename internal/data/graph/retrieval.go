package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/myaview/backend/internal/domain/profile"
)

const indexDimensionQuery = `
SHOW VECTOR INDEXES YIELD name, options
WHERE name = $name
RETURN options
`

func (q *querier) IndexDimension(ctx context.Context) (int, error) {
	records, err := q.read(ctx, indexDimensionQuery, map[string]any{"name": VectorIndexName})
	if err != nil {
		return 0, fmt.Errorf("graph: show vector indexes: %w", err)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("graph: vector index %q not found", VectorIndexName)
	}
	options, _ := recordValue(records[0], "options").(map[string]any)
	indexConfig, _ := options["indexConfig"].(map[string]any)
	dim := int(asFloat(indexConfig["vector.dimensions"]))
	if dim <= 0 {
		return 0, fmt.Errorf("graph: vector index %q has no dimension config", VectorIndexName)
	}
	return dim, nil
}

// The MATCH clause scopes hits to the requesting person's events before
// anything leaves the query. The summary guard enforces the invariant that
// an embedded event always carries the summary it was derived from.
const nearestQuery = `
CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
MATCH (p:Person {id: $person_id})-[:HAD_LAB_EVENT]->(node)
WHERE node.summary IS NOT NULL
RETURN node.id AS id,
       node.summary AS summary,
       toString(coalesce(node.date, '')) AS date,
       coalesce(node.privacy_level, 'auto_share') AS privacy,
       coalesce(node.privacy_category, '') AS category,
       score
ORDER BY score DESC
`

func (q *querier) Nearest(ctx context.Context, vector []float32, personID uuid.UUID, k int) ([]Candidate, error) {
	if personID == uuid.Nil {
		return nil, fmt.Errorf("graph: missing person_id")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("graph: empty query vector")
	}
	if k <= 0 {
		k = 1
	}
	records, err := q.read(ctx, nearestQuery, map[string]any{
		"index":     VectorIndexName,
		"k":         k,
		"embedding": vector,
		"person_id": personID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("graph: vector search: %w", err)
	}
	out := make([]Candidate, 0, len(records))
	for _, rec := range records {
		id := asUUID(recordValue(rec, "id"))
		if id == uuid.Nil {
			continue
		}
		out = append(out, Candidate{
			EventID:   id,
			Summary:   asString(recordValue(rec, "summary")),
			EventDate: asTime(recordValue(rec, "date")),
			Score:     asFloat(recordValue(rec, "score")),
			Privacy:   profile.PrivacyLevel(asString(recordValue(rec, "privacy"))),
			Category:  asString(recordValue(rec, "category")),
		})
	}
	return out, nil
}

const eventEmbeddingQuery = `
MATCH (p:Person {id: $person_id})-[:HAD_LAB_EVENT]->(e:LabEvent {id: $event_id})
WHERE e.summary_embedding IS NOT NULL
RETURN e.summary_embedding AS embedding
`

func (q *querier) EventEmbedding(ctx context.Context, personID, eventID uuid.UUID) ([]float32, error) {
	if personID == uuid.Nil || eventID == uuid.Nil {
		return nil, fmt.Errorf("graph: missing person_id or event_id")
	}
	records, err := q.read(ctx, eventEmbeddingQuery, map[string]any{
		"person_id": personID.String(),
		"event_id":  eventID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("graph: event embedding: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return asVector(recordValue(records[0], "embedding")), nil
}

// Expansion mirrors the retrieval enrichment traversal: conditions and
// medications hang off the person (unbounded backward), lab results off the
// event, appointments bounded by the forward-looking window.
const expandEventsQuery = `
UNWIND $event_ids AS event_id
MATCH (p:Person {id: $person_id})-[:HAD_LAB_EVENT]->(e:LabEvent {id: event_id})
OPTIONAL MATCH (p)-[hc:HAS_CONDITION]->(c:Condition)
OPTIONAL MATCH (p)-[t:TAKES]->(m:Medication)
WHERE t.end_date IS NULL
OPTIONAL MATCH (e)-[:INCLUDES]->(lr:LabResult)
OPTIONAL MATCH (p)-[:HAS_APPOINTMENT]->(apt:Appointment)
WHERE apt.date >= date() AND apt.date <= date() + duration({days: $appt_days})
RETURN event_id,
       collect(DISTINCT {
           name: c.name,
           icd10_code: c.icd10_code,
           category: c.category,
           hereditary: c.hereditary,
           inheritance_pattern: c.inheritance_pattern,
           heritability_pct: c.heritability_pct,
           diagnosis_date: toString(coalesce(hc.diagnosis_date, '')),
           status: hc.status,
           privacy: hc.privacy_level
       }) AS conditions,
       collect(DISTINCT m.name) AS medications,
       collect(DISTINCT {
           test_name: lr.test_name,
           value: lr.value,
           unit: lr.unit,
           reference_range: lr.reference_range,
           flag: lr.flag
       }) AS lab_results,
       collect(DISTINCT {
           date: toString(apt.date),
           time: apt.time,
           type: apt.appointment_type,
           provider: apt.provider,
           facility: apt.facility,
           purpose: apt.purpose
       }) AS appointments
`

func (q *querier) ExpandEvents(ctx context.Context, personID uuid.UUID, eventIDs []uuid.UUID, apptWindow time.Duration) (map[uuid.UUID]Expansion, error) {
	if personID == uuid.Nil {
		return nil, fmt.Errorf("graph: missing person_id")
	}
	out := make(map[uuid.UUID]Expansion, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}
	if apptWindow <= 0 {
		apptWindow = 6 * 30 * 24 * time.Hour
	}
	ids := make([]string, 0, len(eventIDs))
	for _, id := range eventIDs {
		ids = append(ids, id.String())
	}
	records, err := q.read(ctx, expandEventsQuery, map[string]any{
		"person_id": personID.String(),
		"event_ids": ids,
		"appt_days": int(apptWindow.Hours() / 24),
	})
	if err != nil {
		return nil, fmt.Errorf("graph: expand events: %w", err)
	}
	for _, rec := range records {
		id := asUUID(recordValue(rec, "event_id"))
		if id == uuid.Nil {
			continue
		}
		exp := Expansion{
			Conditions:   conditionsFromMaps(asMaps(recordValue(rec, "conditions"))),
			Medications:  asStrings(recordValue(rec, "medications")),
			Appointments: appointmentsFromMaps(asMaps(recordValue(rec, "appointments"))),
		}
		for _, m := range asMaps(recordValue(rec, "lab_results")) {
			test := asString(m["test_name"])
			if test == "" {
				continue
			}
			exp.LabResults = append(exp.LabResults, profile.LabResult{
				TestName:       test,
				Value:          asString(m["value"]),
				Unit:           asString(m["unit"]),
				ReferenceRange: asString(m["reference_range"]),
				Flag:           asString(m["flag"]),
			})
		}
		out[id] = exp
	}
	return out, nil
}

const interactionsQuery = `
MATCH (p:Person {id: $person_id})-[ta:TAKES]->(a:Medication)
WHERE ta.end_date IS NULL
MATCH (p)-[tb:TAKES]->(b:Medication)
WHERE tb.end_date IS NULL AND a.name < b.name
MATCH (a)-[i:INTERACTS_WITH]-(b)
RETURN DISTINCT a.name AS medication_a,
       b.name AS medication_b,
       i.severity AS severity,
       i.description AS description
ORDER BY medication_a, medication_b
`

func (q *querier) ActiveMedicationInteractions(ctx context.Context, personID uuid.UUID) ([]profile.MedicationInteraction, error) {
	if personID == uuid.Nil {
		return nil, fmt.Errorf("graph: missing person_id")
	}
	records, err := q.read(ctx, interactionsQuery, map[string]any{"person_id": personID.String()})
	if err != nil {
		return nil, fmt.Errorf("graph: medication interactions: %w", err)
	}
	out := make([]profile.MedicationInteraction, 0, len(records))
	for _, rec := range records {
		out = append(out, profile.MedicationInteraction{
			MedicationA: asString(recordValue(rec, "medication_a")),
			MedicationB: asString(recordValue(rec, "medication_b")),
			Severity:    asString(recordValue(rec, "severity")),
			Description: asString(recordValue(rec, "description")),
		})
	}
	return out, nil
}
