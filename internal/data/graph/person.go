package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/myaview/backend/internal/domain/profile"
)

const listPersonsQuery = `
MATCH (p:Person)
RETURN p.id AS id,
       p.name AS name,
       p.preferred_name AS preferred_name,
       p.role AS role,
       toString(coalesce(p.date_of_birth, '')) AS date_of_birth,
       p.gender AS gender,
       p.blood_type AS blood_type
ORDER BY p.name
`

func (q *querier) ListPersons(ctx context.Context) ([]profile.Person, error) {
	records, err := q.read(ctx, listPersonsQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: list persons: %w", err)
	}
	out := make([]profile.Person, 0, len(records))
	for _, rec := range records {
		id := asUUID(recordValue(rec, "id"))
		if id == uuid.Nil {
			continue
		}
		out = append(out, profile.Person{
			ID:            id,
			Name:          asString(recordValue(rec, "name")),
			PreferredName: asString(recordValue(rec, "preferred_name")),
			Role:          asString(recordValue(rec, "role")),
			DateOfBirth:   asString(recordValue(rec, "date_of_birth")),
			Gender:        asString(recordValue(rec, "gender")),
			BloodType:     asString(recordValue(rec, "blood_type")),
		})
	}
	return out, nil
}

const profileQuery = `
MATCH (p:Person {id: $person_id})
OPTIONAL MATCH (p)-[:HAS_ALIAS]->(a:Alias)
OPTIONAL MATCH (p)-[hc:HAS_CONDITION]->(c:Condition)
OPTIONAL MATCH (p)-[t:TAKES]->(m:Medication)
OPTIONAL MATCH (p)-[:ALLERGIC_TO]->(al:Allergen)
OPTIONAL MATCH (p)-[:HAS_APPOINTMENT]->(apt:Appointment)
WHERE apt.date >= date() AND apt.date <= date() + duration({days: $appt_days})
RETURN p.id AS id,
       p.name AS name,
       p.preferred_name AS preferred_name,
       p.full_legal_name AS full_legal_name,
       p.role AS role,
       toString(coalesce(p.date_of_birth, '')) AS date_of_birth,
       p.gender AS gender,
       p.blood_type AS blood_type,
       properties(p) AS props,
       collect(DISTINCT {name: a.name, source: a.source, primary: a.is_primary}) AS aliases,
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
       collect(DISTINCT {
           name: m.name,
           drug_class: m.drug_class,
           dosage: coalesce(t.dosage, m.dosage),
           frequency: m.frequency,
           start_date: toString(coalesce(t.start_date, '')),
           end_date: toString(coalesce(t.end_date, '')),
           prescriber: t.prescriber
       }) AS medications,
       collect(DISTINCT {name: al.name, reaction: al.reaction}) AS allergies,
       collect(DISTINCT {
           date: toString(apt.date),
           time: apt.time,
           type: apt.appointment_type,
           provider: apt.provider,
           facility: apt.facility,
           purpose: apt.purpose
       }) AS appointments
`

func (q *querier) GetProfile(ctx context.Context, personID uuid.UUID, apptWindow time.Duration) (*profile.PersonProfile, error) {
	if personID == uuid.Nil {
		return nil, fmt.Errorf("graph: missing person_id")
	}
	if apptWindow <= 0 {
		apptWindow = 6 * 30 * 24 * time.Hour
	}
	records, err := q.read(ctx, profileQuery, map[string]any{
		"person_id": personID.String(),
		"appt_days": int(apptWindow.Hours() / 24),
	})
	if err != nil {
		return nil, fmt.Errorf("graph: get profile: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	rec := records[0]

	person := profile.Person{
		ID:            personID,
		Name:          asString(recordValue(rec, "name")),
		PreferredName: asString(recordValue(rec, "preferred_name")),
		FullLegalName: asString(recordValue(rec, "full_legal_name")),
		Role:          asString(recordValue(rec, "role")),
		DateOfBirth:   asString(recordValue(rec, "date_of_birth")),
		Gender:        asString(recordValue(rec, "gender")),
		BloodType:     asString(recordValue(rec, "blood_type")),
		ShareFlags:    shareFlagsFromProps(recordValue(rec, "props")),
	}
	for _, m := range asMaps(recordValue(rec, "aliases")) {
		name := asString(m["name"])
		if name == "" {
			continue
		}
		person.Aliases = append(person.Aliases, profile.Alias{
			Name:    name,
			Source:  asString(m["source"]),
			Primary: asBool(m["primary"]),
		})
	}

	out := &profile.PersonProfile{Person: person}
	out.Conditions = conditionsFromMaps(asMaps(recordValue(rec, "conditions")))
	for _, m := range asMaps(recordValue(rec, "medications")) {
		name := asString(m["name"])
		if name == "" {
			continue
		}
		out.Medications = append(out.Medications, profile.MedicationRecord{
			Name:       name,
			DrugClass:  asString(m["drug_class"]),
			Dosage:     asString(m["dosage"]),
			Frequency:  asString(m["frequency"]),
			StartDate:  asString(m["start_date"]),
			EndDate:    asString(m["end_date"]),
			Prescriber: asString(m["prescriber"]),
		})
	}
	for _, m := range asMaps(recordValue(rec, "allergies")) {
		name := asString(m["name"])
		if name == "" {
			continue
		}
		out.Allergies = append(out.Allergies, profile.Allergy{
			Name:     name,
			Reaction: asString(m["reaction"]),
		})
	}
	out.Appointments = appointmentsFromMaps(asMaps(recordValue(rec, "appointments")))
	return out, nil
}

func conditionsFromMaps(maps []map[string]any) []profile.ConditionRecord {
	var out []profile.ConditionRecord
	for _, m := range maps {
		name := asString(m["name"])
		if name == "" {
			continue
		}
		privacy := profile.PrivacyLevel(asString(m["privacy"]))
		if privacy == "" {
			privacy = profile.PrivacyNormal
		}
		out = append(out, profile.ConditionRecord{
			Name:               name,
			ICD10Code:          asString(m["icd10_code"]),
			Category:           asString(m["category"]),
			Hereditary:         asBool(m["hereditary"]),
			InheritancePattern: profile.InheritancePattern(asString(m["inheritance_pattern"])),
			HeritabilityPct:    asFloat(m["heritability_pct"]),
			DiagnosisDate:      asString(m["diagnosis_date"]),
			Status:             asString(m["status"]),
			Privacy:            privacy,
		})
	}
	return out
}

func appointmentsFromMaps(maps []map[string]any) []profile.Appointment {
	var out []profile.Appointment
	for _, m := range maps {
		date := asTime(m["date"])
		if date.IsZero() {
			continue
		}
		out = append(out, profile.Appointment{
			Date:     date,
			Time:     asString(m["time"]),
			Type:     asString(m["type"]),
			Provider: asString(m["provider"]),
			Facility: asString(m["facility"]),
			Purpose:  asString(m["purpose"]),
		})
	}
	return out
}

// shareFlagsFromProps lifts share_<category> booleans off the Person node.
func shareFlagsFromProps(v any) map[string]bool {
	props, _ := v.(map[string]any)
	if len(props) == 0 {
		return nil
	}
	flags := map[string]bool{}
	for k, pv := range props {
		if !strings.HasPrefix(k, "share_") {
			continue
		}
		if b, ok := pv.(bool); ok {
			flags[strings.TrimPrefix(k, "share_")] = b
		}
	}
	if len(flags) == 0 {
		return nil
	}
	return flags
}
