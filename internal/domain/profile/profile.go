package profile

import (
	"time"

	"github.com/google/uuid"
)

// Read-only projections of the medical graph. Ingestion and manual profile
// editing own the writes; this core only queries.

type PrivacyLevel string

const (
	PrivacyAutoShare        PrivacyLevel = "auto_share"
	PrivacyNormal           PrivacyLevel = "normal"
	PrivacyConsentRequired  PrivacyLevel = "consent_required"
	PrivacyMemberControlled PrivacyLevel = "member_controlled"
)

type InheritancePattern string

const (
	InheritanceAutosomalDominant  InheritancePattern = "autosomal_dominant"
	InheritanceAutosomalRecessive InheritancePattern = "autosomal_recessive"
	InheritanceMultifactorial     InheritancePattern = "multifactorial"
	InheritanceXLinked            InheritancePattern = "x_linked"
	InheritanceNone               InheritancePattern = "none"
)

type Alias struct {
	Name    string `json:"name"`
	Source  string `json:"source,omitempty"`
	Primary bool   `json:"primary"`
}

type Person struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	PreferredName string    `json:"preferred_name,omitempty"`
	FullLegalName string    `json:"full_legal_name,omitempty"`
	Role          string    `json:"role,omitempty"`
	DateOfBirth   string    `json:"date_of_birth,omitempty"`
	Gender        string    `json:"gender,omitempty"`
	BloodType     string    `json:"blood_type,omitempty"`

	// Aliases are alternate-name strings used only for cross-record name
	// matching, never for retrieval ranking.
	Aliases []Alias `json:"aliases,omitempty"`

	// ShareFlags are the member-controlled share_<category> switches, keyed
	// by category (e.g. "mental_health").
	ShareFlags map[string]bool `json:"share_flags,omitempty"`
}

// ConditionRecord is a Condition plus its HAS_CONDITION link properties.
type ConditionRecord struct {
	Name               string             `json:"name"`
	ICD10Code          string             `json:"icd10_code,omitempty"`
	Category           string             `json:"category,omitempty"`
	Hereditary         bool               `json:"hereditary"`
	InheritancePattern InheritancePattern `json:"inheritance_pattern,omitempty"`
	HeritabilityPct    float64            `json:"heritability_pct,omitempty"`

	DiagnosisDate string       `json:"diagnosis_date,omitempty"`
	Status        string       `json:"status,omitempty"` // active|resolved|managed
	Privacy       PrivacyLevel `json:"privacy,omitempty"`
}

// MedicationRecord is a Medication plus its TAKES link properties.
type MedicationRecord struct {
	Name       string `json:"name"`
	DrugClass  string `json:"drug_class,omitempty"`
	Dosage     string `json:"dosage,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
	StartDate  string `json:"start_date,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
	Prescriber string `json:"prescriber,omitempty"`
}

// Active reports whether the medication is currently taken.
func (m MedicationRecord) Active() bool { return m.EndDate == "" }

// MedicationInteraction mirrors an INTERACTS_WITH edge between two of a
// person's active medications.
type MedicationInteraction struct {
	MedicationA string `json:"medication_a"`
	MedicationB string `json:"medication_b"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

type Allergy struct {
	Name     string `json:"name"`
	Reaction string `json:"reaction,omitempty"`
}

type LabResult struct {
	TestName       string `json:"test_name"`
	Value          string `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"reference_range,omitempty"`
	Flag           string `json:"flag,omitempty"`
}

type Appointment struct {
	Date     time.Time `json:"date"`
	Time     string    `json:"time,omitempty"`
	Type     string    `json:"type,omitempty"`
	Provider string    `json:"provider,omitempty"`
	Facility string    `json:"facility,omitempty"`
	Purpose  string    `json:"purpose,omitempty"`
}

// PersonProfile is the static profile handed to the Context Assembler.
type PersonProfile struct {
	Person       Person             `json:"person"`
	Conditions   []ConditionRecord  `json:"conditions,omitempty"`
	Medications  []MedicationRecord `json:"medications,omitempty"`
	Allergies    []Allergy          `json:"allergies,omitempty"`
	Appointments []Appointment      `json:"appointments,omitempty"`
}

// ContextItem is one retrieval result: a LabEvent summary, its similarity
// score, and the entities reached by graph expansion. EventID and PersonID
// are the provenance required by the privacy gate; an item without them is
// dropped before assembly.
type ContextItem struct {
	EventID  uuid.UUID `json:"event_id"`
	PersonID uuid.UUID `json:"person_id"`

	Summary   string    `json:"summary"`
	EventDate time.Time `json:"event_date,omitempty"`
	Score     float64   `json:"score"`

	Privacy         PrivacyLevel `json:"privacy,omitempty"`
	PrivacyCategory string       `json:"privacy_category,omitempty"`

	Conditions   []ConditionRecord `json:"conditions,omitempty"`
	Medications  []string          `json:"medications,omitempty"`
	LabResults   []LabResult       `json:"lab_results,omitempty"`
	Appointments []Appointment     `json:"appointments,omitempty"`
}

// ActorContext identifies who is asking and what they may see.
type ActorContext struct {
	ActorID uuid.UUID

	// Consents maps owning person id -> sensitive category -> granted.
	Consents map[uuid.UUID]map[string]bool
}

func (a ActorContext) HasConsent(personID uuid.UUID, category string) bool {
	byPerson, ok := a.Consents[personID]
	if !ok {
		return false
	}
	return byPerson[category]
}
