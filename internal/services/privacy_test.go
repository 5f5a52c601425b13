package services

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/myaview/backend/internal/domain/profile"
	"github.com/myaview/backend/internal/platform/logger"
)

func newTestGate() PrivacyGate {
	return NewPrivacyGate(logger.NewNop())
}

func testItem(personID uuid.UUID, level profile.PrivacyLevel, category string) profile.ContextItem {
	return profile.ContextItem{
		EventID:         uuid.New(),
		PersonID:        personID,
		Summary:         "annual physical, unremarkable",
		Privacy:         level,
		PrivacyCategory: category,
	}
}

func TestFilterItemsPolicyTable(t *testing.T) {
	personID := uuid.New()
	owner := profile.Person{ID: personID, ShareFlags: map[string]bool{"mental_health": false, "reproductive": true}}

	cases := []struct {
		name  string
		item  profile.ContextItem
		actor profile.ActorContext
		want  bool
	}{
		{
			name:  "auto_share always included",
			item:  testItem(personID, profile.PrivacyAutoShare, ""),
			actor: profile.ActorContext{ActorID: uuid.New()},
			want:  true,
		},
		{
			name:  "normal always included",
			item:  testItem(personID, profile.PrivacyNormal, ""),
			actor: profile.ActorContext{ActorID: uuid.New()},
			want:  true,
		},
		{
			name:  "unclassified treated as normal",
			item:  testItem(personID, "", ""),
			actor: profile.ActorContext{ActorID: uuid.New()},
			want:  true,
		},
		{
			name:  "consent_required without consent",
			item:  testItem(personID, profile.PrivacyConsentRequired, "genetic"),
			actor: profile.ActorContext{ActorID: uuid.New()},
			want:  false,
		},
		{
			name: "consent_required with consent",
			item: testItem(personID, profile.PrivacyConsentRequired, "genetic"),
			actor: profile.ActorContext{
				ActorID:  uuid.New(),
				Consents: map[uuid.UUID]map[string]bool{personID: {"genetic": true}},
			},
			want: true,
		},
		{
			name: "consent for a different category does not leak over",
			item: testItem(personID, profile.PrivacyConsentRequired, "genetic"),
			actor: profile.ActorContext{
				ActorID:  uuid.New(),
				Consents: map[uuid.UUID]map[string]bool{personID: {"mental_health": true}},
			},
			want: false,
		},
		{
			name:  "member_controlled with share flag off",
			item:  testItem(personID, profile.PrivacyMemberControlled, "mental_health"),
			actor: profile.ActorContext{ActorID: personID},
			want:  false,
		},
		{
			name:  "member_controlled with share flag on",
			item:  testItem(personID, profile.PrivacyMemberControlled, "reproductive"),
			actor: profile.ActorContext{ActorID: personID},
			want:  true,
		},
	}

	gate := newTestGate()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := gate.FilterItems([]profile.ContextItem{tc.item}, owner, tc.actor)
			if included := len(got) == 1; included != tc.want {
				t.Fatalf("included: want=%v got=%v", tc.want, included)
			}
		})
	}
}

func TestFilterItemsDropsItemsWithoutProvenance(t *testing.T) {
	personID := uuid.New()
	gate := newTestGate()

	items := []profile.ContextItem{
		{Summary: "no provenance at all"},
		{EventID: uuid.New(), Summary: "missing person id"},
		{EventID: uuid.New(), PersonID: personID, Summary: "fully attributed"},
	}
	got := gate.FilterItems(items, profile.Person{ID: personID}, profile.ActorContext{ActorID: personID})
	if len(got) != 1 {
		t.Fatalf("items kept: want=1 got=%d", len(got))
	}
	if got[0].Summary != "fully attributed" {
		t.Fatalf("kept wrong item: %q", got[0].Summary)
	}
}

// A consent-gated condition is dropped on its own; the lab event carrying it
// survives.
func TestFilterItemsSmallestUnit(t *testing.T) {
	personID := uuid.New()
	gate := newTestGate()

	item := testItem(personID, profile.PrivacyNormal, "")
	item.Conditions = []profile.ConditionRecord{
		{Name: "hypertension", Privacy: profile.PrivacyNormal},
		{Name: "anxiety disorder", Privacy: profile.PrivacyConsentRequired, Category: "mental_health"},
	}

	got := gate.FilterItems([]profile.ContextItem{item}, profile.Person{ID: personID}, profile.ActorContext{ActorID: uuid.New()})
	if len(got) != 1 {
		t.Fatalf("event should survive, got %d items", len(got))
	}
	if len(got[0].Conditions) != 1 || got[0].Conditions[0].Name != "hypertension" {
		t.Fatalf("conditions: want only hypertension, got %+v", got[0].Conditions)
	}
}

func TestFilterItemsDeterministic(t *testing.T) {
	personID := uuid.New()
	owner := profile.Person{ID: personID, ShareFlags: map[string]bool{"mental_health": true}}
	actor := profile.ActorContext{
		ActorID:  uuid.New(),
		Consents: map[uuid.UUID]map[string]bool{personID: {"genetic": true}},
	}
	items := []profile.ContextItem{
		testItem(personID, profile.PrivacyNormal, ""),
		testItem(personID, profile.PrivacyConsentRequired, "genetic"),
		testItem(personID, profile.PrivacyMemberControlled, "mental_health"),
		testItem(personID, profile.PrivacyConsentRequired, "reproductive"),
	}

	gate := newTestGate()
	first := gate.FilterItems(items, owner, actor)
	for i := 0; i < 10; i++ {
		again := gate.FilterItems(items, owner, actor)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, again)
		}
	}
	if len(first) != 3 {
		t.Fatalf("items kept: want=3 got=%d", len(first))
	}
}

func TestFilterProfileFiltersConditions(t *testing.T) {
	personID := uuid.New()
	gate := newTestGate()

	p := &profile.PersonProfile{
		Person: profile.Person{ID: personID, Name: "Dana", ShareFlags: map[string]bool{"mental_health": false}},
		Conditions: []profile.ConditionRecord{
			{Name: "asthma", Privacy: profile.PrivacyAutoShare},
			{Name: "depression", Privacy: profile.PrivacyMemberControlled, Category: "mental_health"},
		},
		Medications: []profile.MedicationRecord{{Name: "albuterol"}},
	}
	got := gate.FilterProfile(p, profile.ActorContext{ActorID: uuid.New()})
	if len(got.Conditions) != 1 || got.Conditions[0].Name != "asthma" {
		t.Fatalf("conditions: want only asthma, got %+v", got.Conditions)
	}
	// Non-classified sections pass through untouched.
	if len(got.Medications) != 1 {
		t.Fatalf("medications should be untouched, got %+v", got.Medications)
	}
	// Original is not mutated.
	if len(p.Conditions) != 2 {
		t.Fatalf("input profile was mutated: %+v", p.Conditions)
	}
}
