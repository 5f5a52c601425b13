package services

import (
	"github.com/google/uuid"

	"github.com/myaview/backend/internal/domain/profile"
	"github.com/myaview/backend/internal/platform/logger"
)

// PrivacyGate filters retrieved and profile data before any of it is
// concatenated into LLM-bound context. Filtering operates on the smallest
// unit carrying a classification: one consent-gated condition is dropped on
// its own, it never suppresses the lab event around it.
//
// The gate is pure: identical inputs produce byte-identical output, and a
// denial is a silent omission, never an error the client could observe.
type PrivacyGate interface {
	FilterItems(items []profile.ContextItem, owner profile.Person, actor profile.ActorContext) []profile.ContextItem
	FilterProfile(p *profile.PersonProfile, actor profile.ActorContext) *profile.PersonProfile
}

type privacyGate struct {
	log *logger.Logger
}

func NewPrivacyGate(log *logger.Logger) PrivacyGate {
	return &privacyGate{log: log.With("service", "PrivacyGate")}
}

func (g *privacyGate) FilterItems(items []profile.ContextItem, owner profile.Person, actor profile.ActorContext) []profile.ContextItem {
	out := make([]profile.ContextItem, 0, len(items))
	for _, item := range items {
		// Provenance is mandatory: an item the gate cannot attribute is
		// never assembled.
		if item.EventID == uuid.Nil || item.PersonID == uuid.Nil {
			continue
		}
		if !allowed(item.Privacy, item.PrivacyCategory, item.PersonID, owner.ShareFlags, actor) {
			continue
		}
		item.Conditions = filterConditions(item.Conditions, item.PersonID, owner.ShareFlags, actor)
		out = append(out, item)
	}
	return out
}

func (g *privacyGate) FilterProfile(p *profile.PersonProfile, actor profile.ActorContext) *profile.PersonProfile {
	if p == nil {
		return nil
	}
	filtered := *p
	filtered.Conditions = filterConditions(p.Conditions, p.Person.ID, p.Person.ShareFlags, actor)
	return &filtered
}

func filterConditions(conditions []profile.ConditionRecord, ownerID uuid.UUID, shareFlags map[string]bool, actor profile.ActorContext) []profile.ConditionRecord {
	out := make([]profile.ConditionRecord, 0, len(conditions))
	for _, c := range conditions {
		if allowed(c.Privacy, c.Category, ownerID, shareFlags, actor) {
			out = append(out, c)
		}
	}
	return out
}

func allowed(level profile.PrivacyLevel, category string, ownerID uuid.UUID, shareFlags map[string]bool, actor profile.ActorContext) bool {
	switch level {
	case profile.PrivacyConsentRequired:
		return actor.HasConsent(ownerID, category)
	case profile.PrivacyMemberControlled:
		return shareFlags[category]
	default:
		// auto_share, normal, and unclassified records are always included.
		return true
	}
}
