package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/myaview/backend/internal/data/graph"
	"github.com/myaview/backend/internal/domain/profile"
	"github.com/myaview/backend/internal/platform/apierr"
	"github.com/myaview/backend/internal/platform/logger"
)

// FamilyService is the read surface over the profile graph: member listing,
// per-member profiles, and medication interaction checks. All reads pass
// through the privacy gate before leaving the service.
type FamilyService interface {
	ListMembers(ctx context.Context) ([]profile.Person, error)
	GetProfile(ctx context.Context, memberID uuid.UUID) (*profile.PersonProfile, error)
	MedicationInteractions(ctx context.Context, memberID uuid.UUID) ([]profile.MedicationInteraction, error)
}

type familyService struct {
	log        *logger.Logger
	graph      graph.Querier
	gate       PrivacyGate
	apptWindow time.Duration
}

func NewFamilyService(log *logger.Logger, g graph.Querier, gate PrivacyGate, apptWindow time.Duration) FamilyService {
	if apptWindow <= 0 {
		apptWindow = defaultAppointmentWindow
	}
	return &familyService{
		log:        log.With("service", "FamilyService"),
		graph:      g,
		gate:       gate,
		apptWindow: apptWindow,
	}
}

func (s *familyService) ListMembers(ctx context.Context) ([]profile.Person, error) {
	persons, err := s.graph.ListPersons(ctx)
	if err != nil {
		return nil, apierr.RetrievalUnavailable(fmt.Errorf("list persons: %w", err))
	}
	return persons, nil
}

func (s *familyService) GetProfile(ctx context.Context, memberID uuid.UUID) (*profile.PersonProfile, error) {
	if memberID == uuid.Nil {
		return nil, apierr.Validation("missing member id")
	}
	prof, err := s.graph.GetProfile(ctx, memberID, s.apptWindow)
	if err != nil {
		return nil, apierr.RetrievalUnavailable(fmt.Errorf("load profile: %w", err))
	}
	if prof == nil {
		return nil, apierr.NotFound("family member")
	}
	actor := profile.ActorContext{ActorID: memberID}
	return s.gate.FilterProfile(prof, actor), nil
}

func (s *familyService) MedicationInteractions(ctx context.Context, memberID uuid.UUID) ([]profile.MedicationInteraction, error) {
	if memberID == uuid.Nil {
		return nil, apierr.Validation("missing member id")
	}
	out, err := s.graph.ActiveMedicationInteractions(ctx, memberID)
	if err != nil {
		return nil, apierr.RetrievalUnavailable(fmt.Errorf("medication interactions: %w", err))
	}
	return out, nil
}
