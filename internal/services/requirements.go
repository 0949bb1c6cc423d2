package services

import (
	"context"
	"github.com/asaskevich/EventBus"
	"github.com/go-playground/validator/v10"
	"github.com/moin0420/hybrid-app/internal/entities"
	"github.com/moin0420/hybrid-app/internal/logger"
	log "github.com/sirupsen/logrus"
)

// Requirements is the entry point used by the transport layer.
type Requirements struct {
	store       requirementStore
	coordinator *ClaimCoordinator
	validate    *validator.Validate
}

func NewRequirementsService(store requirementStore, bus EventBus.Bus) (*Requirements, error) {
	coordinator, err := NewClaimCoordinator(store, bus)
	if err != nil {
		return nil, err
	}
	return &Requirements{store: store, coordinator: coordinator, validate: coordinator.validate}, nil
}

func (s *Requirements) Coordinator() *ClaimCoordinator {
	return s.coordinator
}

// List returns every requirement ordered by id. Sorting and filtering is left to the client.
func (s *Requirements) List(ctx context.Context) ([]entities.Requirement, error) {
	requirements, err := s.store.GetAll(ctx)
	if err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).Errorf("failed to list requirements: %v", err)
		return nil, storeError("list requirements", err)
	}
	if requirements == nil {
		requirements = []entities.Requirement{}
	}
	return requirements, nil
}

// Create adds a requirement. Omitted fields get their defaults and the claim
// fields always start empty, a claim can only be made through Update.
func (s *Requirements) Create(ctx context.Context, fields entities.RequirementPatch) (*entities.Requirement, error) {
	if err := s.validate.Struct(fields); err != nil {
		return nil, invalidInput("%v", err)
	}

	fields.Working = nil
	fields.AssignedRecruiter = nil
	requirement := fields.Apply(entities.NewRequirement("", "", ""))

	if err := s.store.Add(ctx, &requirement); err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).Errorf("failed to add requirement: %v", err)
		return nil, storeError("add requirement", err)
	}
	log.Infof("requirement %d created", requirement.ID)
	return &requirement, nil
}

func (s *Requirements) Update(ctx context.Context, id int, fields entities.RequirementPatch,
	actingRecruiter string) (*entities.Requirement, error) {
	return s.coordinator.ProposeUpdate(ctx, id, fields, actingRecruiter)
}
