package services

import (
	"context"
	"strings"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/go-playground/validator/v10"
	"github.com/moin0420/hybrid-app/internal/entities"
	"github.com/moin0420/hybrid-app/internal/events"
	"github.com/moin0420/hybrid-app/internal/logger"
	"github.com/moin0420/hybrid-app/internal/metrics"
	"github.com/moin0420/hybrid-app/internal/repositories"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const maxClaimAttempts = 3

// errClaimantChanged means the row changed between picking the recruiter to
// lock and reading it inside the transaction. The update is retried.
var errClaimantChanged = errors.New("claimant changed while waiting for lock")

type requirementStore interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	GetAll(ctx context.Context) ([]entities.Requirement, error)
	GetByID(ctx context.Context, id int) (*entities.Requirement, error)
	Add(ctx context.Context, requirement *entities.Requirement) error
	Update(ctx context.Context, requirement entities.Requirement) error
	FindActiveClaim(ctx context.Context, recruiter string, excludeID int) (*entities.Requirement, error)
}

// ClaimCoordinator is the only writer of requirement rows. It keeps at most one
// active claim per recruiter and clears claims on rows that can't be worked on.
//
// The conflict query and the write for a claim run inside one store transaction
// while holding a mutex for the claiming recruiter, so two concurrent claims by
// the same recruiter can't both pass the check.
type ClaimCoordinator struct {
	store    requirementStore
	bus      EventBus.Bus
	locks    *recruiterLocks
	validate *validator.Validate
}

func NewClaimCoordinator(store requirementStore, bus EventBus.Bus) (*ClaimCoordinator, error) {
	if store == nil {
		return nil, errors.New("requirement store is nil")
	}
	if bus == nil {
		return nil, errors.New("bus is nil")
	}

	validate, err := newValidator()
	if err != nil {
		return nil, err
	}

	return &ClaimCoordinator{
		store:    store,
		bus:      bus,
		locks:    newRecruiterLocks(),
		validate: validate,
	}, nil
}

// ProposeUpdate applies patch to the requirement with the given id and persists
// the resolved row. actingRecruiter is the identity claiming the row when the
// patch sets working to "yes".
func (c *ClaimCoordinator) ProposeUpdate(ctx context.Context, id int, patch entities.RequirementPatch,
	actingRecruiter string) (*entities.Requirement, error) {

	start := time.Now()
	updated, err := c.proposeUpdate(ctx, id, patch, strings.TrimSpace(actingRecruiter))
	metrics.UpdateDuration.Observe(time.Since(start).Seconds())
	metrics.UpdatesCounter.WithLabelValues(updateOutcome(err)).Inc()

	return updated, err
}

func (c *ClaimCoordinator) proposeUpdate(ctx context.Context, id int, patch entities.RequirementPatch,
	actingRecruiter string) (*entities.Requirement, error) {

	if patch.IsEmpty() {
		return nil, invalidInput("no fields to update")
	}
	if err := c.validate.Struct(patch); err != nil {
		return nil, invalidInput("%v", err)
	}

	for attempt := 1; ; attempt++ {
		committed, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}

		_, claimant, err := resolveClaim(*committed, patch, actingRecruiter)
		if err != nil {
			return nil, err
		}

		updated, _, err := c.persist(ctx, id, claimWrite{
			claimant: claimant,
			resolve: func(current entities.Requirement) (entities.Requirement, string, error) {
				return resolveClaim(current, patch, actingRecruiter)
			},
			onHeld: func(_ entities.Requirement, held entities.Requirement) (entities.Requirement, error) {
				return entities.Requirement{}, &ConflictError{Recruiter: claimant, HeldID: held.ID}
			},
		})
		if errors.Is(err, errClaimantChanged) && attempt < maxClaimAttempts {
			log.Debugf("requirement %d changed while waiting for claim lock, retrying", id)
			continue
		}

		var conflict *ConflictError
		switch {
		case errors.As(err, &conflict):
			c.bus.Publish(events.ClaimRejectedTopic, events.ClaimRejected{
				RequirementID: id, Recruiter: conflict.Recruiter, HeldID: conflict.HeldID,
			})
		case errors.Is(err, errClaimantChanged):
			log.WithField(logger.ErrorTypeField, logger.ErrorTypeClaim).
				Errorf("requirement %d kept changing under the claim lock, gave up after %d attempts", id, attempt)
			err = storeError("update requirement", err)
		}
		return updated, err
	}
}

// Reconcile re-applies the claim rules to a committed row, repairing rows that
// were written around the coordinator. When two rows hold a claim for the same
// recruiter, the one with the lowest id keeps it. It reports whether the row
// was changed.
func (c *ClaimCoordinator) Reconcile(ctx context.Context, id int) (bool, error) {
	for attempt := 1; ; attempt++ {
		committed, err := c.load(ctx, id)
		if err != nil {
			return false, err
		}
		_, holder := repairClaim(*committed)

		_, changed, err := c.persist(ctx, id, claimWrite{
			claimant: holder,
			resolve: func(current entities.Requirement) (entities.Requirement, string, error) {
				repaired, currentHolder := repairClaim(current)
				return repaired, currentHolder, nil
			},
			onHeld: func(repaired entities.Requirement, held entities.Requirement) (entities.Requirement, error) {
				// a stale claim on a closed row doesn't outrank a workable one
				if held.IsWorkable() && held.ID < repaired.ID {
					repaired.Working = ""
					repaired.AssignedRecruiter = ""
				}
				return repaired, nil
			},
			skipUnchanged: true,
		})
		if errors.Is(err, errClaimantChanged) && attempt < maxClaimAttempts {
			continue
		}
		if err != nil {
			return false, err
		}
		return changed, nil
	}
}

type claimWrite struct {
	// claimant is the recruiter locked for the write, "" when the row ends up unclaimed
	claimant string
	// resolve computes the row to persist from the committed row read inside the
	// transaction, along with its claimant
	resolve func(current entities.Requirement) (resolved entities.Requirement, claimant string, err error)
	// onHeld runs when the claimant already works on another row
	onHeld        func(resolved entities.Requirement, held entities.Requirement) (entities.Requirement, error)
	skipUnchanged bool
}

// persist locks the claimant, re-reads the row inside a transaction and writes
// the resolved row. The claimant derived from the fresh row must match the
// locked one, otherwise errClaimantChanged is returned and nothing is written.
func (c *ClaimCoordinator) persist(ctx context.Context, id int, w claimWrite) (*entities.Requirement, bool, error) {
	if w.claimant != "" {
		unlock := c.locks.Lock(w.claimant)
		defer unlock()
	}

	var before, stored entities.Requirement
	changed := false

	err := c.store.InTransaction(ctx, func(ctx context.Context) error {
		current, err := c.load(ctx, id)
		if err != nil {
			return err
		}
		before = *current

		resolved, claimant, err := w.resolve(*current)
		if err != nil {
			return err
		}
		if claimant != w.claimant {
			return errClaimantChanged
		}

		if claimant != "" {
			held, err := c.store.FindActiveClaim(ctx, claimant, id)
			if err != nil {
				return storeError("query active claims", err)
			}
			if held != nil {
				if resolved, err = w.onHeld(resolved, *held); err != nil {
					return err
				}
			}
		}

		if w.skipUnchanged && resolved.SameFields(*current) {
			stored = *current
			return nil
		}

		if err = c.store.Update(ctx, resolved); err != nil {
			if errors.Is(err, repositories.ErrRequirementNotFound) {
				return ErrNotFound
			}
			return storeError("update requirement", err)
		}

		updated, err := c.load(ctx, id)
		if err != nil {
			return err
		}
		stored = *updated
		changed = !stored.SameFields(before)
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).
				Errorf("failed to update requirement %d: %v", id, err)
		}
		return nil, false, err
	}

	c.publishClaimChanges(before, stored)
	return &stored, changed, nil
}

// load reads a row straight from the store, inside the transaction when ctx carries one.
func (c *ClaimCoordinator) load(ctx context.Context, id int) (*entities.Requirement, error) {
	requirement, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("load requirement", err)
	}
	if requirement == nil {
		return nil, ErrNotFound
	}
	return requirement, nil
}

func (c *ClaimCoordinator) publishClaimChanges(before, after entities.Requirement) {
	if before.IsClaimed() && !after.IsClaimedBy(before.AssignedRecruiter) {
		reason := "cleared"
		switch {
		case !after.IsWorkable():
			reason = "not workable"
		case after.IsClaimed():
			reason = "taken over by " + after.AssignedRecruiter
		}
		c.bus.Publish(events.ClaimReleasedTopic, events.ClaimReleased{
			RequirementID: after.ID, Recruiter: before.AssignedRecruiter, Reason: reason,
		})
	}

	if after.IsClaimed() && !before.IsClaimedBy(after.AssignedRecruiter) {
		c.bus.Publish(events.ClaimAcquiredTopic, events.ClaimAcquired{
			RequirementID: after.ID, Recruiter: after.AssignedRecruiter,
		})
	}
}

// resolveClaim overlays patch on current and applies the claim rules. It
// returns the row to persist and the recruiter claiming it ("" when the row
// ends up unclaimed).
func resolveClaim(current entities.Requirement, patch entities.RequirementPatch,
	actingRecruiter string) (entities.Requirement, string, error) {

	resolved := patch.Apply(current)

	// the workability gate wins over a claim sent in the same request
	if !resolved.IsWorkable() {
		resolved.Working = ""
		resolved.AssignedRecruiter = ""
		return resolved, "", nil
	}

	if !resolved.IsClaimed() {
		resolved.AssignedRecruiter = ""
		return resolved, "", nil
	}

	// A request setting working without naming an assignee is a claim by the
	// acting recruiter. Otherwise an unchanged assignee keeps the claim, so a
	// colleague editing the row doesn't take it over.
	claimsForActing := patch.Working != nil && patch.AssignedRecruiter == nil && actingRecruiter != ""

	claimant := actingRecruiter
	switch {
	case !claimsForActing && current.IsClaimed() && current.AssignedRecruiter != "" &&
		strings.TrimSpace(resolved.AssignedRecruiter) == current.AssignedRecruiter:
		claimant = current.AssignedRecruiter
	case claimant == "":
		claimant = strings.TrimSpace(resolved.AssignedRecruiter)
	}

	if claimant == "" {
		return entities.Requirement{}, "", invalidInput("recruiter name is required to claim a requisition")
	}

	resolved.AssignedRecruiter = claimant
	return resolved, claimant, nil
}

// repairClaim normalizes a committed row without any client input.
func repairClaim(current entities.Requirement) (entities.Requirement, string) {
	repaired := current
	repaired.Working = entities.NormalizeWorking(repaired.Working)
	repaired.AssignedRecruiter = strings.TrimSpace(repaired.AssignedRecruiter)

	if !repaired.IsWorkable() || !repaired.IsClaimed() || repaired.AssignedRecruiter == "" {
		repaired.Working = ""
		repaired.AssignedRecruiter = ""
		return repaired, ""
	}
	return repaired, repaired.AssignedRecruiter
}

func updateOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
