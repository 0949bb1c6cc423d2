package repositories

import (
	"context"
	"github.com/moin0420/hybrid-app/internal/entities"
	gocache "github.com/patrickmn/go-cache"
	"time"
)

const allRequirementsKey = "requirements:all"

type requirementRepository interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	GetAll(ctx context.Context) ([]entities.Requirement, error)
	GetByID(ctx context.Context, id int) (*entities.Requirement, error)
	Add(ctx context.Context, requirement *entities.Requirement) error
	Update(ctx context.Context, requirement entities.Requirement) error
	FindActiveClaim(ctx context.Context, recruiter string, excludeID int) (*entities.Requirement, error)
}

// CachedRequirements serves GetAll from a short lived cache for polling clients.
// Reads used for claim decisions always go to the underlying repository.
type CachedRequirements struct {
	repo  requirementRepository
	cache *gocache.Cache
	ttl   time.Duration
}

func NewCachedRequirements(repo requirementRepository, ttl time.Duration) *CachedRequirements {
	return &CachedRequirements{repo: repo, cache: gocache.New(ttl, 2*ttl+time.Second), ttl: ttl}
}

func (c *CachedRequirements) GetAll(ctx context.Context) ([]entities.Requirement, error) {
	if c.ttl <= 0 {
		return c.repo.GetAll(ctx)
	}

	if value, found := c.cache.Get(allRequirementsKey); found {
		return copyRequirements(value.([]entities.Requirement)), nil
	}

	requirements, err := c.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(allRequirementsKey, copyRequirements(requirements), gocache.DefaultExpiration)
	return requirements, nil
}

func (c *CachedRequirements) GetByID(ctx context.Context, id int) (*entities.Requirement, error) {
	return c.repo.GetByID(ctx, id)
}

func (c *CachedRequirements) FindActiveClaim(ctx context.Context, recruiter string, excludeID int) (*entities.Requirement, error) {
	return c.repo.FindActiveClaim(ctx, recruiter, excludeID)
}

func (c *CachedRequirements) Add(ctx context.Context, requirement *entities.Requirement) error {
	defer c.Invalidate()
	return c.repo.Add(ctx, requirement)
}

func (c *CachedRequirements) Update(ctx context.Context, requirement entities.Requirement) error {
	defer c.Invalidate()
	return c.repo.Update(ctx, requirement)
}

func (c *CachedRequirements) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// a read between the in-transaction invalidation and the commit may cache old rows
	defer c.Invalidate()
	return c.repo.InTransaction(ctx, fn)
}

func (c *CachedRequirements) Invalidate() {
	c.cache.Delete(allRequirementsKey)
}

func copyRequirements(requirements []entities.Requirement) []entities.Requirement {
	result := make([]entities.Requirement, len(requirements))
	copy(result, requirements)
	return result
}
