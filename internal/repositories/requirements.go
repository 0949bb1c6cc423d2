package repositories

import (
	"context"
	"errors"
	"github.com/moin0420/hybrid-app/internal/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"time"
)

var ErrRequirementNotFound = errors.New("requirement not found")

type txKey struct{}

var requirementColumns = []string{
	"client_name", "requirement_id", "job_title", "status", "slots",
	"assigned_recruiter", "working", "updated_at",
}

type Requirements struct {
	db *gorm.DB
}

func NewRequirementsRepository(db *gorm.DB) *Requirements {
	return &Requirements{db: db}
}

// conn returns the transaction carried by ctx, if any.
func (repo *Requirements) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return repo.db.WithContext(ctx)
}

// InTransaction runs fn in a single transaction. Repository calls made with the
// context passed to fn join that transaction.
func (repo *Requirements) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (repo *Requirements) GetAll(ctx context.Context) ([]entities.Requirement, error) {
	var requirements []entities.Requirement
	if err := repo.conn(ctx).Order("id ASC").Find(&requirements).Error; err != nil {
		return nil, err
	}
	return requirements, nil
}

func (repo *Requirements) GetByID(ctx context.Context, id int) (*entities.Requirement, error) {
	var requirement entities.Requirement
	res := repo.conn(ctx).Where("id = ?", id).Limit(1).Find(&requirement)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &requirement, nil
}

func (repo *Requirements) Add(ctx context.Context, requirement *entities.Requirement) error {
	requirement.ID = 0
	return repo.conn(ctx).Create(requirement).Error
}

// Update overwrites every column of the row with requirement.ID.
func (repo *Requirements) Update(ctx context.Context, requirement entities.Requirement) error {
	requirement.UpdatedAt = time.Now()
	res := repo.conn(ctx).Model(&entities.Requirement{}).
		Where("id = ?", requirement.ID).
		Select(requirementColumns).
		Updates(&requirement)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRequirementNotFound
	}
	return nil
}

// FindActiveClaim returns a row other than excludeID that recruiter is working on,
// whether or not that row can still be worked. Workable rows come first, then
// the lowest id.
func (repo *Requirements) FindActiveClaim(ctx context.Context, recruiter string, excludeID int) (*entities.Requirement, error) {
	var requirement entities.Requirement
	res := repo.conn(ctx).
		Where("working = ? AND assigned_recruiter = ? AND id <> ?", entities.WorkingYes, recruiter, excludeID).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN status = ? AND slots > 0 THEN 0 ELSE 1 END, id ASC",
			Vars:               []any{entities.StatusOpen},
			WithoutParentheses: true,
		}}).
		Limit(1).
		Find(&requirement)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &requirement, nil
}
