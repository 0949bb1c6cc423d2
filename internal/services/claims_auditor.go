package services

import (
	"context"
	"github.com/moin0420/hybrid-app/internal/entities"
	"github.com/moin0420/hybrid-app/internal/logger"
	"github.com/moin0420/hybrid-app/internal/metrics"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"time"
)

const (
	InvariantSingleClaim     = "single_claim"
	InvariantClaimAssignment = "claim_assignment"
	InvariantNoClaimNoAssign = "no_claim_no_assignment"
	InvariantWorkabilityGate = "workability_gate"
)

type claimReconciler interface {
	Reconcile(ctx context.Context, id int) (bool, error)
}

type requirementLister interface {
	GetAll(ctx context.Context) ([]entities.Requirement, error)
}

// AuditReport summarizes one pass of the claims auditor.
type AuditReport struct {
	Rows         int
	ActiveClaims int
	Violations   map[string][]int
	Repaired     []int
}

func (r AuditReport) HasViolations() bool {
	return len(r.Violations) > 0
}

// ClaimsAuditor periodically checks the whole table for rows breaking the claim
// rules, which can only appear when the table is edited around the service,
// and repairs them through the coordinator.
type ClaimsAuditor struct {
	requirements requirementLister
	reconciler   claimReconciler
	cron         *cron.Cron
	timeout      time.Duration
}

func NewClaimsAuditor(requirements requirementLister, reconciler claimReconciler, schedule string) (*ClaimsAuditor, error) {

	if requirements == nil || reconciler == nil {
		return nil, errors.New("claims auditor needs a requirement source and a reconciler")
	}

	a := &ClaimsAuditor{
		requirements: requirements,
		reconciler:   reconciler,
		cron:         cron.New(),
		timeout:      time.Minute,
	}

	if schedule == "" {
		return a, nil
	}

	_, err := a.cron.AddFunc(schedule, a.runScheduled)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *ClaimsAuditor) Start() {
	a.cron.Start()
	log.Info("claims auditor started")
}

func (a *ClaimsAuditor) Stop() {
	<-a.cron.Stop().Done()
}

func (a *ClaimsAuditor) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	report, err := a.Audit(ctx)
	if err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeAudit).Errorf("claims audit failed: %v", err)
		return
	}
	if report.HasViolations() {
		log.WithField("violations", report.Violations).
			Warnf("claims audit found broken rows, repaired %d", len(report.Repaired))
	}
}

// Audit checks every row against the claim rules and reconciles offending rows.
// Rows must be read from the store directly, a cached list could hide a repair.
func (a *ClaimsAuditor) Audit(ctx context.Context) (AuditReport, error) {
	rows, err := a.requirements.GetAll(ctx)
	if err != nil {
		return AuditReport{}, storeError("list requirements", err)
	}

	report := AuditReport{Rows: len(rows), Violations: findViolations(rows)}

	offending := lo.Uniq(lo.Flatten(lo.Values(report.Violations)))
	for _, id := range offending {
		changed, err := a.reconciler.Reconcile(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return report, err
		}
		if changed {
			report.Repaired = append(report.Repaired, id)
		}
	}

	for invariant, ids := range report.Violations {
		metrics.InvariantViolations.WithLabelValues(invariant).Add(float64(len(ids)))
	}

	if len(report.Repaired) > 0 {
		if rows, err = a.requirements.GetAll(ctx); err != nil {
			return report, storeError("list requirements", err)
		}
	}
	report.ActiveClaims = lo.CountBy(rows, func(row entities.Requirement) bool {
		return row.IsClaimed()
	})
	metrics.ActiveClaims.Set(float64(report.ActiveClaims))

	return report, nil
}

// findViolations maps each broken invariant to the ids of the offending rows.
func findViolations(rows []entities.Requirement) map[string][]int {
	violations := map[string][]int{}
	add := func(invariant string, id int) {
		violations[invariant] = append(violations[invariant], id)
	}

	for _, row := range rows {
		claimed := entities.NormalizeWorking(row.Working) == entities.WorkingYes
		switch {
		case !row.IsWorkable() && (row.Working != "" || row.AssignedRecruiter != ""):
			add(InvariantWorkabilityGate, row.ID)
		case claimed && (row.Working != entities.WorkingYes || row.AssignedRecruiter == ""):
			add(InvariantClaimAssignment, row.ID)
		case !claimed && (row.Working != "" || row.AssignedRecruiter != ""):
			add(InvariantNoClaimNoAssign, row.ID)
		}
	}

	claims := lo.GroupBy(lo.Filter(rows, func(row entities.Requirement, _ int) bool {
		return row.IsWorkable() && row.IsClaimed() && row.AssignedRecruiter != ""
	}), func(row entities.Requirement) string {
		return row.AssignedRecruiter
	})
	for _, held := range claims {
		// rows come ordered by id, the first one keeps the claim
		for _, row := range held[1:] {
			add(InvariantSingleClaim, row.ID)
		}
	}

	return violations
}
