// Package planlifecycle implements the Plan Lifecycle state machine (C8):
// DRAFT -> READY_FOR_APPROVAL -> APPROVED -> EXECUTING -> EXECUTED/FAILED,
// or REJECTED from READY_FOR_APPROVAL. Every transition is persisted before
// it is acted on, so a crash mid-cycle leaves the plan in a recoverable
// state (spec.md §4.8).
package planlifecycle

import (
	"fmt"

	"github.com/aristath/sentinel-trader/internal/domain"
)

// ErrInvalidTransition is returned when a transition does not match the
// state machine's allowed edges.
type ErrInvalidTransition struct {
	From domain.PlanStatus
	To   domain.PlanStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid plan transition: %s -> %s", e.From, e.To)
}

var allowed = map[domain.PlanStatus][]domain.PlanStatus{
	domain.PlanDraft:             {domain.PlanReadyForApproval},
	domain.PlanReadyForApproval:  {domain.PlanApproved, domain.PlanRejected},
	domain.PlanApproved:          {domain.PlanExecuting},
	domain.PlanExecuting:         {domain.PlanExecuted, domain.PlanFailed},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to domain.PlanStatus) bool {
	for _, candidate := range allowed[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Persister is the durability contract the lifecycle depends on: every
// transition must be written before the caller proceeds.
type Persister interface {
	Persist(plan *domain.TradingPlan) error
}

// Advance validates and applies a transition, persisting the new state
// before returning. The plan's in-memory Status is only updated after a
// successful persist, so a failed write leaves the caller able to retry
// from the last known-good state.
func Advance(plan *domain.TradingPlan, to domain.PlanStatus, persister Persister) error {
	if !CanTransition(plan.Status, to) {
		return &ErrInvalidTransition{From: plan.Status, To: to}
	}
	prev := plan.Status
	plan.Status = to
	if err := persister.Persist(plan); err != nil {
		plan.Status = prev
		return fmt.Errorf("persist transition %s->%s: %w", prev, to, err)
	}
	return nil
}

// ReadyForApproval moves a DRAFT plan to READY_FOR_APPROVAL once the
// Coordinator has produced a full workflow summary without escalation.
func ReadyForApproval(plan *domain.TradingPlan, persister Persister) error {
	return Advance(plan, domain.PlanReadyForApproval, persister)
}

// Approve records operator (or auto-approval policy) sign-off.
func Approve(plan *domain.TradingPlan, persister Persister) error {
	return Advance(plan, domain.PlanApproved, persister)
}

// Reject records that the plan will not be executed.
func Reject(plan *domain.TradingPlan, persister Persister) error {
	return Advance(plan, domain.PlanRejected, persister)
}

// BeginExecution marks the plan as actively submitting orders.
func BeginExecution(plan *domain.TradingPlan, persister Persister) error {
	return Advance(plan, domain.PlanExecuting, persister)
}

// Complete marks every order as having been submitted to the broker.
func Complete(plan *domain.TradingPlan, persister Persister) error {
	return Advance(plan, domain.PlanExecuted, persister)
}

// Fail marks execution as having errored partway through.
func Fail(plan *domain.TradingPlan, persister Persister) error {
	return Advance(plan, domain.PlanFailed, persister)
}
