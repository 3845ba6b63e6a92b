package orchestrator

import "github.com/outcome-labs/oswap/internal/model"

// State is the execution machine's position. Transitions only move
// forward; a failed or completed run must be explicitly reset before the
// machine accepts another request.
type State string

const (
	StateIdle                 State = "idle"
	StateCollateralPending    State = "collateral_pending"
	StateApprovalPending      State = "approval_pending"
	StateExecuting            State = "executing"
	StateAwaitingOffchainFill State = "awaiting_offchain_fill"
	StateConfirming           State = "confirming"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
)

func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// StepID names one UI-visible stage of a run. The set of steps is fixed
// per action up front; stages that turn out to be unnecessary are skipped
// in place rather than removed, so the step count never shifts mid-run.
type StepID string

const (
	StepCollateral StepID = "collateral"
	StepApproval   StepID = "approval"
	StepExecute    StepID = "execute"
	StepConfirm    StepID = "confirm"
)

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
	StepSkipped  StepStatus = "skipped"
	StepFailed   StepStatus = "failed"
)

// rank orders statuses so progress is monotonic: a step never moves from
// complete back to active, even when a stage is re-entered.
func (s StepStatus) rank() int {
	switch s {
	case StepPending:
		return 0
	case StepActive:
		return 1
	case StepFailed:
		return 2
	case StepComplete, StepSkipped:
		return 3
	}
	return 0
}

type Substep struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
}

type Step struct {
	ID       StepID     `json:"id"`
	Status   StepStatus `json:"status"`
	Substeps []Substep  `json:"substeps,omitempty"`
}

// Plan is the fixed step sequence for one run.
type Plan struct {
	Steps []Step `json:"steps"`
}

// newPlan lays out the stages for an action. Every swap carries all four
// stages; position maintenance actions have no venue execution and
// confirm the conditional-tokens transaction directly.
func newPlan(action model.Action) Plan {
	switch action {
	case model.ActionRedeem, model.ActionRecover:
		return Plan{Steps: []Step{
			{ID: StepApproval, Status: StepPending, Substeps: []Substep{
				{Name: "outcome token authorization", Status: StepPending},
			}},
			{ID: StepExecute, Status: StepPending},
			{ID: StepConfirm, Status: StepPending},
		}}
	default:
		return Plan{Steps: []Step{
			{ID: StepCollateral, Status: StepPending, Substeps: []Substep{
				{Name: "collateral authorization", Status: StepPending},
				{Name: "mint position", Status: StepPending},
			}},
			{ID: StepApproval, Status: StepPending, Substeps: []Substep{
				{Name: "token authorization", Status: StepPending},
				{Name: "registry authorization", Status: StepPending},
			}},
			{ID: StepExecute, Status: StepPending},
			{ID: StepConfirm, Status: StepPending},
		}}
	}
}

func (p *Plan) step(id StepID) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// mark advances a step's status, never regressing it.
func (p *Plan) mark(id StepID, status StepStatus) {
	s := p.step(id)
	if s == nil {
		return
	}
	if status.rank() >= s.Status.rank() {
		s.Status = status
	}
}

// markSubstep advances a named substep, never regressing it.
func (p *Plan) markSubstep(id StepID, name string, status StepStatus) {
	s := p.step(id)
	if s == nil {
		return
	}
	for i := range s.Substeps {
		if s.Substeps[i].Name != name {
			continue
		}
		if status.rank() >= s.Substeps[i].Status.rank() {
			s.Substeps[i].Status = status
		}
		return
	}
}
