package venues

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcome-labs/oswap/internal/chain"
	"github.com/outcome-labs/oswap/internal/model"
)

// ApprovalPlan names the spender a venue needs and whether the grant runs
// through the intermediate allowance registry.
type ApprovalPlan struct {
	Spender  common.Address
	Registry common.Address
	TwoHop   bool
}

// ExecutionKind distinguishes direct on-chain settlement from off-chain
// order submission.
type ExecutionKind int

const (
	ExecutionOnchain ExecutionKind = iota
	ExecutionOffchain
)

// Execution is the outcome of a venue's execute step: either a pending
// on-chain transaction to confirm, or an off-chain order id to track.
type Execution struct {
	Kind    ExecutionKind
	Pending *chain.PendingTx
	OrderID string
}

// Strategy is one venue's quoting, approval and execution behavior. The
// orchestrator dispatches on the selected venue exactly once; no step
// re-tests the venue string.
type Strategy interface {
	Venue() model.Venue
	Quote(ctx context.Context, h chain.Handle, req model.SwapRequest) (model.Quote, error)
	ApprovalPlan() ApprovalPlan
	Execute(ctx context.Context, h chain.Handle, req model.SwapRequest, quote model.Quote) (Execution, error)
}

// Registry holds the configured strategies keyed by venue.
type Registry struct {
	strategies map[model.Venue]Strategy
	order      []model.Venue
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[model.Venue]Strategy, len(strategies))}
	for _, s := range strategies {
		if _, dup := r.strategies[s.Venue()]; dup {
			continue
		}
		r.strategies[s.Venue()] = s
		r.order = append(r.order, s.Venue())
	}
	return r
}

func (r *Registry) Get(v model.Venue) (Strategy, bool) {
	s, ok := r.strategies[v]
	return s, ok
}

// All returns strategies in registration order.
func (r *Registry) All() []Strategy {
	out := make([]Strategy, 0, len(r.order))
	for _, v := range r.order {
		out = append(out, r.strategies[v])
	}
	return out
}
