package decision

import (
	"math"

	"github.com/kenwu020902/MT5-SDS/internal/model"
)

// proposalRing retains the most recent forwarded proposals, solely to
// suppress duplicate submissions. Suppression errs toward under-trading:
// a reservation is never retracted, even when the downstream submit fails.
type proposalRing struct {
	max   int
	items []model.TradeProposal
}

func newProposalRing(max int) *proposalRing {
	if max < 1 {
		max = 1
	}
	return &proposalRing{max: max, items: make([]model.TradeProposal, 0, max)}
}

// hasSimilar reports an existing same-symbol, same-direction proposal whose
// entry price is within tolerance of p.
func (r *proposalRing) hasSimilar(p model.TradeProposal, tolerance float64) bool {
	for i := range r.items {
		prev := &r.items[i]
		if prev.Symbol == p.Symbol && prev.Action == p.Action &&
			math.Abs(prev.EntryPrice-p.EntryPrice) < tolerance {
			return true
		}
	}
	return false
}

// add records p, evicting the oldest entry when full.
func (r *proposalRing) add(p model.TradeProposal) {
	if len(r.items) == r.max {
		copy(r.items, r.items[1:])
		r.items[len(r.items)-1] = p
		return
	}
	r.items = append(r.items, p)
}

func (r *proposalRing) len() int { return len(r.items) }
