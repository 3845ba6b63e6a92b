// Package quotes fans a swap request out to every registered venue and
// collects one result per venue.
package quotes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/outcome-labs/oswap/internal/chain"
	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/model"
	"github.com/outcome-labs/oswap/internal/venues"
)

const defaultVenueTimeout = 10 * time.Second

// Result is one venue's outcome: a quote or the error that prevented one.
// Every fan-out produces exactly one Result per venue.
type Result struct {
	Venue model.Venue
	Quote model.Quote
	Err   error
}

// Aggregator queries venue strategies concurrently.
type Aggregator struct {
	registry     *venues.Registry
	venueTimeout time.Duration
}

func NewAggregator(registry *venues.Registry) *Aggregator {
	return &Aggregator{registry: registry, venueTimeout: defaultVenueTimeout}
}

// FetchAll queries every registered venue concurrently and returns one
// result per venue, in registration order. A venue that errors or times
// out contributes a Result with Err set; it never suppresses the others.
func (a *Aggregator) FetchAll(ctx context.Context, h chain.Handle, req model.SwapRequest) []Result {
	strategies := a.registry.All()
	results := make([]Result, len(strategies))

	var wg sync.WaitGroup
	for i, s := range strategies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vctx, cancel := context.WithTimeout(ctx, a.venueTimeout)
			defer cancel()

			quote, err := s.Quote(vctx, h, req)
			if err != nil {
				if vctx.Err() == context.DeadlineExceeded {
					err = oerr.Wrap(oerr.CodeNetworkTimeout, "venue quote timed out", err)
				}
				results[i] = Result{Venue: s.Venue(), Err: oerr.Classify(err)}
				return
			}
			results[i] = Result{Venue: s.Venue(), Quote: quote}
		}()
	}
	wg.Wait()
	return results
}

// FetchOne queries a single venue.
func (a *Aggregator) FetchOne(ctx context.Context, h chain.Handle, req model.SwapRequest) (model.Quote, error) {
	s, ok := a.registry.Get(req.Venue)
	if !ok {
		return model.Quote{}, oerr.New(oerr.CodeUnsupported, "no strategy registered for venue "+string(req.Venue))
	}
	vctx, cancel := context.WithTimeout(ctx, a.venueTimeout)
	defer cancel()
	quote, err := s.Quote(vctx, h, req)
	if err != nil {
		if vctx.Err() == context.DeadlineExceeded {
			return model.Quote{}, oerr.Wrap(oerr.CodeNetworkTimeout, "venue quote timed out", err)
		}
		return model.Quote{}, oerr.Classify(err)
	}
	return quote, nil
}

// Best picks the successful quote with the highest output amount. Ties
// keep the earlier-registered venue. Returns false when every venue
// failed.
func Best(results []Result) (Result, bool) {
	best := Result{}
	found := false
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if !found || r.Quote.AmountOut.Cmp(best.Quote.AmountOut) > 0 {
			best = r
			found = true
		}
	}
	return best, found
}

// Sorted returns successful results ordered by descending output, with
// failed venues after them in registration order.
func Sorted(results []Result) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := out[i], out[j]
		if (oi.Err == nil) != (oj.Err == nil) {
			return oi.Err == nil
		}
		if oi.Err != nil {
			return false
		}
		return oi.Quote.AmountOut.Cmp(oj.Quote.AmountOut) > 0
	})
	return out
}
