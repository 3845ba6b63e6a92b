// Package orders tracks submitted off-chain orders until they reach a
// terminal state.
package orders

import (
	"context"
	"math/big"
	"sync"
	"time"

	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/venues/orderbook"
)

const (
	defaultPollInterval = 10 * time.Second
	maxConsecutiveFails = 5
)

// Status is the tracker's view of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusFailed    Status = "failed"
)

// Update is delivered once per poll that changes the order's state, and
// exactly once when the order becomes terminal.
type Update struct {
	OrderID     string
	Status      Status
	ExecutedOut *big.Int
	Err         error
}

func (u Update) Terminal() bool {
	return u.Status == StatusFulfilled || u.Status == StatusFailed
}

// Fetcher is the slice of the order book client the tracker needs.
type Fetcher interface {
	GetOrder(ctx context.Context, orderID string) (orderbook.OrderInfo, error)
}

// Tracker polls order status on a fixed interval. Each order is tracked
// by at most one goroutine; re-subscribing to an in-flight order fans
// the terminal update out to every subscriber's own channel.
type Tracker struct {
	fetcher  Fetcher
	interval time.Duration

	mu     sync.Mutex
	active map[string]*tracking
}

// tracking is one polled order and its subscribers. Every subscriber
// gets a 1-buffered channel so the terminal send never blocks.
type tracking struct {
	subs []chan Update
}

func NewTracker(fetcher Fetcher) *Tracker {
	return &Tracker{
		fetcher:  fetcher,
		interval: defaultPollInterval,
		active:   make(map[string]*tracking),
	}
}

// Track starts polling orderID and returns a channel that receives the
// terminal update and is then closed. Calling Track again for an order
// already being polled subscribes to the same poll loop.
func (t *Tracker) Track(ctx context.Context, orderID string) <-chan Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Update, 1)
	if tr, ok := t.active[orderID]; ok {
		tr.subs = append(tr.subs, ch)
		return ch
	}
	t.active[orderID] = &tracking{subs: []chan Update{ch}}
	go t.poll(ctx, orderID)
	return ch
}

func (t *Tracker) poll(ctx context.Context, orderID string) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	failures := 0
	for {
		update, terminal := t.checkOnce(ctx, orderID, &failures)
		if terminal {
			t.finish(orderID, update)
			return
		}
		select {
		case <-ctx.Done():
			t.finish(orderID, Update{OrderID: orderID, Status: StatusFailed, Err: oerr.Wrap(oerr.CodeNetworkTimeout, "order tracking cancelled", ctx.Err())})
			return
		case <-ticker.C:
		}
	}
}

// finish removes the order from the active set, then delivers the
// terminal update to every subscriber and closes their channels.
func (t *Tracker) finish(orderID string, update Update) {
	t.mu.Lock()
	tr := t.active[orderID]
	delete(t.active, orderID)
	t.mu.Unlock()
	if tr == nil {
		return
	}
	for _, ch := range tr.subs {
		ch <- update
		close(ch)
	}
}

// checkOnce performs one status fetch. A missing order fails immediately;
// transient transport errors are retried up to maxConsecutiveFails times.
func (t *Tracker) checkOnce(ctx context.Context, orderID string, failures *int) (Update, bool) {
	info, err := t.fetcher.GetOrder(ctx, orderID)
	if err != nil {
		if oerr.HasCode(err, oerr.CodeOrderNotFound) {
			return Update{OrderID: orderID, Status: StatusFailed, Err: err}, true
		}
		*failures++
		if *failures >= maxConsecutiveFails {
			return Update{
				OrderID: orderID,
				Status:  StatusFailed,
				Err:     oerr.Wrap(oerr.CodeMaxRetriesExceeded, "order status unavailable after repeated failures", err),
			}, true
		}
		return Update{OrderID: orderID, Status: StatusPending, Err: err}, false
	}
	*failures = 0

	switch info.State {
	case orderbook.OrderStateFulfilled:
		executed, _ := info.ExecutedOut()
		return Update{OrderID: orderID, Status: StatusFulfilled, ExecutedOut: executed}, true
	case orderbook.OrderStateExpired:
		return Update{
			OrderID: orderID,
			Status:  StatusFailed,
			Err:     oerr.New(oerr.CodeOrderNotFound, "order expired before fill"),
		}, true
	case orderbook.OrderStateCancelled:
		return Update{
			OrderID: orderID,
			Status:  StatusFailed,
			Err:     oerr.New(oerr.CodeUserRejected, "order cancelled"),
		}, true
	default:
		return Update{OrderID: orderID, Status: StatusPending}, false
	}
}

// Await blocks until the order reaches a terminal state or ctx expires.
func (t *Tracker) Await(ctx context.Context, orderID string) (Update, error) {
	ch := t.Track(ctx, orderID)
	select {
	case update, ok := <-ch:
		if !ok {
			return Update{}, oerr.New(oerr.CodeInternal, "order tracker closed without terminal update")
		}
		if update.Status == StatusFailed {
			return update, update.Err
		}
		return update, nil
	case <-ctx.Done():
		return Update{}, oerr.Wrap(oerr.CodeNetworkTimeout, "order tracking cancelled", ctx.Err())
	}
}
