package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/venues/orderbook"
)

// scriptedFetcher replays a fixed sequence of GetOrder results, repeating
// the last entry once the script runs out.
type scriptedFetcher struct {
	mu     sync.Mutex
	script []fetchResult
	calls  int
}

type fetchResult struct {
	info orderbook.OrderInfo
	err  error
}

func (f *scriptedFetcher) GetOrder(_ context.Context, orderID string) (orderbook.OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	r := f.script[idx]
	info := r.info
	info.OrderID = orderID
	return info, r.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestTracker(f Fetcher) *Tracker {
	t := NewTracker(f)
	t.interval = 5 * time.Millisecond
	return t
}

func TestAwaitFulfilled(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{info: orderbook.OrderInfo{State: orderbook.OrderStateOpen}},
		{info: orderbook.OrderInfo{State: orderbook.OrderStateFulfilled, ExecutedBuyAmount: "123456"}},
	}}
	tracker := newTestTracker(fetcher)

	update, err := tracker.Await(context.Background(), "ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if update.Status != StatusFulfilled {
		t.Fatalf("status = %s, want fulfilled", update.Status)
	}
	if update.ExecutedOut == nil || update.ExecutedOut.String() != "123456" {
		t.Fatalf("executed out = %v", update.ExecutedOut)
	}
}

func TestAwaitMissingOrderFailsImmediately(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{err: oerr.New(oerr.CodeOrderNotFound, "order not found")},
	}}
	tracker := newTestTracker(fetcher)

	_, err := tracker.Await(context.Background(), "ord-404")
	if !oerr.HasCode(err, oerr.CodeOrderNotFound) {
		t.Fatalf("err = %v, want order not found", err)
	}
	if got := fetcher.callCount(); got != 1 {
		t.Fatalf("missing order was re-polled %d times", got)
	}
}

func TestAwaitTransportFailuresExhaustRetries(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{err: errors.New("connection refused")},
	}}
	tracker := newTestTracker(fetcher)

	_, err := tracker.Await(context.Background(), "ord-down")
	if !oerr.HasCode(err, oerr.CodeMaxRetriesExceeded) {
		t.Fatalf("err = %v, want max retries exceeded", err)
	}
	if got := fetcher.callCount(); got != maxConsecutiveFails {
		t.Fatalf("polled %d times, want %d", got, maxConsecutiveFails)
	}
}

func TestAwaitExpiredAndCancelled(t *testing.T) {
	cases := []struct {
		state orderbook.OrderState
		code  oerr.Code
	}{
		{orderbook.OrderStateExpired, oerr.CodeOrderNotFound},
		{orderbook.OrderStateCancelled, oerr.CodeUserRejected},
	}
	for _, tc := range cases {
		t.Run(string(tc.state), func(t *testing.T) {
			fetcher := &scriptedFetcher{script: []fetchResult{
				{info: orderbook.OrderInfo{State: tc.state}},
			}}
			tracker := newTestTracker(fetcher)
			update, err := tracker.Await(context.Background(), "ord-x")
			if !oerr.HasCode(err, tc.code) {
				t.Fatalf("err = %v, want code %d", err, tc.code)
			}
			if update.Status != StatusFailed {
				t.Fatalf("status = %s, want failed", update.Status)
			}
		})
	}
}

func TestTrackFansOutToEverySubscriber(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{info: orderbook.OrderInfo{State: orderbook.OrderStateOpen}},
		{info: orderbook.OrderInfo{State: orderbook.OrderStateFulfilled, ExecutedBuyAmount: "1"}},
	}}
	tracker := newTestTracker(fetcher)

	ctx := context.Background()
	ch1 := tracker.Track(ctx, "ord-dup")
	ch2 := tracker.Track(ctx, "ord-dup")

	for _, ch := range []<-chan Update{ch1, ch2} {
		update, ok := <-ch
		if !ok {
			t.Fatal("subscriber channel closed without a terminal update")
		}
		if !update.Terminal() {
			t.Fatalf("update not terminal: %+v", update)
		}
		if _, open := <-ch; open {
			t.Fatal("channel not closed after terminal update")
		}
	}
}

func TestConcurrentAwaitsOnOneOrder(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{info: orderbook.OrderInfo{State: orderbook.OrderStateOpen}},
		{info: orderbook.OrderInfo{State: orderbook.OrderStateFulfilled, ExecutedBuyAmount: "42"}},
	}}
	tracker := newTestTracker(fetcher)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	updates := make([]Update, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			updates[i], errs[i] = tracker.Await(context.Background(), "ord-shared")
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("waiter %d: %v", i, errs[i])
		}
		if updates[i].Status != StatusFulfilled {
			t.Fatalf("waiter %d status = %s, want fulfilled", i, updates[i].Status)
		}
	}
}

func TestAwaitContextCancelled(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResult{
		{info: orderbook.OrderInfo{State: orderbook.OrderStateOpen}},
	}}
	tracker := newTestTracker(fetcher)
	tracker.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := tracker.Await(ctx, "ord-slow")
	if !oerr.HasCode(err, oerr.CodeNetworkTimeout) {
		t.Fatalf("err = %v, want network timeout", err)
	}
}
