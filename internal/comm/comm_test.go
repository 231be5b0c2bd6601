package comm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/san-kum/kinsim/internal/dynamo"
)

func TestGroup_InvalidSize(t *testing.T) {
	if _, err := Group(0); !errors.Is(err, dynamo.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBroadcastReceive(t *testing.T) {
	eps, err := Group(4)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := eps[0].Broadcast(ctx, Message{Signal: Continue, Time: 1.25}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	for _, ep := range eps[1:] {
		msg, err := ep.Receive(ctx)
		if err != nil {
			t.Fatalf("rank %d receive: %v", ep.Rank(), err)
		}
		if msg.Signal != Continue || msg.Time != 1.25 {
			t.Errorf("rank %d got %+v", ep.Rank(), msg)
		}
	}
}

func TestRoleErrors(t *testing.T) {
	eps, _ := Group(2)
	ctx := context.Background()

	if err := eps[1].Broadcast(ctx, Message{}); !errors.Is(err, dynamo.ErrCoordination) {
		t.Errorf("worker broadcast: expected ErrCoordination, got %v", err)
	}
	if _, err := eps[0].Receive(ctx); !errors.Is(err, dynamo.ErrCoordination) {
		t.Errorf("root receive: expected ErrCoordination, got %v", err)
	}
}

func TestBarrier_Rounds(t *testing.T) {
	const size, rounds = 5, 50
	eps, _ := Group(size)
	ctx := context.Background()

	var mu sync.Mutex
	arrivals := make([]int, rounds)

	var wg sync.WaitGroup
	for _, ep := range eps {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				mu.Lock()
				arrivals[r]++
				mu.Unlock()
				if err := ep.Barrier(ctx); err != nil {
					t.Errorf("rank %d barrier: %v", ep.Rank(), err)
					return
				}
				mu.Lock()
				n := arrivals[r]
				mu.Unlock()
				if n != size {
					t.Errorf("rank %d left round %d with %d arrivals", ep.Rank(), r, n)
				}
			}
		}(ep)
	}
	wg.Wait()
}

func TestBarrier_Cancel(t *testing.T) {
	eps, _ := Group(3)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- eps[1].Barrier(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, dynamo.ErrCoordination) || !errors.Is(err, context.Canceled) {
			t.Errorf("expected cancelled coordination error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("barrier did not return after cancel")
	}
}

func TestBarrier_CancelWithdrawsArrival(t *testing.T) {
	eps, _ := Group(2)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := eps[1].Barrier(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected a cancelled barrier, got %v", err)
	}

	// rank 1 is gone, so rank 0 must wait rather than complete the round
	short, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	if err := eps[0].Barrier(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("barrier completed without rank 1: %v", err)
	}

	ctx := context.Background()
	errs := make(chan error, 2)
	for _, ep := range eps {
		go func(ep *Endpoint) { errs <- ep.Barrier(ctx) }(ep)
	}
	for range eps {
		select {
		case err := <-errs:
			if err != nil {
				t.Errorf("full round failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("full round did not complete")
		}
	}
}

func TestReceive_Cancel(t *testing.T) {
	eps, _ := Group(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := eps[1].Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSingleRank(t *testing.T) {
	eps, _ := Group(1)
	ctx := context.Background()
	if err := eps[0].Broadcast(ctx, Message{Signal: Stop}); err != nil {
		t.Errorf("broadcast: %v", err)
	}
	if err := eps[0].Barrier(ctx); err != nil {
		t.Errorf("barrier: %v", err)
	}
}

func TestSignalString(t *testing.T) {
	if Continue.String() != "continue" || Stop.String() != "stop" {
		t.Errorf("unexpected names %q %q", Continue, Stop)
	}
}
