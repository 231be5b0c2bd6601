// Package comm provides the collectives of an in-process participant group:
// a root-to-all broadcast and a barrier. Participants are goroutines that
// share one memory block; a completed Receive or Barrier makes every write
// the sender made before the collective visible to the receiver.
package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// Root is the rank that broadcasts.
const Root = 0

type Signal int

const (
	Continue Signal = iota
	Stop
)

func (s Signal) String() string {
	switch s {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// Message is broadcast by the root before every derivative evaluation and
// once more, with Signal Stop, when the run is over.
type Message struct {
	Signal Signal
	Time   float64
}

// Communicator is one participant's view of its group. All blocking calls
// return early with an error wrapping dynamo.ErrCoordination when ctx is
// done.
type Communicator interface {
	Rank() int
	Size() int
	Broadcast(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Barrier(ctx context.Context) error
}

type group struct {
	size  int
	inbox []chan Message

	mu      sync.Mutex
	arrived int
	release chan struct{}
}

// Endpoint is the Communicator of one rank.
type Endpoint struct {
	g    *group
	rank int
}

// Group creates size connected endpoints; endpoint i has rank i.
func Group(size int) ([]*Endpoint, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size %d: %w", size, dynamo.ErrInvalidConfig)
	}
	g := &group{
		size:    size,
		inbox:   make([]chan Message, size),
		release: make(chan struct{}),
	}
	eps := make([]*Endpoint, size)
	for r := range eps {
		// one slot is enough: the root cannot send again before every
		// worker has passed the barrier that follows the previous message
		g.inbox[r] = make(chan Message, 1)
		eps[r] = &Endpoint{g: g, rank: r}
	}
	return eps, nil
}

func (e *Endpoint) Rank() int { return e.rank }
func (e *Endpoint) Size() int { return e.g.size }

func (e *Endpoint) Broadcast(ctx context.Context, msg Message) error {
	if e.rank != Root {
		return fmt.Errorf("%w: broadcast from rank %d", dynamo.ErrCoordination, e.rank)
	}
	for r := 1; r < e.g.size; r++ {
		select {
		case e.g.inbox[r] <- msg:
		case <-ctx.Done():
			return fmt.Errorf("%w: broadcast %s to rank %d: %w", dynamo.ErrCoordination, msg.Signal, r, ctx.Err())
		}
	}
	return nil
}

func (e *Endpoint) Receive(ctx context.Context) (Message, error) {
	if e.rank == Root {
		return Message{}, fmt.Errorf("%w: receive on root", dynamo.ErrCoordination)
	}
	select {
	case msg := <-e.g.inbox[e.rank]:
		return msg, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("%w: receive on rank %d: %w", dynamo.ErrCoordination, e.rank, ctx.Err())
	}
}

// Barrier blocks until every rank of the group has entered it. A rank
// that gives up on cancellation withdraws its arrival, so the group stays
// usable for later rounds.
func (e *Endpoint) Barrier(ctx context.Context) error {
	g := e.g
	g.mu.Lock()
	ch := g.release
	g.arrived++
	if g.arrived == g.size {
		g.arrived = 0
		g.release = make(chan struct{})
		close(ch)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.release != ch {
			// the last rank arrived while this one was giving up
			return nil
		}
		g.arrived--
		return fmt.Errorf("%w: barrier on rank %d: %w", dynamo.ErrCoordination, e.rank, ctx.Err())
	}
}

// Communicators returns the endpoints as the interface type.
func Communicators(eps []*Endpoint) []Communicator {
	out := make([]Communicator, len(eps))
	for i, ep := range eps {
		out[i] = ep
	}
	return out
}
