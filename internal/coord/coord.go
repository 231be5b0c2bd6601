// Package coord keeps the participants of one group in lockstep around
// every derivative evaluation requested by the root's integrator.
//
// Per evaluation the root unpacks the solver's working vector into the
// shared block and broadcasts Continue; every participant, root included,
// derives its partition of the shared derivative; all meet at a barrier;
// the root packs the derivative back for the solver. When the integrator
// reaches a terminal state the root broadcasts Stop once and the workers
// return.
//
// A participant whose derivation fails records the failure in the block
// and still enters the barrier, so the rest of the group is never left
// waiting on it. After the barrier the root reads every rank's record and
// fails the evaluation if any rank failed; workers keep serving until Stop.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/san-kum/kinsim/internal/comm"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/kinetic"
)

// Physics derives the time derivative on the half-open range of spatial
// points [start, end). Calls for disjoint ranges may run concurrently.
type Physics interface {
	Points() int
	Derive(start, end int, t float64, in, out *kinetic.State) error
}

// StepParticipant is one member of the group taking part in an evaluation.
type StepParticipant interface {
	Rank() int
	Participate(ctx context.Context, t float64) error
}

// Block is the memory shared by every participant of a group: the state
// the root publishes, the derivative every participant fills, and the
// derivation failures of the current evaluation.
type Block struct {
	Layout kinetic.Layout
	State  *kinetic.State
	Deriv  *kinetic.State

	mu     sync.Mutex
	failed map[int]error
}

func NewBlock(layout kinetic.Layout) *Block {
	return &Block{
		Layout: layout,
		State:  kinetic.NewState(layout),
		Deriv:  kinetic.NewState(layout),
	}
}

type Option func(*participant)

func WithLogger(l *zap.Logger) Option {
	return func(p *participant) {
		if l != nil {
			p.logger = l
		}
	}
}

type participant struct {
	comm    comm.Communicator
	physics Physics
	block   *Block
	start   int
	end     int
	evals   int
	logger  *zap.Logger
}

func newParticipant(c comm.Communicator, physics Physics, block *Block, opts []Option) participant {
	start, end := dynamo.Partition(physics.Points(), c.Size(), c.Rank())
	p := participant{
		comm:    c,
		physics: physics,
		block:   block,
		start:   start,
		end:     end,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&p)
	}
	p.logger = p.logger.With(zap.Int("rank", c.Rank()))
	return p
}

// report records the outcome of rank's derivation for the current
// evaluation. It must happen before the rank enters the barrier.
func (b *Block) report(rank int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failed, rank)
		return
	}
	if b.failed == nil {
		b.failed = make(map[int]error)
	}
	b.failed[rank] = err
}

// Failure joins, in rank order, the derivation failures reported for the
// current evaluation. It is only meaningful after the barrier.
func (b *Block) Failure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.failed) == 0 {
		return nil
	}
	ranks := make([]int, 0, len(b.failed))
	for r := range b.failed {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	errs := make([]error, len(ranks))
	for i, r := range ranks {
		errs[i] = fmt.Errorf("rank %d: %w", r, b.failed[r])
	}
	return errors.Join(errs...)
}

func (p *participant) Rank() int { return p.comm.Rank() }

// Evaluations is the number of completed evaluations this participant
// took part in.
func (p *participant) Evaluations() int { return p.evals }

// Range is the partition of spatial points owned by this participant.
func (p *participant) Range() (start, end int) { return p.start, p.end }

// Participate derives this participant's partition at t and waits at the
// barrier. The barrier is entered even when derivation fails; the failure
// is returned wrapped in dynamo.ErrCoordination.
func (p *participant) Participate(ctx context.Context, t float64) error {
	derr, berr := p.participate(ctx, t)
	if derr != nil {
		return fmt.Errorf("%w: rank %d at t=%g: %w", dynamo.ErrCoordination, p.Rank(), t, derr)
	}
	return berr
}

func (p *participant) participate(ctx context.Context, t float64) (derr, berr error) {
	derr = p.physics.Derive(p.start, p.end, t, p.block.State, p.block.Deriv)
	if derr != nil {
		p.logger.Error("derivative failed", zap.Float64("time", t), zap.Error(derr))
	}
	p.block.report(p.Rank(), derr)
	if berr = p.comm.Barrier(ctx); berr != nil {
		return derr, berr
	}
	if derr == nil {
		p.evals++
	}
	return derr, nil
}

func checkBlock(physics Physics, block *Block) error {
	g := block.Layout.Grid()
	if physics.Points() != g.SpatialPoints() {
		return fmt.Errorf("physics has %d spatial points, layout %d: %w",
			physics.Points(), g.SpatialPoints(), dynamo.ErrSizeMismatch)
	}
	return nil
}
