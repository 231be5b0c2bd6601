package coord

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/san-kum/kinsim/internal/comm"
	"github.com/san-kum/kinsim/internal/dynamo"
)

// RootDriver is the participant that owns the integrator. It is the
// integrator's dynamo.RhsEvaluator.
type RootDriver struct {
	participant

	broadcasts int
	stopOnce   sync.Once
	stopped    bool
	stopErr    error
}

func NewRootDriver(c comm.Communicator, physics Physics, block *Block, opts ...Option) (*RootDriver, error) {
	if c.Rank() != comm.Root {
		return nil, fmt.Errorf("%w: root driver on rank %d", dynamo.ErrCoordination, c.Rank())
	}
	if err := checkBlock(physics, block); err != nil {
		return nil, err
	}
	return &RootDriver{participant: newParticipant(c, physics, block, opts)}, nil
}

// Broadcasts is the number of Continue messages sent.
func (r *RootDriver) Broadcasts() int { return r.broadcasts }

func (r *RootDriver) Stopped() bool { return r.stopped }

// Evaluate runs one lockstep evaluation of the derivative at (t, y). If
// any rank failed to derive its partition, ydot is left untouched and the
// failure is returned wrapped in dynamo.ErrCoordination.
func (r *RootDriver) Evaluate(ctx context.Context, t float64, y, ydot dynamo.PackedState) error {
	if r.stopped {
		return fmt.Errorf("%w: evaluation after stop", dynamo.ErrCoordination)
	}
	if err := r.block.Layout.Unpack(y, r.block.State); err != nil {
		return err
	}
	// the send publishes the unpacked block to the workers
	if err := r.comm.Broadcast(ctx, comm.Message{Signal: comm.Continue, Time: t}); err != nil {
		return err
	}
	r.broadcasts++

	if _, err := r.participate(ctx, t); err != nil {
		return err
	}
	if err := r.block.Failure(); err != nil {
		return fmt.Errorf("%w: evaluation at t=%g: %w", dynamo.ErrCoordination, t, err)
	}
	return r.block.Layout.Pack(r.block.Deriv, ydot)
}

// Stop broadcasts Stop to every worker. Only the first call sends; later
// calls return the first call's result.
func (r *RootDriver) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.stopped = true
		r.stopErr = r.comm.Broadcast(ctx, comm.Message{Signal: comm.Stop})
		r.logger.Debug("stop broadcast",
			zap.Int("evaluations", r.evals),
			zap.Error(r.stopErr))
	})
	return r.stopErr
}
