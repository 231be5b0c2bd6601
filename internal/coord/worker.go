package coord

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/san-kum/kinsim/internal/comm"
	"github.com/san-kum/kinsim/internal/dynamo"
)

// WorkerLoop mirrors the root's evaluations on a non-root rank.
type WorkerLoop struct {
	participant
}

func NewWorkerLoop(c comm.Communicator, physics Physics, block *Block, opts ...Option) (*WorkerLoop, error) {
	if c.Rank() == comm.Root {
		return nil, fmt.Errorf("%w: worker loop on root rank", dynamo.ErrCoordination)
	}
	if err := checkBlock(physics, block); err != nil {
		return nil, err
	}
	return &WorkerLoop{participant: newParticipant(c, physics, block, opts)}, nil
}

// Run takes part in one evaluation per Continue until Stop arrives, and
// returns the number of evaluations completed. A failed derivation is left
// for the root to report; only collective failures end the loop early.
func (w *WorkerLoop) Run(ctx context.Context) (int, error) {
	w.logger.Debug("worker started", zap.Int("start", w.start), zap.Int("end", w.end))
	for {
		msg, err := w.comm.Receive(ctx)
		if err != nil {
			return w.evals, err
		}
		switch msg.Signal {
		case comm.Stop:
			w.logger.Debug("worker stopped", zap.Int("evaluations", w.evals))
			return w.evals, nil
		case comm.Continue:
			if _, err := w.participate(ctx, msg.Time); err != nil {
				return w.evals, err
			}
		default:
			return w.evals, fmt.Errorf("%w: unexpected %s", dynamo.ErrCoordination, msg.Signal)
		}
	}
}
