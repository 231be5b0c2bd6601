// Package dynamo provides the core vocabulary shared by the time-integration
// driver and its collaborators.
//
// The package defines the fundamental types and interfaces:
//
//   - [PackedState]: the flat vector handed to the ODE solver
//   - [RhsEvaluator]: computes dy/dt = f(t, y) into a caller-owned buffer
//   - [OutputSink]: receives the state after each accepted output advance
//   - [SimulationError]: wraps a failure with step and time context
//
// # Example
//
//	sched, err := schedule.New(scfg)
//	if err != nil {
//		return err
//	}
//	sess, err := integrators.Open(backend, icfg, root, t0, y0)
//	if err != nil {
//		return err
//	}
//	n, err := sess.Run(ctx, sched.Times(), sink)
//
// # Thread Safety
//
// PackedState values are plain slices and are NOT safe for concurrent
// mutation. Sharing across participants goes through the coord package,
// which orders every access with a broadcast and a barrier.
package dynamo
