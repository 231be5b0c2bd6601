package coord_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/kinsim/internal/comm"
	"github.com/san-kum/kinsim/internal/coord"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/kinetic"
	"github.com/san-kum/kinsim/internal/physics"
)

// journal records, per rank, the order of physics calls and received
// messages.
type journal struct {
	mu     sync.Mutex
	events map[int][]string
}

func newJournal() *journal { return &journal{events: map[int][]string{}} }

func (j *journal) add(rank int, ev string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events[rank] = append(j.events[rank], ev)
}

func (j *journal) of(rank int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events[rank]...)
}

func count(events []string, ev string) int {
	n := 0
	for _, e := range events {
		if e == ev {
			n++
		}
	}
	return n
}

// tracedComm logs every message a worker receives.
type tracedComm struct {
	comm.Communicator
	j *journal
}

func (c tracedComm) Receive(ctx context.Context) (comm.Message, error) {
	msg, err := c.Communicator.Receive(ctx)
	if err == nil {
		c.j.add(c.Rank(), msg.Signal.String())
	}
	return msg, err
}

// tracedPhysics logs every derivation, keyed by the rank owning the range,
// and can be told to fail on one rank for its first failures calls, or for
// every call when failures is negative.
type tracedPhysics struct {
	coord.Physics
	j        *journal
	size     int
	failOn   int
	failures int
}

const noFailure = -1

func (p *tracedPhysics) Derive(start, end int, t float64, in, out *kinetic.State) error {
	rank := 0
	for r := 0; r < p.size; r++ {
		if s, e := dynamo.Partition(p.Points(), p.size, r); s == start && e == end {
			rank = r
		}
	}
	p.j.add(rank, "derive")
	if rank == p.failOn && p.failures != 0 {
		p.failures--
		return errors.New("derivative blew up")
	}
	return p.Physics.Derive(start, end, t, in, out)
}

var grid = kinetic.Grid{Nvpa: 6, Nvperp: 1, Nvz: 5, Nvr: 1, Nvzeta: 1, Nz: 12, Nr: 1}

func newKinetic(layout kinetic.Layout) *physics.Kinetic {
	cfg := physics.DefaultConfig()
	cfg.Model = physics.ModelChargeExchange
	k, err := physics.New(cfg, layout)
	Expect(err).NotTo(HaveOccurred())
	return k
}

type group struct {
	root    *coord.RootDriver
	workers []*coord.WorkerLoop
	results chan workerResult
	layout  kinetic.Layout
	y0      dynamo.PackedState
	k       *physics.Kinetic
}

type workerResult struct {
	rank  int
	evals int
	err   error
}

func startGroup(ctx context.Context, size int, j *journal, failOn, failures int) *group {
	layout := kinetic.NewLayout(kinetic.Flags{EvolveDensity: true}, grid, 1, 1)
	k := newKinetic(layout)
	phys := &tracedPhysics{Physics: k, j: j, size: size, failOn: failOn, failures: failures}

	eps, err := comm.Group(size)
	Expect(err).NotTo(HaveOccurred())

	block := coord.NewBlock(layout)
	root, err := coord.NewRootDriver(eps[0], phys, block)
	Expect(err).NotTo(HaveOccurred())

	g := &group{root: root, results: make(chan workerResult, size), layout: layout, k: k}
	for _, ep := range eps[1:] {
		w, err := coord.NewWorkerLoop(tracedComm{Communicator: ep, j: j}, phys, block)
		Expect(err).NotTo(HaveOccurred())
		g.workers = append(g.workers, w)
		go func(w *coord.WorkerLoop) {
			defer GinkgoRecover()
			n, err := w.Run(ctx)
			g.results <- workerResult{rank: w.Rank(), evals: n, err: err}
		}(w)
	}

	st := kinetic.NewState(layout)
	Expect(k.InitialState(st)).To(Succeed())
	g.y0 = make(dynamo.PackedState, layout.Size())
	Expect(layout.Pack(st, g.y0)).To(Succeed())
	return g
}

func (g *group) collect() []workerResult {
	out := make([]workerResult, 0, len(g.workers))
	for range g.workers {
		var r workerResult
		Eventually(g.results).WithTimeout(5 * time.Second).Should(Receive(&r))
		out = append(out, r)
	}
	return out
}

var _ = Describe("Lockstep evaluation", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		j      *journal
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		j = newJournal()
	})

	AfterEach(func() {
		cancel()
	})

	Context("when the root completes normally", func() {
		It("sends exactly one Stop and no physics runs after it", func() {
			const size, evals = 4, 7
			g := startGroup(ctx, size, j, noFailure, 0)

			ydot := make(dynamo.PackedState, len(g.y0))
			for i := 0; i < evals; i++ {
				Expect(g.root.Evaluate(ctx, float64(i)*0.1, g.y0, ydot)).To(Succeed())
			}
			Expect(g.root.Stop(ctx)).To(Succeed())
			Expect(g.root.Stop(ctx)).To(Succeed())

			for _, r := range g.collect() {
				Expect(r.err).NotTo(HaveOccurred())
				Expect(r.evals).To(Equal(evals))

				events := j.of(r.rank)
				Expect(count(events, "stop")).To(Equal(1))
				Expect(count(events, "continue")).To(Equal(evals))
				Expect(count(events, "derive")).To(Equal(evals))
				Expect(events[len(events)-1]).To(Equal("stop"))
			}
			Expect(g.root.Broadcasts()).To(Equal(evals))
			Expect(g.root.Evaluations()).To(Equal(evals))
			Expect(count(j.of(0), "derive")).To(Equal(evals))
		})

		It("produces the same derivative as a single participant", func() {
			g := startGroup(ctx, 3, j, noFailure, 0)

			ydot := make(dynamo.PackedState, len(g.y0))
			Expect(g.root.Evaluate(ctx, 0.25, g.y0, ydot)).To(Succeed())
			Expect(g.root.Stop(ctx)).To(Succeed())
			g.collect()

			in := kinetic.NewState(g.layout)
			Expect(g.layout.Unpack(g.y0, in)).To(Succeed())
			out := kinetic.NewState(g.layout)
			Expect(g.k.Derive(0, g.k.Points(), 0.25, in, out)).To(Succeed())
			want := make(dynamo.PackedState, len(g.y0))
			Expect(g.layout.Pack(out, want)).To(Succeed())

			Expect(ydot).To(Equal(want))
		})

		It("rejects evaluations after Stop", func() {
			g := startGroup(ctx, 2, j, noFailure, 0)
			Expect(g.root.Stop(ctx)).To(Succeed())
			g.collect()

			ydot := make(dynamo.PackedState, len(g.y0))
			err := g.root.Evaluate(ctx, 1, g.y0, ydot)
			Expect(errors.Is(err, dynamo.ErrCoordination)).To(BeTrue())
			Expect(g.root.Broadcasts()).To(BeZero())
			Expect(g.root.Stopped()).To(BeTrue())
		})
	})

	Context("when a worker's physics fails", func() {
		It("fails the evaluation on the root and keeps the worker serving", func() {
			g := startGroup(ctx, 3, j, 2, -1)

			ydot := make(dynamo.PackedState, len(g.y0))
			err := g.root.Evaluate(ctx, 0, g.y0, ydot)
			Expect(err).To(MatchError(dynamo.ErrCoordination))
			Expect(err.Error()).To(ContainSubstring("rank 2"))
			Expect(ydot).To(Equal(make(dynamo.PackedState, len(g.y0))))
			Expect(g.root.Evaluations()).To(Equal(1))

			Expect(g.root.Stop(ctx)).To(Succeed())
			for _, r := range g.collect() {
				Expect(r.err).NotTo(HaveOccurred())
				Expect(count(j.of(r.rank), "stop")).To(Equal(1))
				if r.rank == 2 {
					Expect(r.evals).To(BeZero())
				} else {
					Expect(r.evals).To(Equal(1))
				}
			}
		})

		It("succeeds again once the rank recovers", func() {
			g := startGroup(ctx, 2, j, 1, 1)

			ydot := make(dynamo.PackedState, len(g.y0))
			Expect(g.root.Evaluate(ctx, 0, g.y0, ydot)).To(MatchError(dynamo.ErrCoordination))
			Expect(g.root.Evaluate(ctx, 0, g.y0, ydot)).To(Succeed())
			Expect(g.root.Stop(ctx)).To(Succeed())

			for _, r := range g.collect() {
				Expect(r.err).NotTo(HaveOccurred())
				Expect(r.evals).To(Equal(1))
			}
			Expect(g.root.Broadcasts()).To(Equal(2))
		})
	})

	Context("when the root's physics fails", func() {
		It("fails the evaluation and workers still get a single Stop", func() {
			g := startGroup(ctx, 3, j, 0, -1)

			ydot := make(dynamo.PackedState, len(g.y0))
			err := g.root.Evaluate(ctx, 0, g.y0, ydot)
			Expect(err).To(MatchError(dynamo.ErrCoordination))
			Expect(err.Error()).To(ContainSubstring("rank 0"))
			Expect(g.root.Evaluations()).To(BeZero())

			Expect(g.root.Stop(ctx)).To(Succeed())
			for _, r := range g.collect() {
				Expect(r.err).NotTo(HaveOccurred())
				Expect(r.evals).To(Equal(1))
				Expect(count(j.of(r.rank), "stop")).To(Equal(1))
			}
		})
	})

	Context("when the group context is cancelled", func() {
		It("unblocks waiting workers", func() {
			g := startGroup(ctx, 3, j, noFailure, 0)
			cancel()

			for _, r := range g.collect() {
				Expect(errors.Is(r.err, dynamo.ErrCoordination)).To(BeTrue())
				Expect(errors.Is(r.err, context.Canceled)).To(BeTrue())
			}
			ydot := make(dynamo.PackedState, len(g.y0))
			Expect(g.root.Evaluate(ctx, 0, g.y0, ydot)).NotTo(Succeed())
		})
	})
})

var _ = Describe("Roles", func() {
	It("refuses a root driver on a worker rank and a worker on the root", func() {
		layout := kinetic.NewLayout(kinetic.Flags{}, grid, 1, 0)
		k := newKinetic(layout)
		eps, err := comm.Group(2)
		Expect(err).NotTo(HaveOccurred())
		block := coord.NewBlock(layout)

		_, err = coord.NewRootDriver(eps[1], k, block)
		Expect(errors.Is(err, dynamo.ErrCoordination)).To(BeTrue())
		_, err = coord.NewWorkerLoop(eps[0], k, block)
		Expect(errors.Is(err, dynamo.ErrCoordination)).To(BeTrue())
	})

	It("refuses physics that does not match the layout", func() {
		layout := kinetic.NewLayout(kinetic.Flags{}, grid, 1, 0)
		other := grid
		other.Nz = 4
		k := newKinetic(kinetic.NewLayout(kinetic.Flags{}, other, 1, 0))
		eps, _ := comm.Group(1)

		_, err := coord.NewRootDriver(eps[0], k, coord.NewBlock(layout))
		Expect(errors.Is(err, dynamo.ErrSizeMismatch)).To(BeTrue())
	})

	It("splits spatial points across ranks", func() {
		layout := kinetic.NewLayout(kinetic.Flags{}, grid, 1, 0)
		k := newKinetic(layout)
		eps, _ := comm.Group(5)
		block := coord.NewBlock(layout)

		covered := 0
		root, err := coord.NewRootDriver(eps[0], k, block)
		Expect(err).NotTo(HaveOccurred())
		s, e := root.Range()
		covered += e - s
		for _, ep := range eps[1:] {
			w, err := coord.NewWorkerLoop(ep, k, block)
			Expect(err).NotTo(HaveOccurred())
			s, e := w.Range()
			covered += e - s
		}
		Expect(covered).To(Equal(k.Points()))
	})
})
