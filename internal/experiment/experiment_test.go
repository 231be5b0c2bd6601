package experiment

import (
	"context"
	"errors"
	"testing"

	"github.com/san-kum/kinsim/internal/config"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/sim"
	"github.com/san-kum/kinsim/internal/storage"
)

func smallConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Grid.Nvpa, cfg.Grid.Nvz, cfg.Grid.Nz = 6, 4, 6
	cfg.Timestepping.NStep = 4
	cfg.Timestepping.DfnsInterval = 2
	cfg.Timestepping.StopFile = ""
	return cfg
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	models := r.ListModels()
	if len(models) != 3 {
		t.Errorf("expected 3 models, got %v", models)
	}
	cfg := smallConfig()
	for _, name := range models {
		pc := cfg.Physics
		pc.Model = name
		m, err := r.GetModel(pc, cfg.Layout())
		if err != nil {
			t.Errorf("model %s: %v", name, err)
			continue
		}
		if m.Name() != name {
			t.Errorf("model %s reports name %s", name, m.Name())
		}
	}
	pc := cfg.Physics
	pc.Model = "mhd"
	if _, err := r.GetModel(pc, cfg.Layout()); err == nil {
		t.Error("expected error for unknown model")
	}
	if _, err := r.GetBackend("gpu"); err == nil {
		t.Error("expected error for unknown backend")
	}
	if len(r.ListMethods()) != 2 {
		t.Errorf("expected 2 methods, got %v", r.ListMethods())
	}
}

func TestExperiment_RunToStore(t *testing.T) {
	cfg := smallConfig()
	exp, err := New(cfg, WithParams(map[string]float64{"nu": 2}))
	if err != nil {
		t.Fatalf("new experiment: %v", err)
	}
	if exp.Model().(Configurable).GetParams()["nu"] != 2 {
		t.Error("param override not applied")
	}

	st := storage.New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	w, err := st.Create(exp.Metadata())
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := exp.Setup(w, NewRegistry().DefaultMetrics(cfg.Output.StabilityThreshold)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	res, err := exp.Run(context.Background())
	if err := w.Finish(Outcome(res, err)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	meta, err := st.Load(w.ID())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if meta.Status != storage.StatusCompleted || meta.Outputs != 5 {
		t.Errorf("unexpected metadata status=%s outputs=%d", meta.Status, meta.Outputs)
	}
	if _, ok := meta.Metrics["particle_drift"]; !ok {
		t.Errorf("expected particle_drift metric, got %v", meta.Metrics)
	}
	if meta.Metrics["particle_drift"] > 1e-4 {
		t.Errorf("particle drift %g too large", meta.Metrics["particle_drift"])
	}

	moments, err := st.LoadMoments(w.ID())
	if err != nil {
		t.Fatalf("load moments: %v", err)
	}
	if len(moments.Times) != 5 {
		t.Errorf("expected initial plus 4 moment rows, got %d", len(moments.Times))
	}
}

func TestExperiment_Errors(t *testing.T) {
	cfg := smallConfig()
	cfg.Parallel.Participants = 0
	if _, err := New(cfg); !errors.Is(err, dynamo.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = smallConfig()
	if _, err := New(cfg, WithParams(map[string]float64{"gravity": 1})); !errors.Is(err, dynamo.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for unknown param, got %v", err)
	}

	exp, err := New(smallConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := exp.Run(context.Background()); err == nil {
		t.Error("expected error before setup")
	}
}

func TestOutcome(t *testing.T) {
	if o := Outcome(nil, errors.New("x")); o.Status != storage.StatusFailed {
		t.Errorf("expected failed, got %s", o.Status)
	}
	o := Outcome(&sim.Result{Stopped: true, Outputs: 3, Time: 0.3}, nil)
	if o.Status != storage.StatusStopped || o.Outputs != 3 || o.FinalTime != 0.3 {
		t.Errorf("unexpected outcome %+v", o)
	}
	if o := Outcome(&sim.Result{}, nil); o.Status != storage.StatusCompleted {
		t.Errorf("expected completed, got %s", o.Status)
	}
}
