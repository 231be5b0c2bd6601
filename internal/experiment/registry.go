package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/kinsim/internal/integrators"
	"github.com/san-kum/kinsim/internal/kinetic"
	"github.com/san-kum/kinsim/internal/metrics"
	"github.com/san-kum/kinsim/internal/physics"
	"github.com/san-kum/kinsim/internal/sim"
)

// Configurable models accept named parameter overrides.
type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, v float64) error
}

type Registry struct {
	models   map[string]func(physics.Config, kinetic.Layout) (sim.Model, error)
	backends map[string]func() integrators.Backend
}

func NewRegistry() *Registry {
	r := &Registry{
		models:   make(map[string]func(physics.Config, kinetic.Layout) (sim.Model, error)),
		backends: make(map[string]func() integrators.Backend),
	}

	kin := func(cfg physics.Config, l kinetic.Layout) (sim.Model, error) { return physics.New(cfg, l) }
	r.models[physics.ModelKrook] = kin
	r.models[physics.ModelIonization] = kin
	r.models[physics.ModelChargeExchange] = kin

	r.backends["native"] = func() integrators.Backend { return integrators.NewNativeBackend() }

	return r
}

// GetModel builds the model named by cfg.Model for layout.
func (r *Registry) GetModel(cfg physics.Config, layout kinetic.Layout) (sim.Model, error) {
	fn, ok := r.models[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", cfg.Model)
	}
	return fn(cfg, layout)
}

func (r *Registry) GetBackend(name string) (integrators.Backend, error) {
	fn, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend: %s", name)
	}
	return fn(), nil
}

func (r *Registry) ListModels() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) ListMethods() []string {
	return []string{integrators.BDF.String(), integrators.Adams.String()}
}

func (r *Registry) DefaultMetrics(stabilityThreshold float64) []sim.Metric {
	return metrics.Standard(stabilityThreshold)
}
