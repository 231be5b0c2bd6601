package config

import (
	"sort"

	"github.com/san-kum/kinsim/internal/physics"
)

func preset(mod func(c *Config)) *Config {
	c := DefaultConfig()
	mod(c)
	return c
}

var Presets = map[string]map[string]*Config{
	physics.ModelKrook: {
		"relax": preset(func(c *Config) {
			c.Physics.Model = physics.ModelKrook
			c.Species.Neutral = 0
		}),
		"stiff": preset(func(c *Config) {
			c.Physics.Model, c.Physics.CollisionFreq = physics.ModelKrook, 200
			c.Species.Neutral = 0
			c.Evolve.EvolveUpar, c.Evolve.EvolvePpar = true, true
		}),
		"streaming": preset(func(c *Config) {
			c.Physics.Model, c.Physics.CollisionFreq = physics.ModelKrook, 0.05
			c.Integrator.Method = "adams"
			c.Species.Neutral = 0
			c.Grid.Nz, c.Timestepping.NStep = 32, 120
		}),
	},
	physics.ModelIonization: {
		"default": preset(func(c *Config) {
			c.Physics.Model = physics.ModelIonization
		}),
		"strong": preset(func(c *Config) {
			c.Physics.Model, c.Physics.IonizationRate = physics.ModelIonization, 5
			c.Physics.NeutralDensity = 2
		}),
	},
	physics.ModelChargeExchange: {
		"default": preset(func(c *Config) {
			c.Physics.Model = physics.ModelChargeExchange
		}),
		"hot-neutrals": preset(func(c *Config) {
			c.Physics.Model, c.Physics.NeutralTemperature = physics.ModelChargeExchange, 2
			c.Physics.ChargeExchangeRate = 5
			c.Species.Neutral = 2
			c.Species.Ion = 2
		}),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(model, name string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[name]
	if !ok {
		return nil
	}
	c := *cfg
	return &c
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ListModels() []string {
	models := make([]string, 0, len(Presets))
	for m := range Presets {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}
