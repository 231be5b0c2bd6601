package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/integrators"
	"github.com/san-kum/kinsim/internal/kinetic"
	"github.com/san-kum/kinsim/internal/physics"
	"github.com/san-kum/kinsim/internal/schedule"
)

const (
	DefaultDt           = 0.05
	DefaultNStep        = 40
	DefaultRelTol       = 1e-5
	DefaultAbsTol       = 1e-8
	DefaultMaxSteps     = 5000
	DefaultParticipants = 2
	DefaultOutputDir    = "runs"
	DefaultStopFile     = "kinsim.stop"
)

type Config struct {
	Run          RunConfig        `yaml:"run"`
	Integrator   IntegratorConfig `yaml:"integrator"`
	Timestepping schedule.Config  `yaml:"timestepping"`
	Evolve       kinetic.Flags    `yaml:"evolve"`
	Species      SpeciesConfig    `yaml:"species"`
	Grid         kinetic.Grid     `yaml:"grid"`
	Physics      physics.Config   `yaml:"physics"`
	Parallel     ParallelConfig   `yaml:"parallel"`
	Output       OutputConfig     `yaml:"output"`
	Log          LogConfig        `yaml:"log"`
}

type RunConfig struct {
	Name string `yaml:"name"`
}

type IntegratorConfig struct {
	Method      string  `yaml:"method"`
	RelTol      float64 `yaml:"rtol"`
	AbsTol      float64 `yaml:"atol"`
	MaxSteps    int     `yaml:"max_steps"`
	InitialStep float64 `yaml:"initial_step"`
	MinStep     float64 `yaml:"min_step"`
	MaxStep     float64 `yaml:"max_step"`
}

type SpeciesConfig struct {
	Ion     int `yaml:"ion"`
	Neutral int `yaml:"neutral"`
}

type ParallelConfig struct {
	Participants int `yaml:"participants"`
}

type OutputConfig struct {
	Dir                string  `yaml:"dir"`
	StabilityThreshold float64 `yaml:"stability_threshold"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{Name: "kinsim"},
		Integrator: IntegratorConfig{
			Method:   integrators.BDF.String(),
			RelTol:   DefaultRelTol,
			AbsTol:   DefaultAbsTol,
			MaxSteps: DefaultMaxSteps,
		},
		Timestepping: schedule.Config{
			Dt:              DefaultDt,
			NStep:           DefaultNStep,
			MomentsInterval: 1,
			DfnsInterval:    10,
			StopFile:        DefaultStopFile,
		},
		Evolve:   kinetic.Flags{EvolveDensity: true},
		Species:  SpeciesConfig{Ion: 1, Neutral: 1},
		Grid:     kinetic.Grid{Nvpa: 12, Nvperp: 1, Nvz: 8, Nvr: 1, Nvzeta: 1, Nz: 16, Nr: 1},
		Physics:  physics.DefaultConfig(),
		Parallel: ParallelConfig{Participants: DefaultParticipants},
		Output:   OutputConfig{Dir: DefaultOutputDir, StabilityThreshold: 10},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IntegratorSettings converts the integrator section to solver settings.
func (c *Config) IntegratorSettings() (integrators.Config, error) {
	m, err := integrators.ParseMethod(c.Integrator.Method)
	if err != nil {
		return integrators.Config{}, err
	}
	return integrators.Config{
		Method:      m,
		RelTol:      c.Integrator.RelTol,
		AbsTol:      c.Integrator.AbsTol,
		MaxSteps:    c.Integrator.MaxSteps,
		InitialStep: c.Integrator.InitialStep,
		MinStep:     c.Integrator.MinStep,
		MaxStep:     c.Integrator.MaxStep,
	}, nil
}

func (c *Config) Layout() kinetic.Layout {
	return kinetic.NewLayout(c.Evolve, c.Grid, c.Species.Ion, c.Species.Neutral)
}

func (c *Config) Validate() error {
	ic, err := c.IntegratorSettings()
	if err != nil {
		return err
	}
	if err := ic.Validate(); err != nil {
		return err
	}
	if err := c.Timestepping.Validate(); err != nil {
		return err
	}
	if c.Species.Ion < 1 || c.Species.Neutral < 0 {
		return fmt.Errorf("species ion=%d neutral=%d: %w", c.Species.Ion, c.Species.Neutral, dynamo.ErrInvalidConfig)
	}
	if err := c.Grid.Validate(); err != nil {
		return fmt.Errorf("%w: %w", dynamo.ErrInvalidConfig, err)
	}
	if err := c.Physics.Validate(); err != nil {
		return err
	}
	if c.Parallel.Participants < 1 {
		return fmt.Errorf("participants=%d: %w", c.Parallel.Participants, dynamo.ErrInvalidConfig)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("empty output dir: %w", dynamo.ErrInvalidConfig)
	}
	return nil
}
