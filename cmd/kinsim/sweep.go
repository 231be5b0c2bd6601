package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/kinsim/internal/experiment"
	"github.com/san-kum/kinsim/internal/logging"
	"github.com/san-kum/kinsim/internal/optim"
	"github.com/san-kum/kinsim/internal/sim"
)

var (
	grid        []string
	sweepMetric string
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep [model]",
		Short: "run a parameter grid and rank the runs by a metric",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (yaml)")
	cmd.Flags().StringVarP(&preset, "preset", "p", "", "preset name (see presets)")
	cmd.Flags().StringArrayVar(&grid, "grid", nil, "parameter values, e.g. --grid nu=0.5:1:2")
	cmd.Flags().StringVar(&sweepMetric, "metric", "particle_drift", "metric to minimise")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

// parseGrid reads name=v1:v2:... specs in order of appearance.
func parseGrid(specs []string) ([]string, [][]float64, error) {
	var names []string
	var ranges [][]float64
	for _, spec := range specs {
		name, values, ok := strings.Cut(spec, "=")
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("grid %q: want name=v1:v2", spec)
		}
		var r []float64
		for _, s := range strings.Split(values, ":") {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("grid %s: %w", name, err)
			}
			r = append(r, v)
		}
		names = append(names, name)
		ranges = append(ranges, r)
	}
	return names, ranges, nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	names, ranges, err := parseGrid(grid)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := experiment.NewRegistry()
	gs, err := optim.NewGridSearch(names, ranges, sweepMetric,
		func() []sim.Metric { return registry.DefaultMetrics(cfg.Output.StabilityThreshold) },
		optim.WithLogger(logger))
	if err != nil {
		return err
	}

	fmt.Printf("sweeping %d points of %s...\n", gs.Size(), cfg.Physics.Model)
	out, err := gs.Search(ctx, func(p map[string]float64) (optim.Runner, error) {
		c := *cfg
		return experiment.New(&c, experiment.WithLogger(logger), experiment.WithParams(p))
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RANK\t%s\t%s\n", strings.ToUpper(strings.Join(names, "\t")), strings.ToUpper(sweepMetric))
	for i, t := range out.Ranked() {
		fmt.Fprintf(w, "%d\t%s\t%.6g\n", i+1, formatParams(names, t.Params), t.Value)
	}
	w.Flush()

	failed := len(out.Trials) - len(out.Ranked())
	if failed > 0 {
		fmt.Printf("\n%d of %d trials failed\n", failed, len(out.Trials))
	}
	fmt.Printf("\nbest: %s = %.6g\n", describe(out.Best), out.BestValue)
	return nil
}

func formatParams(names []string, p map[string]float64) string {
	vals := make([]string, len(names))
	for i, n := range names {
		vals[i] = strconv.FormatFloat(p[n], 'g', -1, 64)
	}
	return strings.Join(vals, "\t")
}

func describe(p map[string]float64) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, " ")
}
