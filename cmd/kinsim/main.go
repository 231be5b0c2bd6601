package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/kinsim/internal/config"
	"github.com/san-kum/kinsim/internal/experiment"
	"github.com/san-kum/kinsim/internal/logging"
	"github.com/san-kum/kinsim/internal/sim"
	"github.com/san-kum/kinsim/internal/storage"
	"github.com/san-kum/kinsim/internal/viz"
)

var (
	dataDir      string
	configFile   string
	preset       string
	method       string
	participants int
	nstep        int
	dt           float64
	rtol         float64
	atol         float64
	stopFile     string
	logLevel     string
	params       map[string]string
	tui          bool
	column       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "kinsim",
		Short:         "adaptive time integration of kinetic plasma models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultOutputDir, "run data directory")

	runCmd := &cobra.Command{
		Use:   "run [model]",
		Short: "run a simulation",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (yaml)")
	runCmd.Flags().StringVarP(&preset, "preset", "p", "", "preset name (see presets)")
	runCmd.Flags().StringVar(&method, "method", "bdf", "integration method (bdf, adams)")
	runCmd.Flags().IntVarP(&participants, "participants", "n", config.DefaultParticipants, "number of step participants")
	runCmd.Flags().IntVar(&nstep, "nstep", config.DefaultNStep, "number of output steps")
	runCmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "output step size")
	runCmd.Flags().Float64Var(&rtol, "rtol", config.DefaultRelTol, "relative tolerance")
	runCmd.Flags().Float64Var(&atol, "atol", config.DefaultAbsTol, "absolute tolerance")
	runCmd.Flags().StringVar(&stopFile, "stop-file", config.DefaultStopFile, "file whose presence ends the run at the next output")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	runCmd.Flags().StringToStringVar(&params, "param", nil, "model parameter override, e.g. --param nu=2")
	runCmd.Flags().BoolVar(&tui, "tui", false, "show live progress")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "print run metadata as json",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run-id] [output.json]",
		Short: "export metadata and moments to json",
		Args:  cobra.ExactArgs(2),
		RunE:  exportJSON,
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run-id] [output.csv] [columns...]",
		Short: "export moment columns to csv",
		Args:  cobra.MinimumNArgs(2),
		RunE:  exportCSV,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run-id] [columns...]",
		Short: "plot moment columns in the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE:  plotRun,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run-id]",
		Short: "trend and frequency analysis of a moment column",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().StringVar(&column, "column", "total_particles", "moment column")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list presets per model",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, model := range config.ListModels() {
				fmt.Printf("%s: %v\n", model, config.ListPresets(model))
			}
			return nil
		},
	}

	layoutCmd := &cobra.Command{
		Use:   "layout",
		Short: "show the packed state layout of a configuration",
		RunE:  showLayout,
	}
	layoutCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (yaml)")

	initCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "write the default configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(args[0], config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, listCmd, exportCmd, exportJSONCmd, exportCSVCmd, plotCmd, analyzeCmd, presetsCmd, layoutCmd, initCmd, newSweepCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration: defaults, then a preset or a
// config file, then flags that were set explicitly.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if len(args) > 0 {
		cfg.Physics.Model = args[0]
	}

	if preset != "" {
		p := config.GetPreset(cfg.Physics.Model, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(cfg.Physics.Model))
		}
		cfg = p
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		if len(args) > 0 {
			cfg.Physics.Model = args[0]
		}
	}

	flags := cmd.Flags()
	if flags.Changed("method") {
		cfg.Integrator.Method = method
	}
	if flags.Changed("participants") {
		cfg.Parallel.Participants = participants
	}
	if flags.Changed("nstep") {
		cfg.Timestepping.NStep = nstep
	}
	if flags.Changed("dt") {
		cfg.Timestepping.Dt = dt
	}
	if flags.Changed("rtol") {
		cfg.Integrator.RelTol = rtol
	}
	if flags.Changed("atol") {
		cfg.Integrator.AbsTol = atol
	}
	if flags.Changed("stop-file") {
		cfg.Timestepping.StopFile = stopFile
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Root().PersistentFlags().Changed("data") {
		cfg.Output.Dir = dataDir
	}
	return cfg, cfg.Validate()
}

func parseParams(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	overrides, err := parseParams(params)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if !tui {
		if logger, err = logging.New(cfg.Log.Level, cfg.Log.Format); err != nil {
			return err
		}
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exp, err := experiment.New(cfg, experiment.WithLogger(logger), experiment.WithParams(overrides))
	if err != nil {
		return err
	}

	st := storage.New(cfg.Output.Dir)
	if err := st.Init(); err != nil {
		return err
	}
	w, err := st.Create(exp.Metadata())
	if err != nil {
		return err
	}
	defer w.Close()

	metrics := experiment.NewRegistry().DefaultMetrics(cfg.Output.StabilityThreshold)
	run := func(ctx context.Context, observers ...sim.Observer) (*sim.Result, error) {
		if err := exp.Setup(w, metrics, observers...); err != nil {
			return nil, err
		}
		return exp.Run(ctx)
	}

	logger.Info("starting run",
		zap.String("id", w.ID()),
		zap.String("model", cfg.Physics.Model),
		zap.String("method", cfg.Integrator.Method),
		zap.Int("participants", cfg.Parallel.Participants),
		zap.Int("state_size", exp.Model().Layout().Size()))
	start := time.Now()

	var result *sim.Result
	var runErr error
	if tui {
		result, runErr = viz.Run(ctx, cfg.Physics.Model, func(ctx context.Context, obs sim.Observer) (*sim.Result, error) {
			return run(ctx, obs)
		})
	} else {
		result, runErr = run(ctx)
	}

	if err := w.Finish(experiment.Outcome(result, runErr)); err != nil {
		logger.Error("failed to finalize run", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("run %s: %w", w.ID(), runErr)
	}

	printSummary(w.ID(), time.Since(start), result)
	return nil
}

func printSummary(id string, elapsed time.Duration, res *sim.Result) {
	status := storage.StatusCompleted
	if res.Stopped {
		status = storage.StatusStopped
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run id:\t%s\n", id)
	fmt.Fprintf(tw, "status:\t%s\n", status)
	fmt.Fprintf(tw, "elapsed:\t%v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(tw, "final time:\t%g\n", res.Time)
	fmt.Fprintf(tw, "outputs:\t%d\n", res.Outputs)
	fmt.Fprintf(tw, "solver steps:\t%d\n", res.Stats.Steps)
	fmt.Fprintf(tw, "rhs evaluations:\t%d\n", res.Stats.RhsEvals)
	fmt.Fprintf(tw, "broadcasts:\t%d\n", res.Broadcasts)
	fmt.Fprintf(tw, "participant evaluations:\t%v\n", res.Evaluations)
	tw.Flush()

	if len(res.Metrics) == 0 {
		return
	}
	names := make([]string, 0, len(res.Metrics))
	for name := range res.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("\nmetrics:")
	for _, name := range names {
		fmt.Printf("  %s: %.6g\n", name, res.Metrics[name])
	}
}

func showLayout(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	layout := cfg.Layout()
	fmt.Printf("state size: %d\n\n", layout.Size())
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tOFFSET\tLEN")
	for _, f := range layout.Fields() {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", f.Name, f.Offset, f.Len)
	}
	return tw.Flush()
}
