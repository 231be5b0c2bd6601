package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/kinsim/internal/analysis"
	"github.com/san-kum/kinsim/internal/storage"
)

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tMETHOD\tNP\tOUTPUTS\tFINAL\tSTATUS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.4g\t%s\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Method,
			run.Participants,
			run.Outputs,
			run.FinalTime,
			run.Status,
		)
	}

	return w.Flush()
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	if err := st.ExportJSON(args[1], args[0]); err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", args[0], args[1])
	return nil
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	if err := st.ExportCSV(args[1], args[0], args[2:]...); err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", args[0], args[1])
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	table, err := st.LoadMoments(runID)
	if err != nil {
		return err
	}
	if len(table.Rows) == 0 {
		return fmt.Errorf("no data to plot")
	}

	columns := args[1:]
	if len(columns) == 0 {
		columns = []string{"total_particles", "peak_density"}
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(table.Rows))

	for _, name := range columns {
		data := table.Column(name)
		if data == nil {
			return fmt.Errorf("unknown column %q (available: %v)", name, table.Columns[1:])
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s vs time", name)),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	table, err := st.LoadMoments(runID)
	if err != nil {
		return err
	}
	data := table.Column(column)
	if data == nil {
		return fmt.Errorf("unknown column %q", column)
	}

	fmt.Printf("analysis: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("column: %s\n\n", column)

	report, err := analysis.Analyze(table.Times, data)
	if report == nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "samples:\t%d\n", report.Samples)
	fmt.Fprintf(w, "mean:\t%.8g\n", report.Mean)
	fmt.Fprintf(w, "std dev:\t%.4g\n", report.StdDev)
	fmt.Fprintf(w, "trend:\t%.4g per unit time\n", report.Slope)
	w.Flush()

	if errors.Is(err, analysis.ErrNonUniform) {
		fmt.Println("\nsamples are not uniformly spaced, skipping spectrum")
		return nil
	}
	if err != nil {
		return err
	}

	if len(report.Power) > 1 {
		graph := asciigraph.Plot(report.Power[1:],
			asciigraph.Height(15),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("power spectrum (%s)", column)),
		)
		fmt.Println()
		fmt.Println(graph)
	}

	fmt.Printf("\ndominant frequency: %.4g\n", report.Dominant)
	if report.Dominant > 0 {
		fmt.Printf("period: %.4g\n", 1/report.Dominant)
	}
	return nil
}
