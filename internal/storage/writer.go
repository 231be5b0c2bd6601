package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/san-kum/kinsim/internal/integrators"
	"github.com/san-kum/kinsim/internal/kinetic"
	"github.com/san-kum/kinsim/internal/physics"
)

// Writer appends the outputs of one run to its directory.
type Writer struct {
	dir  string
	meta RunMetadata

	moments *os.File
	dfns    *os.File
	mw      *csv.Writer
	dw      *csv.Writer

	momentRows int
	dfnRows    int
	closed     bool
}

func (w *Writer) ID() string            { return w.meta.ID }
func (w *Writer) Dir() string           { return w.dir }
func (w *Writer) Metadata() RunMetadata { return w.meta }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func momentsHeader(s physics.Summary) []string {
	header := []string{"time"}
	add := func(kind string, n int) {
		for i := 0; i < n; i++ {
			p := fmt.Sprintf("%s%d_", kind, i)
			header = append(header, p+"density", p+"upar", p+"ppar", p+"particles", p+"point")
		}
	}
	add("ion", len(s.Ion))
	add("neutral", len(s.Neutral))
	return append(header, "total_particles", "peak_density")
}

func (w *Writer) WriteMoments(t float64, s physics.Summary) error {
	if w.momentRows == 0 {
		if err := w.mw.Write(momentsHeader(s)); err != nil {
			return err
		}
	}
	row := []string{formatFloat(t)}
	for _, group := range [][]physics.SpeciesSummary{s.Ion, s.Neutral} {
		for _, sp := range group {
			row = append(row,
				formatFloat(sp.Density), formatFloat(sp.Upar), formatFloat(sp.Ppar),
				formatFloat(sp.Particles), formatFloat(sp.PointDensity))
		}
	}
	row = append(row, formatFloat(s.TotalParticles), formatFloat(s.PeakDensity))
	if err := w.mw.Write(row); err != nil {
		return err
	}
	w.momentRows++
	w.mw.Flush()
	return w.mw.Error()
}

func (w *Writer) WriteDfns(t float64, st *kinetic.State) error {
	if w.dfnRows == 0 {
		header := []string{"time"}
		for i := range st.Ion.Pdf {
			header = append(header, "ion_pdf_"+strconv.Itoa(i))
		}
		for i := range st.Neutral.Pdf {
			header = append(header, "neutral_pdf_"+strconv.Itoa(i))
		}
		if err := w.dw.Write(header); err != nil {
			return err
		}
	}
	row := make([]string, 0, 1+len(st.Ion.Pdf)+len(st.Neutral.Pdf))
	row = append(row, formatFloat(t))
	for _, v := range st.Ion.Pdf {
		row = append(row, formatFloat(v))
	}
	for _, v := range st.Neutral.Pdf {
		row = append(row, formatFloat(v))
	}
	if err := w.dw.Write(row); err != nil {
		return err
	}
	w.dfnRows++
	w.dw.Flush()
	return w.dw.Error()
}

// Outcome is what a finished run reports back to its metadata.
type Outcome struct {
	Status    string
	Err       error
	FinalTime float64
	Outputs   int
	Stats     integrators.Stats
	Metrics   map[string]float64
}

// Finish records the outcome in metadata.json and closes the data files.
func (w *Writer) Finish(o Outcome) error {
	w.meta.Status = o.Status
	if o.Err != nil {
		w.meta.Error = o.Err.Error()
	}
	w.meta.FinalTime = o.FinalTime
	w.meta.Outputs = o.Outputs
	w.meta.Stats = o.Stats
	for k, v := range o.Metrics {
		w.meta.Metrics[k] = v
	}
	return errors.Join(w.writeMetadata(), w.Close())
}

func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.mw.Flush()
	w.dw.Flush()
	return errors.Join(w.mw.Error(), w.dw.Error(), w.moments.Close(), w.dfns.Close())
}

func (w *Writer) writeMetadata() error {
	f, err := os.Create(filepath.Join(w.dir, metadataFile))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(w.meta)
}
