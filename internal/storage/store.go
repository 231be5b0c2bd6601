// Package storage keeps run output on disk: one directory per run holding
// metadata.json, moments.csv and dfns.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/kinsim/internal/integrators"
	"github.com/san-kum/kinsim/internal/kinetic"
)

const (
	metadataFile = "metadata.json"
	momentsFile  = "moments.csv"
	dfnsFile     = "dfns.csv"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir(runID string) string { return filepath.Join(s.baseDir, runID) }

type RunMetadata struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Timestamp    time.Time `json:"timestamp"`
	Method       string    `json:"method"`
	RelTol       float64   `json:"rtol"`
	AbsTol       float64   `json:"atol"`
	Dt           float64   `json:"dt"`
	InitialTime  float64   `json:"initial_time"`
	NStep        int       `json:"nstep"`
	NWriteMoment int       `json:"nwrite_moments"`
	NWriteDfns   int       `json:"nwrite_dfns"`
	Participants int       `json:"participants"`

	Flags          kinetic.Flags  `json:"evolve"`
	Grid           kinetic.Grid   `json:"grid"`
	IonSpecies     int            `json:"ion_species"`
	NeutralSpecies int            `json:"neutral_species"`
	StateSize      int            `json:"state_size"`
	Fields         []kinetic.Span `json:"fields"`

	Status    string             `json:"status"`
	Error     string             `json:"error,omitempty"`
	FinalTime float64            `json:"final_time"`
	Outputs   int                `json:"outputs"`
	Stats     integrators.Stats  `json:"stats"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Create makes a new run directory and returns a Writer for it. meta.ID
// and meta.Timestamp are filled in.
func (s *Store) Create(meta RunMetadata) (*Writer, error) {
	now := time.Now()
	base := fmt.Sprintf("%s_%d", meta.Model, now.Unix())
	runID := base
	for i := 2; ; i++ {
		err := os.Mkdir(filepath.Join(s.baseDir, runID), 0755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		runID = fmt.Sprintf("%s_%d", base, i)
	}

	meta.ID = runID
	meta.Timestamp = now
	meta.Status = StatusRunning
	if meta.Metrics == nil {
		meta.Metrics = map[string]float64{}
	}
	w := &Writer{dir: s.Dir(runID), meta: meta}
	if err := w.writeMetadata(); err != nil {
		return nil, err
	}

	var err error
	if w.moments, err = os.Create(filepath.Join(w.dir, momentsFile)); err != nil {
		return nil, err
	}
	if w.dfns, err = os.Create(filepath.Join(w.dir, dfnsFile)); err != nil {
		w.moments.Close()
		return nil, err
	}
	w.mw = csv.NewWriter(w.moments)
	w.dw = csv.NewWriter(w.dfns)
	return w, nil
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Table is a CSV file read back as a header plus numeric rows whose first
// column is time.
type Table struct {
	Columns []string
	Times   []float64
	Rows    [][]float64
}

// Column returns the values of the named column, time excluded, or nil.
func (t *Table) Column(name string) []float64 {
	for i, c := range t.Columns {
		if c != name {
			continue
		}
		out := make([]float64, len(t.Rows))
		for j, row := range t.Rows {
			if i < len(row) {
				out[j] = row[i]
			}
		}
		return out
	}
	return nil
}

func (s *Store) LoadMoments(runID string) (*Table, error) {
	return readTable(filepath.Join(s.baseDir, runID, momentsFile))
}

func (s *Store) LoadDfns(runID string) (*Table, error) {
	return readTable(filepath.Join(s.baseDir, runID, dfnsFile))
}

func readTable(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &Table{}, nil
	}

	t := &Table{
		Columns: records[0][1:],
		Times:   make([]float64, 0, len(records)-1),
		Rows:    make([][]float64, 0, len(records)-1),
	}
	for i, record := range records[1:] {
		if len(record) == 0 {
			continue
		}
		tm, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", filepath.Base(path), i+1, err)
		}
		row := make([]float64, len(record)-1)
		for j, v := range record[1:] {
			if row[j], err = strconv.ParseFloat(v, 64); err != nil {
				return nil, fmt.Errorf("%s row %d col %d: %w", filepath.Base(path), i+1, j+1, err)
			}
		}
		t.Times = append(t.Times, tm)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
