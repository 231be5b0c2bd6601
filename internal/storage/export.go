package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type ExportData struct {
	Metadata RunMetadata `json:"metadata"`
	Columns  []string    `json:"columns"`
	Times    []float64   `json:"times"`
	Moments  [][]float64 `json:"moments"`
}

func (s *Store) exportData(runID string) (*ExportData, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", runID, err)
	}
	moments, err := s.LoadMoments(runID)
	if err != nil {
		return nil, fmt.Errorf("load moments of %s: %w", runID, err)
	}
	return &ExportData{
		Metadata: *meta,
		Columns:  moments.Columns,
		Times:    moments.Times,
		Moments:  moments.Rows,
	}, nil
}

// WriteJSON writes the metadata and moment history of a run as indented
// JSON.
func (s *Store) WriteJSON(w io.Writer, runID string) error {
	data, err := s.exportData(runID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (s *Store) ExportJSON(path, runID string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return s.WriteJSON(file, runID)
}

// WriteCSV writes the time column plus the named moment columns, or every
// column when names is empty.
func (s *Store) WriteCSV(w io.Writer, runID string, names ...string) error {
	moments, err := s.LoadMoments(runID)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		names = moments.Columns
	}
	cols := make([][]float64, len(names))
	for i, n := range names {
		if cols[i] = moments.Column(n); cols[i] == nil {
			return fmt.Errorf("run %s has no column %q", runID, n)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"time"}, names...)); err != nil {
		return err
	}
	for j, t := range moments.Times {
		row := []string{formatFloat(t)}
		for _, c := range cols {
			row = append(row, formatFloat(c[j]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *Store) ExportCSV(path, runID string, names ...string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return s.WriteCSV(file, runID, names...)
}
