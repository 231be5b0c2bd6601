package main

import (
	"reflect"
	"testing"
)

func TestParseGrid(t *testing.T) {
	names, ranges, err := parseGrid([]string{"nu=0.5:1:2", "ion=3"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"nu", "ion"}) {
		t.Errorf("unexpected names %v", names)
	}
	if !reflect.DeepEqual(ranges, [][]float64{{0.5, 1, 2}, {3}}) {
		t.Errorf("unexpected ranges %v", ranges)
	}

	for _, bad := range []string{"nu", "=1", "nu=a:b", "nu="} {
		if _, _, err := parseGrid([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseParams(t *testing.T) {
	got, err := parseParams(map[string]string{"nu": "2.5"})
	if err != nil || got["nu"] != 2.5 {
		t.Errorf("got %v, %v", got, err)
	}
	if _, err := parseParams(map[string]string{"nu": "fast"}); err == nil {
		t.Error("expected error for non-numeric value")
	}
}
