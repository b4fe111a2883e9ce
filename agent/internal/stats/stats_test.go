package stats

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestMean(t *testing.T) {
	if got := Mean(nil); got != 0 {
		t.Errorf("Mean(nil) = %v, want 0", got)
	}
	if got := Mean([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Errorf("Mean = %v, want 2.5", got)
	}
}

func TestStdDev(t *testing.T) {
	if got := StdDev([]float64{42}); got != 0 {
		t.Errorf("StdDev(single) = %v, want 0", got)
	}
	if got := StdDev(nil); got != 0 {
		t.Errorf("StdDev(nil) = %v, want 0", got)
	}
	// Sample stddev of 2,4,4,4,5,5,7,9: variance 32/7.
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	want := math.Sqrt(32.0 / 7.0)
	if !almostEqual(got, want, 1e-9) {
		t.Errorf("StdDev = %v, want %v", got, want)
	}
	if got := StdDev([]float64{100, 100, 100}); got != 0 {
		t.Errorf("StdDev(flat) = %v, want 0", got)
	}
}

func TestZScore(t *testing.T) {
	if z := ZScore(150, 100, 0); !z.IsInf() {
		t.Errorf("zero stddev should give infinite z, got %v", z)
	}
	// Equal to the mean on a flat baseline is still the infinite sentinel;
	// detectors guard with the absolute jump rules.
	if z := ZScore(100, 100, 0); !z.IsInf() {
		t.Errorf("zero stddev should give infinite z even without movement, got %v", z)
	}
	z := ZScore(90, 100, 5)
	if z.IsInf() || !almostEqual(z.Value(), 2, 1e-9) {
		t.Errorf("ZScore(90,100,5) = %v, want 2 (absolute)", z)
	}
}

func TestSummarize_NoisyBaseline(t *testing.T) {
	prev := []float64{100, 102, 98, 101, 99, 103, 97, 100, 102}
	s := Summarize(prev, 130)
	if !almostEqual(s.Mean, 100.2222, 1e-3) {
		t.Errorf("Mean = %v, want ~100.22", s.Mean)
	}
	if !almostEqual(s.StdDev, 1.986, 1e-3) {
		t.Errorf("StdDev = %v, want ~1.986", s.StdDev)
	}
	if s.Z.IsInf() || !almostEqual(s.Z.Value(), 14.99, 1e-2) {
		t.Errorf("Z = %v, want ~14.99", s.Z)
	}
}
