package buck

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"windbuck-go/errcode"
)

func defaultTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable([]Breakpoint{{5, 50}, {10, 55}, {15, 60}, {20, 65}})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func TestTableTarget(t *testing.T) {
	tbl := defaultTable(t)
	cases := []struct {
		speed, want float64
	}{
		{0, 50},
		{5, 50},
		{7.5, 52.5},
		{10, 55},
		{12.5, 57.5},
		{20, 65},
		{25, 65},
		{-3, 50},
	}
	for _, c := range cases {
		if got := tbl.Target(c.speed); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Target(%v) = %v, want %v", c.speed, got, c.want)
		}
	}
}

func TestTableDuplicateSpeed(t *testing.T) {
	tbl, err := NewTable([]Breakpoint{{5, 50}, {5, 52}, {10, 60}})
	if err != nil {
		t.Fatal(err)
	}
	// Exact hit on a repeated speed resolves to the first of the pair.
	if got := tbl.Target(5); got != 50 {
		t.Fatalf("Target(5) = %v, want 50", got)
	}
	if got := tbl.Target(7.5); math.Abs(got-56) > 1e-9 {
		t.Fatalf("Target(7.5) = %v, want 56", got)
	}
}

func TestNewTableRejects(t *testing.T) {
	bad := [][]Breakpoint{
		nil,
		{{10, 55}, {5, 50}},
		{{math.NaN(), 50}},
		{{5, math.Inf(1)}},
	}
	for i, pts := range bad {
		if _, err := NewTable(pts); !errors.Is(err, errcode.Configuration) {
			t.Errorf("case %d: err = %v, want configuration", i, err)
		}
	}
}

func TestTableCopiesInput(t *testing.T) {
	pts := []Breakpoint{{0, 1}, {1, 2}}
	tbl, err := NewTable(pts)
	if err != nil {
		t.Fatal(err)
	}
	pts[0].Voltage = 100
	if got := tbl.Target(0); got != 1 {
		t.Fatalf("table aliased caller slice: Target(0) = %v", got)
	}
}

func TestTableMonotonicContinuous(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.Intn(6)
		pts := make([]Breakpoint, n)
		s, v := rng.Float64()*3, rng.Float64()*40
		for i := range pts {
			pts[i] = Breakpoint{Speed: s, Voltage: v}
			s += 0.5 + rng.Float64()*5
			v += rng.Float64() * 10
		}
		tbl, err := NewTable(pts)
		if err != nil {
			t.Fatal(err)
		}
		lo, hi := pts[0].Speed-2, pts[n-1].Speed+2
		const steps = 2000
		dx := (hi - lo) / steps
		maxSlope := 0.0
		for i := 1; i < n; i++ {
			m := (pts[i].Voltage - pts[i-1].Voltage) / (pts[i].Speed - pts[i-1].Speed)
			maxSlope = math.Max(maxSlope, m)
		}
		prev := tbl.Target(lo)
		for i := 1; i <= steps; i++ {
			cur := tbl.Target(lo + float64(i)*dx)
			if cur < prev-1e-9 {
				t.Fatalf("trial %d: not monotonic at %v: %v < %v", trial, lo+float64(i)*dx, cur, prev)
			}
			if cur-prev > maxSlope*dx+1e-9 {
				t.Fatalf("trial %d: jump at %v: %v -> %v", trial, lo+float64(i)*dx, prev, cur)
			}
			prev = cur
		}
	}
}
