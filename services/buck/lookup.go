package buck

import (
	"math"
	"sort"

	"windbuck-go/errcode"
	"windbuck-go/x/mathx"
)

// Breakpoint maps one wind speed to one target voltage.
type Breakpoint struct {
	Speed   float64 `yaml:"speed"`
	Voltage float64 `yaml:"voltage"`
}

// Table is a piecewise-linear wind speed -> target voltage map.
type Table struct {
	pts []Breakpoint
}

// NewTable copies pts. Speeds must be finite and non-decreasing; at least
// one breakpoint is required.
func NewTable(pts []Breakpoint) (*Table, error) {
	const op = "buck.table"
	if len(pts) == 0 {
		return nil, errcode.New(errcode.Configuration, op, "lookup table is empty")
	}
	for i, p := range pts {
		if math.IsNaN(p.Speed) || math.IsInf(p.Speed, 0) || math.IsNaN(p.Voltage) || math.IsInf(p.Voltage, 0) {
			return nil, errcode.New(errcode.Configuration, op, "lookup table holds a non-finite value")
		}
		if i > 0 && p.Speed < pts[i-1].Speed {
			return nil, errcode.New(errcode.Configuration, op, "lookup table must be sorted by wind speed")
		}
	}
	return &Table{pts: append([]Breakpoint(nil), pts...)}, nil
}

// Breakpoints returns a copy of the table.
func (t *Table) Breakpoints() []Breakpoint {
	return append([]Breakpoint(nil), t.pts...)
}

// Target resolves the voltage for speed. The first breakpoint with
// Speed >= speed is the upper bracket and its predecessor the lower one;
// speeds outside the table clamp to the end voltages.
func (t *Table) Target(speed float64) float64 {
	pts := t.pts
	idx := sort.Search(len(pts), func(i int) bool { return pts[i].Speed >= speed })

	if idx == 0 {
		return pts[0].Voltage
	}
	if idx >= len(pts) {
		return pts[len(pts)-1].Voltage
	}

	lo, hi := pts[idx-1], pts[idx]
	if hi.Speed == lo.Speed {
		return lo.Voltage
	}
	return mathx.Lerp(lo.Voltage, hi.Voltage, mathx.Frac(speed, lo.Speed, hi.Speed))
}
