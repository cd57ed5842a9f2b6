package buck

import (
	"errors"
	"math"
	"testing"

	"windbuck-go/errcode"
)

func TestPIUpdate(t *testing.T) {
	c, err := NewPI(0.1, 2)
	if err != nil {
		t.Fatal(err)
	}
	// e = 2, integral = 2*0.5 = 1, u = 0.2 + 2 = 2.2 -> clamped to 1
	if got := c.Update(12, 10, 0.5); got != 1 {
		t.Fatalf("duty = %v, want 1", got)
	}
	if got := c.Integral(); math.Abs(got-1) > 1e-12 {
		t.Fatalf("integral = %v, want 1", got)
	}
}

func TestPIWindsUpWhileSaturated(t *testing.T) {
	for _, tc := range []struct {
		ref   float64
		steps int
	}{
		// Kp 0.35, Ki 0.01, Ts 1 ms, Vout 0: 0.35*10 + 0.01*10*0.001 saturates on the first step.
		{ref: 10, steps: 1000},
		{ref: 60, steps: 100},
	} {
		c, _ := NewPI(0.35, 0.01)
		prev := 0.0
		for i := 0; i < tc.steps; i++ {
			if d := c.Update(tc.ref, 0, 0.001); d != 1 {
				t.Fatalf("ref %v step %d: duty = %v, want 1", tc.ref, i, d)
			}
			if i == 0 && math.Abs(c.Integral()-tc.ref*0.001) > 1e-15 {
				t.Fatalf("ref %v: integral after one step = %v", tc.ref, c.Integral())
			}
			if c.Integral() <= prev {
				t.Fatalf("ref %v step %d: integral did not grow: %v", tc.ref, i, c.Integral())
			}
			prev = c.Integral()
		}
		if want := tc.ref * 0.001 * float64(tc.steps); math.Abs(prev-want) > 1e-9 {
			t.Fatalf("ref %v: integral = %v, want %v", tc.ref, prev, want)
		}
	}
}

func TestPINegativeErrorClampsToZero(t *testing.T) {
	c, _ := NewPI(1, 0)
	if d := c.Update(5, 10, 0.001); d != 0 {
		t.Fatalf("duty = %v, want 0", d)
	}
}

func TestPIReset(t *testing.T) {
	c, _ := NewPI(0, 1)
	c.Update(1, 0, 0.25)
	c.Reset()
	if c.Integral() != 0 {
		t.Fatalf("integral after reset = %v", c.Integral())
	}
	if d := c.Update(0, 0, 1); d != 0 {
		t.Fatalf("duty after reset = %v", d)
	}
}

func TestNewPIRejects(t *testing.T) {
	for _, g := range [][2]float64{{-1, 0}, {0, -0.1}, {math.NaN(), 0}, {0, math.Inf(1)}} {
		if _, err := NewPI(g[0], g[1]); !errors.Is(err, errcode.Configuration) {
			t.Errorf("NewPI(%v, %v) err = %v", g[0], g[1], err)
		}
	}
}
