package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// HzFromPeriod returns the frequency matching one period, rounded down.
// Non-positive periods yield 0.
func HzFromPeriod(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(time.Second / d)
}

// Seconds returns d as float seconds, the unit the control law integrates in.
func Seconds(d time.Duration) float64 { return d.Seconds() }
