// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

// Package measurement defines the interchange types of the energy
// measurement engine: point-in-time readings of a hardware source and the
// sessions that pair them into energy deltas.
package measurement

import (
	"time"
)

// Measurement is one point-in-time reading from one energy source.
// It is created once per plugin read and never mutated afterwards.
type Measurement struct {
	// Timestamp is the monotonic point in time the reading was taken
	Timestamp time.Time `json:"timestamp"`

	// Source is the stable identifier of the origin, e.g. "intel-rapl"
	// or "nvidia-gpu0"
	Source string `json:"source"`

	// Joules is the cumulative energy reading of the source
	Joules float64 `json:"joules"`

	// Watts is the power reading, derived or directly sampled
	Watts float64 `json:"watts"`

	// Extra carries source specific sub-readings, e.g. the DRAM rail
	// energy reported alongside the package counter
	Extra map[string]float64 `json:"extra_metrics,omitempty"`

	// MaxJoules is the value at which the source's underlying hardware
	// counter wraps around, 0 when the counter never wraps. It lets
	// consumers correct deltas taken across a wrap boundary.
	MaxJoules float64 `json:"max_joules,omitempty"`
}

// EnergyDelta returns the energy consumed between two measurements of the
// same source, correcting for counter wraparound: when the later reading is
// numerically smaller than the earlier one the counter's full range is
// added back before subtracting. Returns 0 when the delta cannot be
// determined (wrapped reading from a source with no known wrap boundary).
func EnergyDelta(start, end Measurement) float64 {
	if end.Joules >= start.Joules {
		return end.Joules - start.Joules
	}

	maxJoules := end.MaxJoules
	if maxJoules == 0 {
		maxJoules = start.MaxJoules
	}
	if maxJoules > 0 {
		return (maxJoules - start.Joules) + end.Joules
	}

	return 0
}

// Duration returns the elapsed time between two measurements. Both
// timestamps come from a monotonic clock so the result is never negative;
// a reversed pair clamps to 0.
func Duration(start, end Measurement) time.Duration {
	d := end.Timestamp.Sub(start.Timestamp)
	if d < 0 {
		return 0
	}
	return d
}
