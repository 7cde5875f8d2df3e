// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package device

import "fmt"

// Energy is a hardware energy counter value in microjoules. RAPL and the
// hwmon energy rails both report microjoule counts natively, so the type
// keeps full integer precision and converts to joules only at the edges.
type Energy uint64

const (
	MicroJoule Energy = 1
	MilliJoule        = 1000 * MicroJoule
	Joule             = 1000 * MilliJoule
)

// Joules returns the counter value in joules.
func (e Energy) Joules() float64 {
	return float64(e) / float64(Joule)
}

func (e Energy) String() string {
	return fmt.Sprintf("%.2fJ", e.Joules())
}

// EnergyFromJoules converts a joule value into an Energy microjoule count.
// Negative inputs clamp to zero since hardware counters never run backwards.
func EnergyFromJoules(j float64) Energy {
	if j <= 0 {
		return 0
	}
	return Energy(j * float64(Joule))
}

// Power is an instantaneous power value in microwatts, the scale hwmon
// power sensors report at.
type Power float64

const (
	MicroWatt Power = 1.0
	MilliWatt       = 1000 * MicroWatt
	Watt            = 1000 * MilliWatt
)

// Watts returns the value in watts.
func (p Power) Watts() float64 {
	return float64(p / Watt)
}

func (p Power) String() string {
	return fmt.Sprintf("%.2fW", p.Watts())
}
