// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package device

// MSR register addresses for the Intel RAPL energy interface
const (
	// MSRPowerUnit is the IA32_RAPL_POWER_UNIT register packing the
	// power, energy and time unit scale exponents
	MSRPowerUnit uint32 = 0x606

	// Energy status counters (32-bit, wrap under sustained load)
	MSRPkgEnergyStatus  uint32 = 0x611 // Package energy counter
	MSRDRAMEnergyStatus uint32 = 0x619 // DRAM energy counter
)

// raplCounterModulus is the full range of a RAPL energy status counter.
// The counters are 32 bit wide regardless of the 64 bit register read.
const raplCounterModulus = uint64(1) << 32

// RaplUnits holds the unit scale factors decoded from the power-unit
// register. Decoding happens once during reader initialization and the
// result is cached for the reader's lifetime.
type RaplUnits struct {
	PowerWatts   float64 // watts per power unit LSB
	EnergyJoules float64 // joules per energy counter LSB
	TimeSeconds  float64 // seconds per time unit LSB
}

// DecodeUnits unpacks the three exponent fields of the power-unit register.
// Power exponent is in bits 3:0, energy in bits 12:8 and time in bits 19:16.
// Each physical unit is 1 / 2^exponent of its base unit.
func DecodeUnits(powerUnitReg uint64) RaplUnits {
	return RaplUnits{
		PowerWatts:   1.0 / float64(uint64(1)<<(powerUnitReg&0xF)),
		EnergyJoules: 1.0 / float64(uint64(1)<<((powerUnitReg>>8)&0x1F)),
		TimeSeconds:  1.0 / float64(uint64(1)<<((powerUnitReg>>16)&0xF)),
	}
}

// MaxEnergy returns the energy value at which a raw RAPL counter scaled by
// these units wraps around.
func (u RaplUnits) MaxEnergy() Energy {
	return EnergyFromJoules(float64(raplCounterModulus) * u.EnergyJoules)
}

// CounterDelta returns curr - prev for a wrapping 32 bit energy counter.
// When the counter wrapped between the two reads (curr < prev) the full
// counter modulus is added before subtracting so the delta is never
// negative or nonsensical.
func CounterDelta(prev, curr uint64) uint64 {
	prev &= raplCounterModulus - 1
	curr &= raplCounterModulus - 1
	if curr >= prev {
		return curr - prev
	}
	return (curr + raplCounterModulus) - prev
}

// RaplReading is one calibrated sample of the RAPL energy counters.
// Package and DRAM are cumulative energy values; MaxEnergy is the wrap
// boundary of the underlying counter (0 when the backend never wraps).
type RaplReading struct {
	Package   Energy
	DRAM      Energy
	HasDRAM   bool
	MaxEnergy Energy
}

// RaplReader abstracts the privileged register access backends (MSR device
// file, powercap sysfs) behind a uniform sampling surface.
type RaplReader interface {
	// Name returns a human-readable name of the backend
	Name() string

	// Available reports whether the backend can be used on this system.
	// Must be cheap and side-effect free.
	Available() bool

	// Init opens the backend and decodes calibration data. Idempotent.
	Init() error

	// Read samples the energy counters
	Read() (RaplReading, error)

	// Close releases resources held by the backend
	Close() error
}
