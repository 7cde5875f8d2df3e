// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// DefaultMSRPath is the Linux msr driver device path template. The single
// verb is the CPU number the register is read from.
const DefaultMSRPath = "/dev/cpu/%d/msr"

// MSRReader implements RaplReader using the Intel MSR device interface.
// Registers are addressed with positioned reads: an 8-byte little-endian
// value is read at the file offset equal to the register address.
type MSRReader struct {
	path   string // resolved device path, e.g. /dev/cpu/0/msr
	logger *slog.Logger

	file    *os.File
	units   RaplUnits
	hasDRAM bool

	// Raw counters are 32 bit and wrap roughly once a minute under full
	// load. Each sample is unwrapped into a monotonic accumulator so a
	// single reading is already wrap-corrected at the register level.
	mu      sync.Mutex
	lastRaw map[uint32]uint64
	accum   map[uint32]uint64
}

var _ RaplReader = (*MSRReader)(nil)

// NewMSRReader creates an MSR reader for the given CPU using the device
// path template (normally DefaultMSRPath).
func NewMSRReader(pathTemplate string, cpu int, logger *slog.Logger) *MSRReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &MSRReader{
		path:    fmt.Sprintf(pathTemplate, cpu),
		logger:  logger.With("service", "msr-reader"),
		lastRaw: make(map[uint32]uint64),
		accum:   make(map[uint32]uint64),
	}
}

// Name returns the name of this RAPL backend
func (m *MSRReader) Name() string {
	return "msr"
}

// Path returns the resolved MSR device path
func (m *MSRReader) Path() string {
	return m.path
}

// Available checks for the MSR device file without opening it
func (m *MSRReader) Available() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Init opens the MSR device and decodes the unit scale registers. Calling
// Init on an initialized reader is a no-op.
func (m *MSRReader) Init() error {
	if m.file != nil {
		return nil
	}

	f, err := os.OpenFile(m.path, os.O_RDONLY, 0)
	if err != nil {
		return classifyPathError("open", m.path, err)
	}

	powerUnit, err := readRegister(f, MSRPowerUnit)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("reading power unit register: %w", err)
	}
	m.units = DecodeUnits(powerUnit)

	// the package counter must be readable; DRAM is optional
	if _, err := readRegister(f, MSRPkgEnergyStatus); err != nil {
		_ = f.Close()
		return fmt.Errorf("reading package energy register: %w", err)
	}
	_, dramErr := readRegister(f, MSRDRAMEnergyStatus)
	m.hasDRAM = dramErr == nil

	m.file = f
	m.logger.Info("MSR reader initialized",
		"path", m.path,
		"energy_unit_joules", m.units.EnergyJoules,
		"dram", m.hasDRAM)
	return nil
}

// Units returns the unit scale factors decoded during Init
func (m *MSRReader) Units() RaplUnits {
	return m.units
}

// Read samples the package and DRAM energy counters
func (m *MSRReader) Read() (RaplReading, error) {
	if m.file == nil {
		return RaplReading{}, fmt.Errorf("%w: msr reader not initialized", ErrSensor)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pkg, err := m.readCounter(MSRPkgEnergyStatus)
	if err != nil {
		return RaplReading{}, err
	}

	reading := RaplReading{
		Package:   EnergyFromJoules(float64(pkg) * m.units.EnergyJoules),
		MaxEnergy: m.units.MaxEnergy(),
	}

	if m.hasDRAM {
		dram, err := m.readCounter(MSRDRAMEnergyStatus)
		if err != nil {
			return RaplReading{}, err
		}
		reading.DRAM = EnergyFromJoules(float64(dram) * m.units.EnergyJoules)
		reading.HasDRAM = true
	}

	return reading, nil
}

// Close releases the MSR device file
func (m *MSRReader) Close() error {
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

// readCounter reads one energy status register and folds it into the
// unwrapped accumulator for that register. Caller holds m.mu.
func (m *MSRReader) readCounter(reg uint32) (uint64, error) {
	raw, err := readRegister(m.file, reg)
	if err != nil {
		return 0, err
	}

	// energy counters occupy the lower 32 bits of the register
	raw &= raplCounterModulus - 1

	if prev, seen := m.lastRaw[reg]; seen {
		m.accum[reg] += CounterDelta(prev, raw)
	} else {
		m.accum[reg] = raw
	}
	m.lastRaw[reg] = raw

	return m.accum[reg], nil
}

// readRegister reads an 8-byte little-endian register value at the offset
// given by the register address.
func readRegister(f *os.File, reg uint32) (uint64, error) {
	buf := make([]byte, 8)
	n, err := f.ReadAt(buf, int64(reg))
	if err != nil {
		return 0, classifyPathError(fmt.Sprintf("read register 0x%x from", reg), f.Name(), err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("%w: short read of register 0x%x: got %d bytes", ErrSensor, reg, n)
	}
	return binary.LittleEndian.Uint64(buf), nil
}
