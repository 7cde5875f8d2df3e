// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	"log/slog"
	"sync"

	"k8s.io/utils/clock"

	"github.com/SMART-Dal/codegreen/internal/device"
	"github.com/SMART-Dal/codegreen/internal/measurement"
)

const (
	raplPluginName = "intel-rapl"
	raplPluginDesc = "Intel RAPL package/DRAM energy counters (powercap sysfs with MSR fallback)"
)

// RaplPlugin measures CPU package and DRAM energy through the Intel RAPL
// interface. Two register backends are probed in order: the unprivileged
// powercap sysfs tree and the raw MSR device.
type RaplPlugin struct {
	guard  measurementGuard
	logger *slog.Logger
	clock  clock.PassiveClock

	candidates []device.RaplReader

	mu     sync.Mutex
	reader device.RaplReader // active backend, set by Init
	last   measurement.Measurement
	primed bool
}

var (
	_ HardwarePlugin = (*RaplPlugin)(nil)
)

// RaplOpts holds the configurable fields of a RaplPlugin
type RaplOpts struct {
	sysfsPath string
	msrPath   string
	msrCPU    int
	readers   []device.RaplReader
	logger    *slog.Logger
	clock     clock.PassiveClock
}

// RaplOptFn sets one option in RaplOpts
type RaplOptFn func(*RaplOpts)

// WithRaplSysfsPath sets the sysfs mount point for the powercap backend
func WithRaplSysfsPath(path string) RaplOptFn {
	return func(o *RaplOpts) {
		o.sysfsPath = path
	}
}

// WithRaplMSRDevice sets the MSR device path template and CPU number
func WithRaplMSRDevice(pathTemplate string, cpu int) RaplOptFn {
	return func(o *RaplOpts) {
		o.msrPath = pathTemplate
		o.msrCPU = cpu
	}
}

// WithRaplReaders overrides the backend candidates (for testing)
func WithRaplReaders(readers ...device.RaplReader) RaplOptFn {
	return func(o *RaplOpts) {
		o.readers = readers
	}
}

// WithRaplLogger sets the logger for the plugin
func WithRaplLogger(logger *slog.Logger) RaplOptFn {
	return func(o *RaplOpts) {
		o.logger = logger
	}
}

// WithRaplClock sets the clock used to stamp measurements
func WithRaplClock(c clock.PassiveClock) RaplOptFn {
	return func(o *RaplOpts) {
		o.clock = c
	}
}

// NewRaplPlugin creates the RAPL plugin. Preference order is powercap
// first since it needs no privilege, then the MSR device.
func NewRaplPlugin(applyOpts ...RaplOptFn) *RaplPlugin {
	opts := RaplOpts{
		sysfsPath: "/sys",
		msrPath:   device.DefaultMSRPath,
		msrCPU:    0,
		logger:    slog.Default(),
		clock:     clock.RealClock{},
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	logger := opts.logger.With("service", raplPluginName)
	readers := opts.readers
	if readers == nil {
		readers = []device.RaplReader{
			device.NewPowercapReader(opts.sysfsPath),
			device.NewMSRReader(opts.msrPath, opts.msrCPU, logger),
		}
	}

	return &RaplPlugin{
		logger:     logger,
		clock:      opts.clock,
		candidates: readers,
	}
}

func (p *RaplPlugin) Name() string {
	return raplPluginName
}

func (p *RaplPlugin) Description() string {
	return raplPluginDesc
}

// Available reports whether any RAPL backend is present
func (p *RaplPlugin) Available() bool {
	p.mu.Lock()
	active := p.reader
	p.mu.Unlock()

	if active != nil {
		return active.Available()
	}
	for _, r := range p.candidates {
		if r.Available() {
			return true
		}
	}
	return false
}

// Init selects the first available backend and decodes its calibration
// data. Idempotent.
func (p *RaplPlugin) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reader != nil {
		return nil
	}

	var initErr error
	for _, r := range p.candidates {
		if !r.Available() {
			continue
		}
		if err := r.Init(); err != nil {
			p.logger.Warn("RAPL backend failed to initialize", "backend", r.Name(), "error", err)
			initErr = err
			continue
		}
		p.reader = r
		p.logger.Info("RAPL plugin initialized", "backend", r.Name())
		return nil
	}

	if initErr != nil {
		return initErr
	}
	return fmt.Errorf("%w: no RAPL backend present", ErrDeviceNotFound)
}

func (p *RaplPlugin) StartMeasurement() error {
	return p.guard.start()
}

func (p *RaplPlugin) StopMeasurement() error {
	return p.guard.stop()
}

// Measurement samples the package energy counter. Power is derived from
// the energy delta since the previous sample and is 0 on the first read.
func (p *RaplPlugin) Measurement() (measurement.Measurement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reader == nil {
		return measurement.Measurement{}, fmt.Errorf("%w: rapl plugin not initialized", ErrSensor)
	}

	reading, err := p.reader.Read()
	if err != nil {
		return measurement.Measurement{}, err
	}

	m := measurement.Measurement{
		Timestamp: p.clock.Now(),
		Source:    raplPluginName,
		Joules:    reading.Package.Joules(),
		MaxJoules: reading.MaxEnergy.Joules(),
	}
	if reading.HasDRAM {
		m.Extra = map[string]float64{"dram_joules": reading.DRAM.Joules()}
	}

	if p.primed {
		if secs := m.Timestamp.Sub(p.last.Timestamp).Seconds(); secs > 0 {
			m.Watts = measurement.EnergyDelta(p.last, m) / secs
		}
	}
	p.last = m
	p.primed = true

	return m, nil
}

func (p *RaplPlugin) SupportedMetrics() []string {
	return []string{"joules", "watts", "dram_joules"}
}

// Close releases the active register backend
func (p *RaplPlugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reader == nil {
		return nil
	}
	err := p.reader.Close()
	p.reader = nil
	return err
}
