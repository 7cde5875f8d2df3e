// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter presents any hardware plugin as a uniform named energy
// source producing one or more measurements per read.
package adapter

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SMART-Dal/codegreen/internal/measurement"
	"github.com/SMART-Dal/codegreen/internal/plugin"
)

// closer is implemented by plugins holding releasable resources
type closer interface {
	Close() error
}

// EnergyAdapter wraps a HardwarePlugin under a stable source name. Upper
// layers only deal in measurements and never see the plugin surface.
type EnergyAdapter struct {
	plugin plugin.HardwarePlugin
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
}

// Opts holds the configurable fields of an EnergyAdapter
type Opts struct {
	logger *slog.Logger
}

// OptionFn sets one option in Opts
type OptionFn func(*Opts)

// WithLogger sets the logger for the adapter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// NewEnergyAdapter wraps the given plugin
func NewEnergyAdapter(p plugin.HardwarePlugin, applyOpts ...OptionFn) *EnergyAdapter {
	opts := Opts{
		logger: slog.Default(),
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &EnergyAdapter{
		plugin: p,
		logger: opts.logger.With("service", "adapter", "source", p.Name()),
	}
}

// Name returns the stable source name of the wrapped plugin
func (a *EnergyAdapter) Name() string {
	return a.plugin.Name()
}

// Available reports whether the underlying hardware is present
func (a *EnergyAdapter) Available() bool {
	return a.plugin.Available()
}

// Init calibrates the wrapped plugin. Idempotent.
func (a *EnergyAdapter) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}
	if err := a.plugin.Init(); err != nil {
		return fmt.Errorf("initializing %s: %w", a.plugin.Name(), err)
	}
	a.initialized = true
	return nil
}

// Start marks the source as recording. Delegates to the plugin's
// advisory measurement guard.
func (a *EnergyAdapter) Start() error {
	return a.plugin.StartMeasurement()
}

// Stop clears the recording mark set by Start
func (a *EnergyAdapter) Stop() error {
	return a.plugin.StopMeasurement()
}

// ReadMeasurements snapshots the source. Plugins that fan out (multi-GPU,
// multi-socket) return one measurement per sub-source; everything else
// returns exactly one.
func (a *EnergyAdapter) ReadMeasurements() ([]measurement.Measurement, error) {
	if mm, ok := a.plugin.(plugin.MultiMeasurer); ok {
		return mm.Measurements()
	}

	m, err := a.plugin.Measurement()
	if err != nil {
		return nil, err
	}
	return []measurement.Measurement{m}, nil
}

// Shutdown releases the plugin's resources if it holds any. Idempotent.
func (a *EnergyAdapter) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil
	}
	a.initialized = false

	c, ok := a.plugin.(closer)
	if !ok {
		return nil
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("shutting down %s: %w", a.plugin.Name(), err)
	}
	return nil
}

// CalculateDuration returns the elapsed time between two measurements of
// the same source, clamped to zero
func CalculateDuration(start, end measurement.Measurement) time.Duration {
	return measurement.Duration(start, end)
}

// CalculateEnergyDelta returns the wrap-corrected joule difference between
// two measurements of the same source
func CalculateEnergyDelta(start, end measurement.Measurement) float64 {
	return measurement.EnergyDelta(start, end)
}

// CreateSession pairs two measurements of the same source into a session
func CreateSession(start, end measurement.Measurement) (measurement.SourceSession, error) {
	return measurement.NewSourceSession(start, end)
}
