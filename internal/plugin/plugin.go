// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

// Package plugin defines the capability interface over physically distinct
// energy sources (RAPL, AMD energy, ARM energy counters, NVIDIA GPU) and
// the registry that owns the instantiated plugins.
package plugin

import (
	"fmt"
	"sync"

	"github.com/SMART-Dal/codegreen/internal/device"
	"github.com/SMART-Dal/codegreen/internal/measurement"
)

// Hardware access failures reuse the device level taxonomy so callers can
// match either package with errors.Is.
var (
	ErrDeviceNotFound   = device.ErrDeviceNotFound
	ErrPermissionDenied = device.ErrPermissionDenied
	ErrSensor           = device.ErrSensor

	// ErrUnsupportedOperation is shared with the session layer: plugins
	// return it when StartMeasurement or StopMeasurement is invoked out
	// of the permitted state sequence, sessions when they are mutated
	// after End.
	ErrUnsupportedOperation = measurement.ErrUnsupportedOperation
)

// HardwarePlugin is the capability interface every energy source backend
// implements. Implementations must be safe for concurrent use.
type HardwarePlugin interface {
	// Name returns the stable source identifier, e.g. "intel-rapl"
	Name() string

	// Description returns a human readable description of the source
	Description() string

	// Available reports whether the backing hardware interface is
	// present on this machine. Must be cheap, synchronous and free of
	// side effects; it is re-evaluated on every registry query since
	// hardware can appear and disappear.
	Available() bool

	// Init performs one-time calibration such as decoding the RAPL unit
	// scale registers. Idempotent. Fails with ErrDeviceNotFound or
	// ErrPermissionDenied when the backing interface is missing or
	// inaccessible.
	Init() error

	// StartMeasurement and StopMeasurement are advisory bracketing
	// guards. Starting twice without an intervening stop, or stopping
	// without a prior start, fails with ErrUnsupportedOperation. They
	// are not required for Measurement.
	StartMeasurement() error
	StopMeasurement() error

	// Measurement takes a stateless snapshot reading. Fails with
	// ErrSensor when the read returns malformed or truncated data.
	// The call may block on device I/O.
	Measurement() (measurement.Measurement, error)

	// SupportedMetrics lists the metric names this source advertises
	SupportedMetrics() []string
}

// MultiMeasurer is implemented by plugins that naturally fan out into
// several named sources per read, e.g. one measurement per GPU or per
// CPU socket.
type MultiMeasurer interface {
	Measurements() ([]measurement.Measurement, error)
}

// measurementGuard implements the advisory start/stop state shared by all
// plugin implementations.
type measurementGuard struct {
	mu         sync.Mutex
	inProgress bool
}

func (g *measurementGuard) start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inProgress {
		return fmt.Errorf("%w: measurement already in progress", ErrUnsupportedOperation)
	}
	g.inProgress = true
	return nil
}

func (g *measurementGuard) stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.inProgress {
		return fmt.Errorf("%w: no measurement in progress", ErrUnsupportedOperation)
	}
	g.inProgress = false
	return nil
}
