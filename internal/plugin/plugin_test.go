// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SMART-Dal/codegreen/internal/measurement"
)

// stubPlugin is a minimal HardwarePlugin for registry and guard tests
type stubPlugin struct {
	guard       measurementGuard
	name        string
	available   bool
	measurement measurement.Measurement
	readErr     error
}

func (s *stubPlugin) Name() string        { return s.name }
func (s *stubPlugin) Description() string { return "stub plugin" }
func (s *stubPlugin) Available() bool     { return s.available }
func (s *stubPlugin) Init() error         { return nil }

func (s *stubPlugin) StartMeasurement() error { return s.guard.start() }
func (s *stubPlugin) StopMeasurement() error  { return s.guard.stop() }

func (s *stubPlugin) Measurement() (measurement.Measurement, error) {
	if s.readErr != nil {
		return measurement.Measurement{}, s.readErr
	}
	m := s.measurement
	m.Source = s.name
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return m, nil
}

func (s *stubPlugin) SupportedMetrics() []string { return []string{"joules", "watts"} }

func TestMeasurementGuard(t *testing.T) {
	p := &stubPlugin{name: "stub"}

	require.NoError(t, p.StartMeasurement())

	err := p.StartMeasurement()
	require.Error(t, err, "second start without stop must fail")
	assert.ErrorIs(t, err, ErrUnsupportedOperation)

	require.NoError(t, p.StopMeasurement())

	err = p.StopMeasurement()
	require.Error(t, err, "stop without prior start must fail")
	assert.ErrorIs(t, err, ErrUnsupportedOperation)

	// the guard is reusable after a full start/stop cycle
	require.NoError(t, p.StartMeasurement())
	require.NoError(t, p.StopMeasurement())
}

func TestRegistry_AvailableFiltering(t *testing.T) {
	present := &stubPlugin{name: "present", available: true}
	absent := &stubPlugin{name: "absent", available: false}

	r := NewRegistry(nil, present, absent)

	available := r.Available()
	require.Len(t, available, 1)
	assert.Equal(t, "present", available[0].Name())

	// availability is re-evaluated per query, not cached
	absent.available = true
	assert.Len(t, r.Available(), 2)
	absent.available = false
	assert.Len(t, r.Available(), 1)
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(nil, &stubPlugin{name: "cpu"}, &stubPlugin{name: "gpu"})

	p, ok := r.Get("gpu")
	require.True(t, ok)
	assert.Equal(t, "gpu", p.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_RegisterExternalPlugin(t *testing.T) {
	r := NewRegistry(nil)
	assert.Empty(t, r.Plugins())

	r.Register(&stubPlugin{name: "external", available: true})
	assert.Len(t, r.Plugins(), 1)
	assert.Len(t, r.Available(), 1)

	r.Register(nil) // nil registrations are ignored
	assert.Len(t, r.Plugins(), 1)
}

func TestRegistry_OmitsNilVariants(t *testing.T) {
	r := NewRegistry(nil, nil, &stubPlugin{name: "only"}, nil)
	require.Len(t, r.Plugins(), 1)
	assert.Equal(t, "only", r.Plugins()[0].Name())
}

func TestRegistry_Descriptors(t *testing.T) {
	r := NewRegistry(nil, &stubPlugin{name: "cpu", available: true})

	ds := r.Descriptors()
	require.Len(t, ds, 1)
	assert.Equal(t, "cpu", ds[0].Name)
	assert.Equal(t, "stub plugin", ds[0].Description)
	assert.True(t, ds[0].Available)
	assert.Equal(t, []string{"joules", "watts"}, ds[0].Metrics)
}

func TestNewDefaultRegistry(t *testing.T) {
	// point every plugin at an empty tree: all variants construct, none
	// of them is available
	sysRoot := t.TempDir()
	r := NewDefaultRegistry(
		WithSysfsPath(sysRoot),
		WithMSRDevice(sysRoot+"/cpu%d-msr", 0),
		WithNvidiaDriverPath(sysRoot+"/nvidia-version"),
	)

	assert.Len(t, r.Plugins(), 4, "all compiled-in variants are registered")
	assert.Empty(t, r.Available())

	for _, name := range []string{"intel-rapl", "amd-energy", "arm-energy", "nvidia-gpu"} {
		_, ok := r.Get(name)
		assert.True(t, ok, "plugin %s should be registered", name)
	}
}

func TestNewDefaultRegistry_NvidiaDisabled(t *testing.T) {
	sysRoot := t.TempDir()
	r := NewDefaultRegistry(
		WithSysfsPath(sysRoot),
		WithMSRDevice(sysRoot+"/cpu%d-msr", 0),
		WithNvidiaEnabled(false),
	)

	assert.Len(t, r.Plugins(), 3)
	_, ok := r.Get("nvidia-gpu")
	assert.False(t, ok)
}

func TestErrorTaxonomy(t *testing.T) {
	// the plugin level aliases must match the device level sentinels
	err := errors.Join(ErrDeviceNotFound, ErrPermissionDenied, ErrSensor)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, ErrSensor)
}
