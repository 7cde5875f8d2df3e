// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SMART-Dal/codegreen/internal/device"
)

// fakeNvml is a scripted nvmlBackend
type fakeNvml struct {
	initErr   error
	count     int
	countErr  error
	energies  []uint64 // millijoules per device
	powers    []uint32 // milliwatts per device
	energyErr error

	shutdowns int
}

func (f *fakeNvml) Init() error { return f.initErr }

func (f *fakeNvml) Shutdown() error {
	f.shutdowns++
	return nil
}

func (f *fakeNvml) DeviceCount() (int, error) { return f.count, f.countErr }

func (f *fakeNvml) DeviceEnergy(index int) (uint64, error) {
	if f.energyErr != nil {
		return 0, f.energyErr
	}
	return f.energies[index], nil
}

func (f *fakeNvml) DevicePower(index int) (uint32, error) {
	return f.powers[index], nil
}

// writeDriverVersionFile fakes the procfs driver presence probe
func writeDriverVersionFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "version")
	require.NoError(t, os.WriteFile(path, []byte("NVRM version: 550.54\n"), 0o644))
	return path
}

func TestNvidiaGpuPlugin_Available(t *testing.T) {
	p := NewNvidiaGpuPlugin(WithNvidiaDriverProcPath(filepath.Join(t.TempDir(), "missing")))
	assert.False(t, p.Available())

	p = NewNvidiaGpuPlugin(WithNvidiaDriverProcPath(writeDriverVersionFile(t)))
	assert.True(t, p.Available())
}

func TestNvidiaGpuPlugin_InitNoDevices(t *testing.T) {
	backend := &fakeNvml{count: 0}
	p := NewNvidiaGpuPlugin(WithNvidiaBackend(backend))

	err := p.Init()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, 1, backend.shutdowns, "NVML must be shut down on a failed init")
}

func TestNvidiaGpuPlugin_InitFailure(t *testing.T) {
	backend := &fakeNvml{initErr: fmt.Errorf("%w: libnvidia-ml not found", device.ErrDeviceNotFound)}
	p := NewNvidiaGpuPlugin(WithNvidiaBackend(backend))

	err := p.Init()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestNvidiaGpuPlugin_MeasurementsFanOut(t *testing.T) {
	backend := &fakeNvml{
		count:    2,
		energies: []uint64{12_500, 30_000},   // mJ
		powers:   []uint32{150_000, 250_000}, // mW
	}
	p := NewNvidiaGpuPlugin(WithNvidiaBackend(backend))
	require.NoError(t, p.Init())

	ms, err := p.Measurements()
	require.NoError(t, err)
	require.Len(t, ms, 2)

	assert.Equal(t, "nvidia-gpu0", ms[0].Source)
	assert.InDelta(t, 12.5, ms[0].Joules, 1e-9)
	assert.InDelta(t, 150.0, ms[0].Watts, 1e-9)

	assert.Equal(t, "nvidia-gpu1", ms[1].Source)
	assert.InDelta(t, 30.0, ms[1].Joules, 1e-9)
	assert.InDelta(t, 250.0, ms[1].Watts, 1e-9)
}

func TestNvidiaGpuPlugin_MeasurementIsDeviceZero(t *testing.T) {
	backend := &fakeNvml{
		count:    2,
		energies: []uint64{1_000, 2_000},
		powers:   []uint32{10_000, 20_000},
	}
	p := NewNvidiaGpuPlugin(WithNvidiaBackend(backend))
	require.NoError(t, p.Init())

	m, err := p.Measurement()
	require.NoError(t, err)
	assert.Equal(t, "nvidia-gpu0", m.Source)
	assert.InDelta(t, 1.0, m.Joules, 1e-9)
}

func TestNvidiaGpuPlugin_MeasurementsBeforeInit(t *testing.T) {
	p := NewNvidiaGpuPlugin(WithNvidiaBackend(&fakeNvml{count: 1}))

	_, err := p.Measurements()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSensor)
}

func TestNvidiaGpuPlugin_ReadErrorPropagates(t *testing.T) {
	backend := &fakeNvml{
		count:     1,
		energies:  []uint64{0},
		powers:    []uint32{0},
		energyErr: fmt.Errorf("%w: gpu is lost", device.ErrSensor),
	}
	p := NewNvidiaGpuPlugin(WithNvidiaBackend(backend))
	require.NoError(t, p.Init())

	_, err := p.Measurements()
	assert.ErrorIs(t, err, ErrSensor)
}

func TestNvidiaGpuPlugin_Close(t *testing.T) {
	backend := &fakeNvml{count: 1, energies: []uint64{1}, powers: []uint32{1}}
	p := NewNvidiaGpuPlugin(WithNvidiaBackend(backend))

	require.NoError(t, p.Close(), "closing an uninitialized plugin is a no-op")
	assert.Zero(t, backend.shutdowns)

	require.NoError(t, p.Init())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, backend.shutdowns)

	_, err := p.Measurements()
	assert.ErrorIs(t, err, ErrSensor)
}
