// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

// writeSocketPowerSensor builds a Grace style hwmon power sensor and
// returns the path of its power1_average file
func writeSocketPowerSensor(t *testing.T, sysRoot, dir, label string, microwatts uint64) string {
	t.Helper()
	deviceDir := filepath.Join(sysRoot, "class", "hwmon", dir, "device")
	require.NoError(t, os.MkdirAll(deviceDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(deviceDir, "power1_oem_info"), []byte(label+"\n"), 0o644))

	avgPath := filepath.Join(deviceDir, "power1_average")
	writeMicrowatts(t, avgPath, microwatts)
	return avgPath
}

func writeMicrowatts(t *testing.T, path string, microwatts uint64) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%d\n", microwatts)), 0o644))
}

func TestArmEnergyPlugin_NotAvailable(t *testing.T) {
	sysRoot := t.TempDir()
	// a non-socket OEM sensor must be ignored
	writeSocketPowerSensor(t, sysRoot, "hwmon0", "Module Power Socket 0", 1_000_000)

	p := NewArmEnergyPlugin(WithArmSysfsPath(sysRoot))
	assert.False(t, p.Available())

	err := p.Init()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestArmEnergyPlugin_SamplesSocketPower(t *testing.T) {
	sysRoot := t.TempDir()
	writeSocketPowerSensor(t, sysRoot, "hwmon0", "Grace Power Socket 0", 100_000_000)
	writeSocketPowerSensor(t, sysRoot, "hwmon1", "Grace Power Socket 1", 50_000_000)

	p := NewArmEnergyPlugin(WithArmSysfsPath(sysRoot))
	require.True(t, p.Available())
	require.NoError(t, p.Init())

	m, err := p.Measurement()
	require.NoError(t, err)
	assert.Equal(t, "arm-energy", m.Source)
	assert.InDelta(t, 150.0, m.Watts, 1e-9)
	assert.Zero(t, m.Joules, "no interval integrated yet")
	assert.InDelta(t, 100.0, m.Extra["grace_power_socket_0_watts"], 1e-9)
	assert.InDelta(t, 50.0, m.Extra["grace_power_socket_1_watts"], 1e-9)
}

func TestArmEnergyPlugin_IntegratesEnergy(t *testing.T) {
	sysRoot := t.TempDir()
	avgPath := writeSocketPowerSensor(t, sysRoot, "hwmon0", "Grace Power Socket 0", 100_000_000)

	fakeClock := testingclock.NewFakeClock(time.Now())
	p := NewArmEnergyPlugin(WithArmSysfsPath(sysRoot), WithArmClock(fakeClock))
	require.NoError(t, p.Init())

	_, err := p.Measurement()
	require.NoError(t, err)

	writeMicrowatts(t, avgPath, 50_000_000)
	fakeClock.Step(2 * time.Second)

	m, err := p.Measurement()
	require.NoError(t, err)
	assert.InDelta(t, 50.0, m.Watts, 1e-9)
	assert.InDelta(t, 100.0, m.Joules, 1e-9, "50 W over 2 s")

	// energy keeps accumulating across samples
	fakeClock.Step(1 * time.Second)
	m, err = p.Measurement()
	require.NoError(t, err)
	assert.InDelta(t, 150.0, m.Joules, 1e-9)
}

func TestArmEnergyPlugin_MeasurementBeforeInit(t *testing.T) {
	p := NewArmEnergyPlugin(WithArmSysfsPath(t.TempDir()))

	_, err := p.Measurement()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSensor)
}

func TestArmEnergyPlugin_MalformedValue(t *testing.T) {
	sysRoot := t.TempDir()
	avgPath := writeSocketPowerSensor(t, sysRoot, "hwmon0", "Grace Power Socket 0", 1_000_000)

	p := NewArmEnergyPlugin(WithArmSysfsPath(sysRoot))
	require.NoError(t, p.Init())

	require.NoError(t, os.WriteFile(avgPath, []byte("n/a\n"), 0o644))
	_, err := p.Measurement()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSensor)
}
