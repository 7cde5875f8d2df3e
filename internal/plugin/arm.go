// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/SMART-Dal/codegreen/internal/measurement"
)

const (
	armPluginName = "arm-energy"
	armPluginDesc = "ARM SoC power telemetry via ACPI/SCMI hwmon sensors"

	armPowerPrefix  = "power1"
	armOemInfoFile  = "_oem_info"
	armAverageFile  = "_average"
	armSocketPrefix = "Grace Power Socket"
)

// armPowerSensor is one per-socket average power sensor
type armPowerSensor struct {
	label string
	path  string // power1_average file reporting microwatts
}

// ArmEnergyPlugin measures SoC energy on ARM server parts (NVIDIA Grace
// and SCMI based designs) whose firmware exposes socket power through
// hwmon. The hardware reports instantaneous power only, so cumulative
// energy is integrated from power samples over the sampling interval.
type ArmEnergyPlugin struct {
	guard  measurementGuard
	logger *slog.Logger
	clock  clock.PassiveClock

	hwmonPath string

	mu          sync.Mutex
	sensors     []armPowerSensor
	accumJoules float64
	lastSample  time.Time
	primed      bool
}

var _ HardwarePlugin = (*ArmEnergyPlugin)(nil)

// ArmOpts holds the configurable fields of an ArmEnergyPlugin
type ArmOpts struct {
	sysfsPath string
	logger    *slog.Logger
	clock     clock.PassiveClock
}

// ArmOptFn sets one option in ArmOpts
type ArmOptFn func(*ArmOpts)

// WithArmSysfsPath sets the sysfs mount point
func WithArmSysfsPath(path string) ArmOptFn {
	return func(o *ArmOpts) {
		o.sysfsPath = path
	}
}

// WithArmLogger sets the logger for the plugin
func WithArmLogger(logger *slog.Logger) ArmOptFn {
	return func(o *ArmOpts) {
		o.logger = logger
	}
}

// WithArmClock sets the clock used to stamp measurements
func WithArmClock(c clock.PassiveClock) ArmOptFn {
	return func(o *ArmOpts) {
		o.clock = c
	}
}

// NewArmEnergyPlugin creates the ARM energy plugin
func NewArmEnergyPlugin(applyOpts ...ArmOptFn) *ArmEnergyPlugin {
	opts := ArmOpts{
		sysfsPath: "/sys",
		logger:    slog.Default(),
		clock:     clock.RealClock{},
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &ArmEnergyPlugin{
		logger:    opts.logger.With("service", armPluginName),
		clock:     opts.clock,
		hwmonPath: filepath.Join(opts.sysfsPath, "class", "hwmon"),
	}
}

func (p *ArmEnergyPlugin) Name() string {
	return armPluginName
}

func (p *ArmEnergyPlugin) Description() string {
	return armPluginDesc
}

// Available checks for at least one socket power sensor
func (p *ArmEnergyPlugin) Available() bool {
	sensors, err := p.findSensors()
	return err == nil && len(sensors) > 0
}

// Init enumerates the socket power sensors. Idempotent.
func (p *ArmEnergyPlugin) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sensors) > 0 {
		return nil
	}

	sensors, err := p.findSensors()
	if err != nil {
		return err
	}
	if len(sensors) == 0 {
		return fmt.Errorf("%w: no socket power sensors under %s", ErrDeviceNotFound, p.hwmonPath)
	}

	// verify the first sensor is readable before committing
	if _, err := readMicrowatts(sensors[0].path); err != nil {
		return err
	}

	p.sensors = sensors
	p.logger.Info("ARM energy plugin initialized", "sensors", len(sensors))
	return nil
}

func (p *ArmEnergyPlugin) StartMeasurement() error {
	return p.guard.start()
}

func (p *ArmEnergyPlugin) StopMeasurement() error {
	return p.guard.stop()
}

// Measurement samples the socket power sensors and integrates them into a
// cumulative energy counter (E += P * dt between samples).
func (p *ArmEnergyPlugin) Measurement() (measurement.Measurement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sensors) == 0 {
		return measurement.Measurement{}, fmt.Errorf("%w: arm energy plugin not initialized", ErrSensor)
	}

	extra := make(map[string]float64, len(p.sensors))
	var totalWatts float64
	for _, sensor := range p.sensors {
		uw, err := readMicrowatts(sensor.path)
		if err != nil {
			return measurement.Measurement{}, err
		}
		watts := uw / 1e6
		extra[sensorKey(sensor.label)+"_watts"] = watts
		totalWatts += watts
	}

	now := p.clock.Now()
	if p.primed {
		if secs := now.Sub(p.lastSample).Seconds(); secs > 0 {
			p.accumJoules += totalWatts * secs
		}
	}
	p.lastSample = now
	p.primed = true

	return measurement.Measurement{
		Timestamp: now,
		Source:    armPluginName,
		Joules:    p.accumJoules,
		Watts:     totalWatts,
		Extra:     extra,
	}, nil
}

func (p *ArmEnergyPlugin) SupportedMetrics() []string {
	return []string{"joules", "watts"}
}

// findSensors scans hwmon chips for labelled socket power sensors the way
// the Grace performance tuning guide documents them: a power1_oem_info
// label file next to a power1_average microwatt reading.
func (p *ArmEnergyPlugin) findSensors() ([]armPowerSensor, error) {
	entries, err := os.ReadDir(p.hwmonPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrSensor, p.hwmonPath, err)
	}

	var sensors []armPowerSensor
	for _, entry := range entries {
		deviceDir := filepath.Join(p.hwmonPath, entry.Name(), "device")

		data, err := os.ReadFile(filepath.Join(deviceDir, armPowerPrefix+armOemInfoFile))
		if err != nil {
			continue
		}
		label := strings.TrimSpace(string(data))
		if !strings.HasPrefix(label, armSocketPrefix) {
			continue
		}

		avgPath := filepath.Join(deviceDir, armPowerPrefix+armAverageFile)
		if _, err := os.Stat(avgPath); err != nil {
			continue
		}
		sensors = append(sensors, armPowerSensor{label: label, path: avgPath})
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].label < sensors[j].label })
	return sensors, nil
}

// sensorKey converts an OEM label into a metric key, e.g.
// "Grace Power Socket 0" -> "grace_power_socket_0"
func sensorKey(label string) string {
	return strings.ToLower(strings.ReplaceAll(label, " ", "_"))
}

// readMicrowatts parses one hwmon power average file
func readMicrowatts(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return 0, fmt.Errorf("%w: reading %s: %v", ErrPermissionDenied, path, err)
		}
		return 0, fmt.Errorf("%w: reading %s: %v", ErrSensor, path, err)
	}
	uw, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed power value in %s: %v", ErrSensor, path, err)
	}
	return uw, nil
}
