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

	"golang.org/x/sys/unix"
	"k8s.io/utils/clock"

	"github.com/SMART-Dal/codegreen/internal/measurement"
)

const (
	amdPluginName = "amd-energy"
	amdPluginDesc = "AMD per-socket energy counters via the amd_energy hwmon driver"

	amdHwmonChipName = "amd_energy"
)

// amdEnergyInput is one energy*_input file of the amd_energy hwmon chip
type amdEnergyInput struct {
	label string // e.g. "Esocket0" or "Ecore003"
	path  string
}

// AmdEnergyPlugin measures socket energy on AMD Zen CPUs through the
// amd_energy hwmon driver, which exposes the family's RAPL-equivalent
// counters as microjoule values.
type AmdEnergyPlugin struct {
	guard  measurementGuard
	logger *slog.Logger
	clock  clock.PassiveClock

	hwmonPath string // <sysfs>/class/hwmon

	mu     sync.Mutex
	inputs []amdEnergyInput
	last   measurement.Measurement
	primed bool
}

var _ HardwarePlugin = (*AmdEnergyPlugin)(nil)

// AmdOpts holds the configurable fields of an AmdEnergyPlugin
type AmdOpts struct {
	sysfsPath string
	logger    *slog.Logger
	clock     clock.PassiveClock
}

// AmdOptFn sets one option in AmdOpts
type AmdOptFn func(*AmdOpts)

// WithAmdSysfsPath sets the sysfs mount point
func WithAmdSysfsPath(path string) AmdOptFn {
	return func(o *AmdOpts) {
		o.sysfsPath = path
	}
}

// WithAmdLogger sets the logger for the plugin
func WithAmdLogger(logger *slog.Logger) AmdOptFn {
	return func(o *AmdOpts) {
		o.logger = logger
	}
}

// WithAmdClock sets the clock used to stamp measurements
func WithAmdClock(c clock.PassiveClock) AmdOptFn {
	return func(o *AmdOpts) {
		o.clock = c
	}
}

// NewAmdEnergyPlugin creates the AMD energy plugin
func NewAmdEnergyPlugin(applyOpts ...AmdOptFn) *AmdEnergyPlugin {
	opts := AmdOpts{
		sysfsPath: "/sys",
		logger:    slog.Default(),
		clock:     clock.RealClock{},
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &AmdEnergyPlugin{
		logger:    opts.logger.With("service", amdPluginName),
		clock:     opts.clock,
		hwmonPath: filepath.Join(opts.sysfsPath, "class", "hwmon"),
	}
}

func (p *AmdEnergyPlugin) Name() string {
	return amdPluginName
}

func (p *AmdEnergyPlugin) Description() string {
	return amdPluginDesc
}

// Available checks for an amd_energy hwmon chip
func (p *AmdEnergyPlugin) Available() bool {
	dir, err := p.findChipDir()
	return err == nil && dir != ""
}

// Init enumerates the chip's energy input files and verifies they can be
// read by this process. Idempotent.
func (p *AmdEnergyPlugin) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.inputs) > 0 {
		return nil
	}

	chipDir, err := p.findChipDir()
	if err != nil {
		return err
	}
	if chipDir == "" {
		return fmt.Errorf("%w: no %s hwmon chip under %s", ErrDeviceNotFound, amdHwmonChipName, p.hwmonPath)
	}

	entries, err := os.ReadDir(chipDir)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrSensor, chipDir, err)
	}

	var inputs []amdEnergyInput
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "energy") || !strings.HasSuffix(name, "_input") {
			continue
		}
		inputPath := filepath.Join(chipDir, name)
		if err := unix.Access(inputPath, unix.R_OK); err != nil {
			return fmt.Errorf("%w: %s is not readable: %v", ErrPermissionDenied, inputPath, err)
		}

		label := strings.TrimSuffix(name, "_input")
		labelPath := filepath.Join(chipDir, label+"_label")
		if data, err := os.ReadFile(labelPath); err == nil {
			label = strings.TrimSpace(string(data))
		}
		inputs = append(inputs, amdEnergyInput{label: label, path: inputPath})
	}

	if len(inputs) == 0 {
		return fmt.Errorf("%w: %s chip exposes no energy inputs", ErrDeviceNotFound, amdHwmonChipName)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].label < inputs[j].label })
	p.inputs = inputs

	p.logger.Info("AMD energy plugin initialized", "chip", chipDir, "inputs", len(inputs))
	return nil
}

func (p *AmdEnergyPlugin) StartMeasurement() error {
	return p.guard.start()
}

func (p *AmdEnergyPlugin) StopMeasurement() error {
	return p.guard.stop()
}

// Measurement sums the socket energy counters. Core rail counters are
// reported as extra metrics but excluded from the total since the socket
// rails already contain them.
func (p *AmdEnergyPlugin) Measurement() (measurement.Measurement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.inputs) == 0 {
		return measurement.Measurement{}, fmt.Errorf("%w: amd energy plugin not initialized", ErrSensor)
	}

	extra := make(map[string]float64, len(p.inputs))
	var totalJoules float64
	var sawSocket bool

	for _, input := range p.inputs {
		uj, err := readMicrojoules(input.path)
		if err != nil {
			return measurement.Measurement{}, err
		}
		joules := uj / 1e6
		extra[input.label+"_joules"] = joules

		if strings.HasPrefix(input.label, "Esocket") {
			totalJoules += joules
			sawSocket = true
		}
	}
	if !sawSocket {
		// chips without socket rails report core rails only
		for _, input := range p.inputs {
			totalJoules += extra[input.label+"_joules"]
		}
	}

	m := measurement.Measurement{
		Timestamp: p.clock.Now(),
		Source:    amdPluginName,
		Joules:    totalJoules,
		Extra:     extra,
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

func (p *AmdEnergyPlugin) SupportedMetrics() []string {
	return []string{"joules", "watts"}
}

// findChipDir scans the hwmon class directory for the amd_energy chip
func (p *AmdEnergyPlugin) findChipDir() (string, error) {
	entries, err := os.ReadDir(p.hwmonPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("%w: reading %s: %v", ErrSensor, p.hwmonPath, err)
	}

	for _, entry := range entries {
		chipDir := filepath.Join(p.hwmonPath, entry.Name())
		data, err := os.ReadFile(filepath.Join(chipDir, "name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == amdHwmonChipName {
			return chipDir, nil
		}
	}
	return "", nil
}

// readMicrojoules parses one hwmon energy input file
func readMicrojoules(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrSensor, path, err)
	}
	uj, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed energy value in %s: %v", ErrSensor, path, err)
	}
	return uj, nil
}
