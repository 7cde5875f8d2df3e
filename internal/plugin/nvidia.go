// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"k8s.io/utils/clock"

	"github.com/SMART-Dal/codegreen/internal/measurement"
)

const (
	nvidiaPluginName = "nvidia-gpu"
	nvidiaPluginDesc = "NVIDIA GPU energy and power via NVML"

	// presence of this procfs file means the NVIDIA kernel driver is
	// loaded; checking it is much cheaper than initializing NVML
	nvidiaDriverProcPath = "/proc/driver/nvidia/version"
)

// nvmlBackend abstracts the NVML library calls used by the plugin so tests
// can run without GPU hardware.
type nvmlBackend interface {
	Init() error
	Shutdown() error
	DeviceCount() (int, error)

	// DeviceEnergy returns the cumulative energy of the device in millijoules
	DeviceEnergy(index int) (uint64, error)

	// DevicePower returns the current power draw of the device in milliwatts
	DevicePower(index int) (uint32, error)
}

// NvidiaGpuPlugin measures GPU energy through NVML's cumulative energy
// counter. Multi-GPU machines fan out into one source per device
// ("nvidia-gpu0", "nvidia-gpu1", ...).
type NvidiaGpuPlugin struct {
	guard  measurementGuard
	logger *slog.Logger
	clock  clock.PassiveClock

	procPath string
	backend  nvmlBackend

	mu          sync.Mutex
	deviceCount int
	initialized bool
}

var (
	_ HardwarePlugin = (*NvidiaGpuPlugin)(nil)
	_ MultiMeasurer  = (*NvidiaGpuPlugin)(nil)
)

// NvidiaOpts holds the configurable fields of an NvidiaGpuPlugin
type NvidiaOpts struct {
	procPath string
	backend  nvmlBackend
	logger   *slog.Logger
	clock    clock.PassiveClock
}

// NvidiaOptFn sets one option in NvidiaOpts
type NvidiaOptFn func(*NvidiaOpts)

// WithNvidiaLogger sets the logger for the plugin
func WithNvidiaLogger(logger *slog.Logger) NvidiaOptFn {
	return func(o *NvidiaOpts) {
		o.logger = logger
	}
}

// WithNvidiaBackend overrides the NVML backend (for testing)
func WithNvidiaBackend(b nvmlBackend) NvidiaOptFn {
	return func(o *NvidiaOpts) {
		o.backend = b
	}
}

// WithNvidiaDriverProcPath overrides the driver presence probe path (for testing)
func WithNvidiaDriverProcPath(path string) NvidiaOptFn {
	return func(o *NvidiaOpts) {
		o.procPath = path
	}
}

// WithNvidiaClock sets the clock used to stamp measurements
func WithNvidiaClock(c clock.PassiveClock) NvidiaOptFn {
	return func(o *NvidiaOpts) {
		o.clock = c
	}
}

// NewNvidiaGpuPlugin creates the NVIDIA GPU plugin
func NewNvidiaGpuPlugin(applyOpts ...NvidiaOptFn) *NvidiaGpuPlugin {
	opts := NvidiaOpts{
		procPath: nvidiaDriverProcPath,
		logger:   slog.Default(),
		clock:    clock.RealClock{},
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	logger := opts.logger.With("service", nvidiaPluginName)
	backend := opts.backend
	if backend == nil {
		backend = &nvmlLib{logger: logger}
	}

	return &NvidiaGpuPlugin{
		logger:   logger,
		clock:    opts.clock,
		procPath: opts.procPath,
		backend:  backend,
	}
}

func (p *NvidiaGpuPlugin) Name() string {
	return nvidiaPluginName
}

func (p *NvidiaGpuPlugin) Description() string {
	return nvidiaPluginDesc
}

// Available checks for the NVIDIA kernel driver without touching NVML
func (p *NvidiaGpuPlugin) Available() bool {
	_, err := os.Stat(p.procPath)
	return err == nil
}

// Init loads NVML and discovers the devices. Idempotent.
func (p *NvidiaGpuPlugin) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	if err := p.backend.Init(); err != nil {
		return err
	}

	count, err := p.backend.DeviceCount()
	if err != nil {
		_ = p.backend.Shutdown()
		return err
	}
	if count == 0 {
		_ = p.backend.Shutdown()
		return fmt.Errorf("%w: NVML reports no GPU devices", ErrDeviceNotFound)
	}

	p.deviceCount = count
	p.initialized = true
	p.logger.Info("NVIDIA GPU plugin initialized", "devices", count)
	return nil
}

func (p *NvidiaGpuPlugin) StartMeasurement() error {
	return p.guard.start()
}

func (p *NvidiaGpuPlugin) StopMeasurement() error {
	return p.guard.stop()
}

// Measurement returns the reading of device 0; multi-GPU callers use
// Measurements for the full fan-out.
func (p *NvidiaGpuPlugin) Measurement() (measurement.Measurement, error) {
	ms, err := p.Measurements()
	if err != nil {
		return measurement.Measurement{}, err
	}
	return ms[0], nil
}

// Measurements returns one measurement per GPU device
func (p *NvidiaGpuPlugin) Measurements() ([]measurement.Measurement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("%w: nvidia plugin not initialized", ErrSensor)
	}

	ms := make([]measurement.Measurement, 0, p.deviceCount)
	for i := 0; i < p.deviceCount; i++ {
		millijoules, err := p.backend.DeviceEnergy(i)
		if err != nil {
			return nil, err
		}
		milliwatts, err := p.backend.DevicePower(i)
		if err != nil {
			return nil, err
		}

		ms = append(ms, measurement.Measurement{
			Timestamp: p.clock.Now(),
			Source:    fmt.Sprintf("%s%d", nvidiaPluginName, i),
			Joules:    float64(millijoules) / 1e3,
			Watts:     float64(milliwatts) / 1e3,
		})
	}
	return ms, nil
}

func (p *NvidiaGpuPlugin) SupportedMetrics() []string {
	return []string{"joules", "watts"}
}

// Close shuts NVML down
func (p *NvidiaGpuPlugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}
	p.initialized = false
	return p.backend.Shutdown()
}
