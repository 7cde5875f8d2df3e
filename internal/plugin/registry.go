// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"log/slog"
	"sync"
)

// Descriptor is the serializable identity of a plugin exposed through the
// registry query API.
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Available   bool     `json:"available"`
	Metrics     []string `json:"metrics"`
}

// Registry owns the set of instantiated plugins for the lifetime of one
// engine instance. It is read-mostly after construction; Register
// synchronizes against concurrent queries.
type Registry struct {
	mu      sync.RWMutex
	plugins []HardwarePlugin
	logger  *slog.Logger
}

// NewRegistry creates a registry holding the given plugins. Nil entries
// (variants whose construction failed) are omitted silently: absence of a
// hardware backend is normal, not exceptional.
func NewRegistry(logger *slog.Logger, plugins ...HardwarePlugin) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{logger: logger.With("service", "plugin-registry")}
	for _, p := range plugins {
		if p == nil {
			continue
		}
		r.plugins = append(r.plugins, p)
		r.logger.Debug("registered plugin", "plugin", p.Name())
	}
	return r
}

// DiscoverOpts configures the compiled-in plugin variants
type DiscoverOpts struct {
	sysfsPath      string
	msrPath        string
	msrCPU         int
	nvidiaProcPath string
	nvidiaEnabled  bool
	logger         *slog.Logger
}

// DiscoverOptFn sets one option in DiscoverOpts
type DiscoverOptFn func(*DiscoverOpts)

// WithSysfsPath sets the sysfs mount point used by the sysfs backed plugins
func WithSysfsPath(path string) DiscoverOptFn {
	return func(o *DiscoverOpts) {
		o.sysfsPath = path
	}
}

// WithMSRDevice sets the MSR device path template and the CPU to read from
func WithMSRDevice(pathTemplate string, cpu int) DiscoverOptFn {
	return func(o *DiscoverOpts) {
		o.msrPath = pathTemplate
		o.msrCPU = cpu
	}
}

// WithNvidiaDriverPath sets the procfs file probed for NVIDIA driver presence
func WithNvidiaDriverPath(path string) DiscoverOptFn {
	return func(o *DiscoverOpts) {
		o.nvidiaProcPath = path
	}
}

// WithNvidiaEnabled controls whether the NVIDIA GPU variant is registered
func WithNvidiaEnabled(enabled bool) DiscoverOptFn {
	return func(o *DiscoverOpts) {
		o.nvidiaEnabled = enabled
	}
}

// WithDiscoverLogger sets the logger passed to the constructed plugins
func WithDiscoverLogger(logger *slog.Logger) DiscoverOptFn {
	return func(o *DiscoverOpts) {
		o.logger = logger
	}
}

// NewDefaultRegistry constructs every known plugin variant and registers
// the results. Hardware that is not present is reflected only through
// Available, never as a construction error.
func NewDefaultRegistry(applyOpts ...DiscoverOptFn) *Registry {
	opts := DiscoverOpts{
		sysfsPath:      "/sys",
		msrPath:        "/dev/cpu/%d/msr",
		msrCPU:         0,
		nvidiaProcPath: nvidiaDriverProcPath,
		nvidiaEnabled:  true,
		logger:         slog.Default(),
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	var nvidia HardwarePlugin
	if opts.nvidiaEnabled {
		nvidia = NewNvidiaGpuPlugin(
			WithNvidiaDriverProcPath(opts.nvidiaProcPath),
			WithNvidiaLogger(opts.logger),
		)
	}

	return NewRegistry(opts.logger,
		NewRaplPlugin(
			WithRaplSysfsPath(opts.sysfsPath),
			WithRaplMSRDevice(opts.msrPath, opts.msrCPU),
			WithRaplLogger(opts.logger),
		),
		NewAmdEnergyPlugin(
			WithAmdSysfsPath(opts.sysfsPath),
			WithAmdLogger(opts.logger),
		),
		NewArmEnergyPlugin(
			WithArmSysfsPath(opts.sysfsPath),
			WithArmLogger(opts.logger),
		),
		nvidia,
	)
}

// Register adds an externally supplied plugin instance, e.g. a test double
// or a future hardware backend.
func (r *Registry) Register(p HardwarePlugin) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
}

// Plugins returns all registered plugins regardless of availability
func (r *Registry) Plugins() []HardwarePlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]HardwarePlugin, len(r.plugins))
	copy(plugins, r.plugins)
	return plugins
}

// Available returns the plugins currently reporting an available backing
// interface. The list is recomputed on every call since hardware presence
// is time-variant.
func (r *Registry) Available() []HardwarePlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var available []HardwarePlugin
	for _, p := range r.plugins {
		if p.Available() {
			available = append(available, p)
		}
	}
	return available
}

// Get performs a linear lookup by plugin name; the plugin cardinality is
// small so no index is kept.
func (r *Registry) Get(name string) (HardwarePlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Descriptors returns the query API view of all registered plugins
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.plugins))
	for _, p := range r.plugins {
		descriptors = append(descriptors, Descriptor{
			Name:        p.Name(),
			Description: p.Description(),
			Available:   p.Available(),
			Metrics:     p.SupportedMetrics(),
		})
	}
	return descriptors
}
