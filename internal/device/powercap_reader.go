// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"strings"

	"github.com/prometheus/procfs/sysfs"
)

// PowercapReader implements RaplReader using the Linux powercap sysfs
// interface. It is the unprivileged fallback when the MSR device is not
// accessible: the kernel intel_rapl driver exposes the same counters as
// microjoule values under /sys/class/powercap.
type PowercapReader struct {
	sysfsPath string
	fs        sysfs.FS

	pkg  *zoneAccumulator
	dram *zoneAccumulator
}

var _ RaplReader = (*PowercapReader)(nil)

// NewPowercapReader creates a powercap reader rooted at the given sysfs
// mount point (normally /sys).
func NewPowercapReader(sysfsPath string) *PowercapReader {
	return &PowercapReader{sysfsPath: sysfsPath}
}

// Name returns the name of this RAPL backend
func (p *PowercapReader) Name() string {
	return "powercap"
}

// Available checks whether RAPL zones can be enumerated from powercap
func (p *PowercapReader) Available() bool {
	fs, err := sysfs.NewFS(p.sysfsPath)
	if err != nil {
		return false
	}
	zones, err := sysfs.GetRaplZones(fs)
	return err == nil && len(zones) > 0
}

// Init enumerates the powercap RAPL zones and verifies they are readable
func (p *PowercapReader) Init() error {
	if p.pkg != nil {
		return nil
	}

	fs, err := sysfs.NewFS(p.sysfsPath)
	if err != nil {
		return classifyPathError("open sysfs at", p.sysfsPath, err)
	}
	p.fs = fs

	zones, err := sysfs.GetRaplZones(fs)
	if err != nil {
		return classifyPathError("enumerate rapl zones under", p.sysfsPath, err)
	}

	var pkgZones, dramZones []sysfs.RaplZone
	for _, zone := range zones {
		switch {
		case strings.HasPrefix(zone.Name, "package"):
			pkgZones = append(pkgZones, zone)
		case zone.Name == "dram":
			dramZones = append(dramZones, zone)
		}
	}

	if len(pkgZones) == 0 {
		return fmt.Errorf("%w: no package zone under %s", ErrDeviceNotFound, p.sysfsPath)
	}

	// verify the first package zone is actually readable
	if _, err := pkgZones[0].GetEnergyMicrojoules(); err != nil {
		return classifyPathError("read energy from", pkgZones[0].Path, err)
	}

	p.pkg = newZoneAccumulator(pkgZones)
	if len(dramZones) > 0 {
		p.dram = newZoneAccumulator(dramZones)
	}
	return nil
}

// Read samples the package and DRAM zones. Multi-socket systems report one
// zone per socket and each socket's counter wraps independently, so zones
// are unwrapped individually before they are summed into one reading.
func (p *PowercapReader) Read() (RaplReading, error) {
	if p.pkg == nil {
		return RaplReading{}, fmt.Errorf("%w: powercap reader not initialized", ErrSensor)
	}

	pkg, err := p.pkg.read()
	if err != nil {
		return RaplReading{}, err
	}

	reading := RaplReading{
		Package:   pkg,
		MaxEnergy: p.pkg.max,
	}

	if p.dram != nil {
		dram, err := p.dram.read()
		if err != nil {
			return RaplReading{}, err
		}
		reading.DRAM = dram
		reading.HasDRAM = true
	}

	return reading, nil
}

// Close releases resources; powercap holds no open handles between reads
func (p *PowercapReader) Close() error {
	return nil
}

// zoneAccumulator folds several same-kind powercap zones into a single
// counter. Each zone's raw value is unwrapped against its own
// max_energy_range_uj before its delta enters the aggregate, then the
// aggregate wraps at the summed range so downstream delta correction sees
// an ordinary hardware-like counter.
type zoneAccumulator struct {
	zones   []sysfs.RaplZone
	last    map[string]Energy
	current Energy
	max     Energy
}

func newZoneAccumulator(zones []sysfs.RaplZone) *zoneAccumulator {
	var max Energy
	for _, zone := range zones {
		max += Energy(zone.MaxMicrojoules)
	}
	return &zoneAccumulator{
		zones: zones,
		last:  make(map[string]Energy, len(zones)),
		max:   max,
	}
}

func (a *zoneAccumulator) read() (Energy, error) {
	var delta Energy
	for _, zone := range a.zones {
		uj, err := zone.GetEnergyMicrojoules()
		if err != nil {
			return 0, classifyPathError("read energy from", zone.Path, err)
		}
		curr := Energy(uj)
		prev, seen := a.last[zone.Path]
		switch {
		case !seen:
			delta += curr
		case curr >= prev:
			delta += curr - prev
		case zone.MaxMicrojoules > 0:
			delta += Energy(zone.MaxMicrojoules) - prev + curr
		}
		a.last[zone.Path] = curr
	}

	a.current += delta
	if a.max > 0 {
		a.current %= a.max
	}
	return a.current, nil
}
