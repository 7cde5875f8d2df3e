// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package measurement

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// ErrUnsupportedOperation is returned when an operation is invoked out of
// its permitted state sequence, such as adding a measurement to a session
// that has already been finalized with End.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// SourceSession pairs the start and end measurement of one source with the
// derived duration and energy delta. Immutable once constructed.
type SourceSession struct {
	Source      string        `json:"source"`
	Start       Measurement   `json:"start"`
	End         Measurement   `json:"end"`
	Duration    time.Duration `json:"duration"`
	TotalEnergy float64       `json:"total_energy_joules"`
}

// NewSourceSession builds a SourceSession from a start/end pair of the same
// source. The energy delta is wrap-corrected and therefore never negative
// for a correctly functioning counter.
func NewSourceSession(start, end Measurement) (SourceSession, error) {
	if start.Source != end.Source {
		return SourceSession{}, fmt.Errorf("measurement sources differ: %q vs %q", start.Source, end.Source)
	}
	if end.Timestamp.Before(start.Timestamp) {
		return SourceSession{}, fmt.Errorf("end measurement of %q precedes its start", start.Source)
	}

	return SourceSession{
		Source:      start.Source,
		Start:       start,
		End:         end,
		Duration:    Duration(start, end),
		TotalEnergy: EnergyDelta(start, end),
	}, nil
}

// AveragePower returns the mean power over the session window, 0 when the
// window has no extent.
func (s SourceSession) AveragePower() float64 {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return s.TotalEnergy / secs
}

// MultiSourceSession aggregates paired start/end measurements across
// multiple simultaneous sources. A session starts empty, records
// measurements per source and is frozen by End, after which it is
// read-only. All methods are safe for concurrent use; merges of
// concurrently collected readings serialize on one mutex.
type MultiSourceSession struct {
	mu sync.Mutex

	id        string
	clock     clock.PassiveClock
	starts    map[string]Measurement
	ends      map[string]Measurement
	startedAt time.Time
	endedAt   time.Time
	ended     bool
}

// SessionOpts holds the configurable fields of a MultiSourceSession
type SessionOpts struct {
	id    string
	clock clock.PassiveClock
}

// SessionOptFn sets one option in SessionOpts
type SessionOptFn func(*SessionOpts)

// WithSessionID overrides the generated session ID
func WithSessionID(id string) SessionOptFn {
	return func(o *SessionOpts) {
		o.id = id
	}
}

// WithSessionClock sets the clock used for the session start/end times
func WithSessionClock(c clock.PassiveClock) SessionOptFn {
	return func(o *SessionOpts) {
		o.clock = c
	}
}

// NewMultiSourceSession creates an empty session stamped with the current
// time as its start.
func NewMultiSourceSession(applyOpts ...SessionOptFn) *MultiSourceSession {
	opts := SessionOpts{
		id:    uuid.NewString(),
		clock: clock.RealClock{},
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &MultiSourceSession{
		id:        opts.id,
		clock:     opts.clock,
		starts:    make(map[string]Measurement),
		ends:      make(map[string]Measurement),
		startedAt: opts.clock.Now(),
	}
}

// ID returns the session identifier
func (s *MultiSourceSession) ID() string {
	return s.id
}

// StartedAt returns the time the session was created
func (s *MultiSourceSession) StartedAt() time.Time {
	return s.startedAt
}

// AddStartMeasurement records the start reading of a source, overwriting
// any previous start entry for that source.
func (s *MultiSourceSession) AddStartMeasurement(m Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return fmt.Errorf("%w: session ended, cannot add start measurement for %q", ErrUnsupportedOperation, m.Source)
	}
	s.starts[m.Source] = m
	return nil
}

// AddEndMeasurement records the end reading of a source, overwriting any
// previous end entry. Allowed any time before End so callers can poll
// incrementally.
func (s *MultiSourceSession) AddEndMeasurement(m Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return fmt.Errorf("%w: session ended, cannot add end measurement for %q", ErrUnsupportedOperation, m.Source)
	}
	s.ends[m.Source] = m
	return nil
}

// End freezes the session end time. Calling End on an ended session is a
// no-op, not an error.
func (s *MultiSourceSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	s.endedAt = s.clock.Now()
	s.ended = true
}

// Ended reports whether End has been called
func (s *MultiSourceSession) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Duration returns the elapsed time between session start and End.
// It is 0 until End has been called.
func (s *MultiSourceSession) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked()
}

func (s *MultiSourceSession) durationLocked() time.Duration {
	if !s.ended {
		return 0
	}
	return s.endedAt.Sub(s.startedAt)
}

// TotalEnergy returns the sum of wrap-corrected per-source energy deltas
// over the sources present in both the start and the end map. A source
// missing either reading contributes nothing.
func (s *MultiSourceSession) TotalEnergy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalEnergyLocked()
}

func (s *MultiSourceSession) totalEnergyLocked() float64 {
	var total float64
	for source, start := range s.starts {
		end, ok := s.ends[source]
		if !ok {
			continue
		}
		total += EnergyDelta(start, end)
	}
	return total
}

// AveragePower returns the session's mean power, 0 (not an error or NaN)
// when the duration is 0.
func (s *MultiSourceSession) AveragePower() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	secs := s.durationLocked().Seconds()
	if secs <= 0 {
		return 0
	}
	return s.totalEnergyLocked() / secs
}

// MissingSources reports the sources excluded from TotalEnergy because
// their plugin read failed or the source disappeared mid-session, i.e.
// sources present in only one of the two maps. Sorted for stable output.
func (s *MultiSourceSession) MissingSources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []string
	for source := range s.starts {
		if _, ok := s.ends[source]; !ok {
			missing = append(missing, source)
		}
	}
	for source := range s.ends {
		if _, ok := s.starts[source]; !ok {
			missing = append(missing, source)
		}
	}
	sort.Strings(missing)
	return missing
}

// SourceSessions returns the per-source sessions for all sources with both
// readings, sorted by source name.
func (s *MultiSourceSession) SourceSessions() []SourceSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]SourceSession, 0, len(s.starts))
	for source, start := range s.starts {
		end, ok := s.ends[source]
		if !ok {
			continue
		}
		ss, err := NewSourceSession(start, end)
		if err != nil {
			continue
		}
		sessions = append(sessions, ss)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Source < sessions[j].Source })
	return sessions
}

// Record is the serializable session interchange shape handed to storage
// and visualization collaborators.
type Record struct {
	ID                string                 `json:"id"`
	StartMeasurements map[string]Measurement `json:"start_measurements"`
	EndMeasurements   map[string]Measurement `json:"end_measurements"`
	Start             time.Time              `json:"start"`
	End               time.Time              `json:"end,omitzero"`
	DurationSeconds   float64                `json:"duration_seconds"`
	TotalEnergyJoules float64                `json:"total_energy_joules"`
	AveragePowerWatts float64                `json:"average_power_watts"`
	MissingSources    []string               `json:"missing_sources,omitempty"`
}

// Record snapshots the session into its interchange shape
func (s *MultiSourceSession) Record() Record {
	missing := s.MissingSources()

	s.mu.Lock()
	defer s.mu.Unlock()

	starts := make(map[string]Measurement, len(s.starts))
	maps.Copy(starts, s.starts)
	ends := make(map[string]Measurement, len(s.ends))
	maps.Copy(ends, s.ends)

	duration := s.durationLocked()
	total := s.totalEnergyLocked()
	var avgPower float64
	if secs := duration.Seconds(); secs > 0 {
		avgPower = total / secs
	}

	return Record{
		ID:                s.id,
		StartMeasurements: starts,
		EndMeasurements:   ends,
		Start:             s.startedAt,
		End:               s.endedAt,
		DurationSeconds:   duration.Seconds(),
		TotalEnergyJoules: total,
		AveragePowerWatts: avgPower,
		MissingSources:    missing,
	}
}
