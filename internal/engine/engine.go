// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine orchestrates multi-source measurement sessions: it
// snapshots every available energy source at session start and end,
// reading sources concurrently and merging results through a single
// writer. A source that fails or times out is excluded from the session
// and reported as missing, never treated as fatal.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/SMART-Dal/codegreen/internal/adapter"
	"github.com/SMART-Dal/codegreen/internal/measurement"
	"github.com/SMART-Dal/codegreen/internal/plugin"
)

const defaultReadTimeout = 5 * time.Second

// Session couples a MultiSourceSession with the adapters that produced
// its start measurements, so Finish reads ends from exactly the sources
// that delivered starts.
type Session struct {
	*measurement.MultiSourceSession

	adapters []*adapter.EnergyAdapter
}

// Engine runs measurement sessions over the registry's available plugins
type Engine struct {
	registry    *plugin.Registry
	logger      *slog.Logger
	clock       clock.WithTicker
	readTimeout time.Duration
}

// Opts holds the configurable fields of an Engine
type Opts struct {
	logger      *slog.Logger
	clock       clock.WithTicker
	readTimeout time.Duration
}

// OptionFn sets one option in Opts
type OptionFn func(*Opts)

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock used for timestamps and session timing
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithReadTimeout bounds each per-source snapshot read
func WithReadTimeout(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.readTimeout = d
	}
}

// NewEngine creates an engine over the given registry
func NewEngine(registry *plugin.Registry, applyOpts ...OptionFn) *Engine {
	opts := Opts{
		logger:      slog.Default(),
		clock:       clock.RealClock{},
		readTimeout: defaultReadTimeout,
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Engine{
		registry:    registry,
		logger:      opts.logger.With("service", "engine"),
		clock:       opts.clock,
		readTimeout: opts.readTimeout,
	}
}

// Begin opens a session over the currently available sources and records
// their start measurements. Sources whose init or first read fails are
// excluded; Begin only errors when no source at all delivers a reading.
func (e *Engine) Begin(ctx context.Context) (*Session, error) {
	available := e.registry.Available()
	if len(available) == 0 {
		return nil, fmt.Errorf("%w: no energy sources available", plugin.ErrDeviceNotFound)
	}

	adapters := make([]*adapter.EnergyAdapter, 0, len(available))
	for _, p := range available {
		adapters = append(adapters, adapter.NewEnergyAdapter(p, adapter.WithLogger(e.logger)))
	}

	session := &Session{
		MultiSourceSession: measurement.NewMultiSourceSession(measurement.WithSessionClock(e.clock)),
	}

	results := e.snapshot(ctx, adapters,
		func(a *adapter.EnergyAdapter) error {
			if err := a.Init(); err != nil {
				return err
			}
			return a.Start()
		},
		e.releaseAdapter,
	)

	// merge in this goroutine only; the readers never touch the session
	for i, ms := range results {
		if len(ms) == 0 {
			continue
		}
		for _, m := range ms {
			if err := session.AddStartMeasurement(m); err != nil {
				return nil, err
			}
		}
		session.adapters = append(session.adapters, adapters[i])
	}

	if len(session.adapters) == 0 {
		return nil, fmt.Errorf("%w: every energy source failed its start read", plugin.ErrSensor)
	}

	e.logger.Info("session started", "id", session.ID(), "sources", len(session.adapters))
	return session, nil
}

// Finish records end measurements for the session's sources, finalizes
// the session and releases the sources. A failed end read leaves its
// source in the missing-sources report.
func (e *Engine) Finish(ctx context.Context, session *Session) error {
	results := e.snapshot(ctx, session.adapters, nil, nil)

	for _, ms := range results {
		for _, m := range ms {
			if err := session.AddEndMeasurement(m); err != nil {
				return err
			}
		}
	}
	session.End()

	for _, a := range session.adapters {
		e.releaseAdapter(a)
	}

	if missing := session.MissingSources(); len(missing) > 0 {
		e.logger.Warn("session finished with missing sources", "id", session.ID(), "missing", missing)
	} else {
		e.logger.Info("session finished", "id", session.ID(),
			"joules", session.TotalEnergy(), "duration", session.Duration())
	}
	return nil
}

// Run measures for the given wall-clock window and returns the finished
// session record. Cancelling the context shortens the window but the
// session is still finalized so partial results are not lost.
func (e *Engine) Run(ctx context.Context, window time.Duration) (measurement.Record, error) {
	session, err := e.Begin(ctx)
	if err != nil {
		return measurement.Record{}, err
	}

	timer := e.clock.NewTimer(window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C():
	}

	if err := e.Finish(context.WithoutCancel(ctx), session); err != nil {
		return measurement.Record{}, err
	}
	return session.Record(), nil
}

// releaseAdapter stops and shuts down one source. Release problems are
// logged, never returned; they cannot change the session outcome.
func (e *Engine) releaseAdapter(a *adapter.EnergyAdapter) {
	if err := a.Stop(); err != nil {
		e.logger.Warn("stopping source", "source", a.Name(), "error", err)
	}
	if err := a.Shutdown(); err != nil {
		e.logger.Warn("shutting down source", "source", a.Name(), "error", err)
	}
}

// snapshot reads all adapters concurrently, each under the per-read
// timeout, and returns the readings indexed like the input. A failed
// slot is nil. prepare, when set, runs before the slot's read and its
// failure excludes the slot. release, when set, runs for a slot whose
// read fails or times out after prepare succeeded, so an excluded source
// never stays bracketed in a measurement and can join the next session.
func (e *Engine) snapshot(ctx context.Context, adapters []*adapter.EnergyAdapter, prepare func(*adapter.EnergyAdapter) error, release func(*adapter.EnergyAdapter)) [][]measurement.Measurement {
	results := make([][]measurement.Measurement, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		i, a := i, a
		g.Go(func() error {
			if prepare != nil {
				if err := prepare(a); err != nil {
					e.logger.Warn("source excluded from session", "source", a.Name(), "error", err)
					return nil
				}
			}
			ms, err := e.readSource(gctx, a)
			if err != nil {
				e.logger.Warn("source read failed", "source", a.Name(), "error", err)
				if release != nil {
					release(a)
				}
				return nil
			}
			results[i] = ms
			return nil
		})
	}
	_ = g.Wait() // goroutines log instead of returning errors

	return results
}

// readSource bounds one adapter read with the engine's read timeout. The
// read itself cannot be interrupted, so a stuck sensor leaks its
// goroutine until the read returns; the session moves on without it.
func (e *Engine) readSource(ctx context.Context, a *adapter.EnergyAdapter) ([]measurement.Measurement, error) {
	ctx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()

	type result struct {
		ms  []measurement.Measurement
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ms, err := a.ReadMeasurements()
		ch <- result{ms: ms, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("reading %s: %w", a.Name(), ctx.Err())
	case r := <-ch:
		return r.ms, r.err
	}
}
