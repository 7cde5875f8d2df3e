// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

// Package stdout writes finished session records to a stream, either as
// a JSON document for downstream collaborators or as a table for humans.
package stdout

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/SMART-Dal/codegreen/internal/measurement"
)

// Format selects the output encoding
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// Exporter writes session records to its output stream
type Exporter struct {
	logger *slog.Logger
	out    io.WriteCloser
	format Format
}

// Opts holds the configurable fields of an Exporter
type Opts struct {
	logger *slog.Logger
	out    io.WriteCloser
	format Format
}

// DefaultOpts returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		out:    os.Stdout,
		format: FormatJSON,
	}
}

// OptionFn sets one option in Opts
type OptionFn func(*Opts)

// WithLogger sets the logger for the exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithOutput sets the output stream
func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

// WithFormat sets the output encoding
func WithFormat(f Format) OptionFn {
	return func(o *Opts) {
		o.format = f
	}
}

// NewExporter creates a session record exporter
func NewExporter(applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger: opts.logger.With("service", "stdout"),
		out:    opts.out,
		format: opts.format,
	}
}

// Export writes one session record in the configured format
func (e *Exporter) Export(record measurement.Record) error {
	switch e.format {
	case FormatTable:
		return writeTable(e.out, record)
	case FormatJSON:
		return writeJSON(e.out, record)
	default:
		return fmt.Errorf("unknown output format %q", e.format)
	}
}

// Shutdown closes the output stream
func (e *Exporter) Shutdown() error {
	return e.out.Close()
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}

func writeJSON(out io.Writer, record measurement.Record) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(record)
}

func writeTable(out io.Writer, record measurement.Record) error {
	rows := [][]string{}
	// copying to a slice, to sort based on source name
	for source, start := range record.StartMeasurements {
		end, ok := record.EndMeasurements[source]
		if !ok {
			continue
		}
		joules := measurement.EnergyDelta(start, end)
		var watts float64
		if secs := measurement.Duration(start, end).Seconds(); secs > 0 {
			watts = joules / secs
		}
		rows = append(rows, []string{
			source,
			fmt.Sprintf("%.3f", joules),
			fmt.Sprintf("%.3f", watts),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i][0] < rows[j][0]
	})
	rows = append(rows, []string{
		"total",
		fmt.Sprintf("%.3f", record.TotalEnergyJoules),
		fmt.Sprintf("%.3f", record.AveragePowerWatts),
	})

	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Source", "Energy(J)", "Power(W)"})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(record.MissingSources) > 0 {
		_, err := fmt.Fprintf(out, "missing sources: %v\n", record.MissingSources)
		return err
	}
	return nil
}
