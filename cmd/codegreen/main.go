// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/SMART-Dal/codegreen/internal/config"
	"github.com/SMART-Dal/codegreen/internal/engine"
	"github.com/SMART-Dal/codegreen/internal/exporter/stdout"
	"github.com/SMART-Dal/codegreen/internal/logger"
	"github.com/SMART-Dal/codegreen/internal/plugin"
	"github.com/SMART-Dal/codegreen/internal/service"
	"github.com/SMART-Dal/codegreen/internal/version"
)

func main() {
	cfg, list, err := parseArgsAndConfig()
	if err != nil {
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(log)
	logVersionInfo(log)
	printConfigInfo(log, cfg)

	registry := plugin.NewDefaultRegistry(
		plugin.WithSysfsPath(cfg.Host.SysFS),
		plugin.WithMSRDevice(cfg.Rapl.MSRPath, cfg.Rapl.CPU),
		plugin.WithNvidiaEnabled(cfg.Nvidia.Enabled),
		plugin.WithDiscoverLogger(log),
	)

	if list {
		if err := listPlugins(registry); err != nil {
			log.Error("Failed to list plugins", "error", err)
			os.Exit(1)
		}
		return
	}

	session := &sessionRunner{
		logger: log,
		engine: engine.NewEngine(registry,
			engine.WithLogger(log),
			engine.WithReadTimeout(time.Duration(cfg.Session.ReadTimeout)),
		),
		exporter: stdout.NewExporter(
			stdout.WithLogger(log),
			stdout.WithFormat(stdout.Format(cfg.Output.Format)),
		),
		window: time.Duration(cfg.Session.Duration),
	}

	services := []service.Service{
		session,
		service.NewSignalHandler(log, os.Interrupt, syscall.SIGTERM),
	}

	if err := service.Init(log, services); err != nil {
		log.Error("Initialization failed", "error", err)
		os.Exit(1)
	}
	if err := service.Run(context.Background(), log, services); err != nil {
		log.Error("Terminated with an error", "error", err)
		os.Exit(1)
	}
	log.Info("Graceful shutdown completed")
}

// sessionRunner runs one bounded measurement session and writes its record
type sessionRunner struct {
	logger   *slog.Logger
	engine   *engine.Engine
	exporter *stdout.Exporter
	window   time.Duration
}

func (r *sessionRunner) Name() string {
	return "session"
}

func (r *sessionRunner) Run(ctx context.Context) error {
	r.logger.Info("Measuring", "window", r.window)
	record, err := r.engine.Run(ctx, r.window)
	if err != nil {
		return err
	}
	return r.exporter.Export(record)
}

func listPlugins(registry *plugin.Registry) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(registry.Descriptors())
}

func parseArgsAndConfig() (*config.Config, bool, error) {
	app := kingpin.New("codegreen", "Hardware energy measurement engine.")

	configFile := app.Flag("config.file", "Path to YAML configuration file").String()
	list := app.Flag("list", "List the compiled-in energy sources and exit").Bool()
	updateConfig := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log := logger.New("info", "text", os.Stderr)
	cfg := config.DefaultConfig()
	if *configFile != "" {
		loadedCfg, err := config.FromFile(*configFile)
		if err != nil {
			log.Error("Error loading config file", "path", *configFile, "error", err)
			return nil, false, err
		}
		cfg = loadedCfg
	}

	// command line flags override config file settings
	if err := updateConfig(cfg); err != nil {
		log.Error("Error applying command line flags", "error", err)
		return nil, false, err
	}

	return cfg, *list, nil
}

func logVersionInfo(log *slog.Logger) {
	v := version.Info()
	log.Info("codegreen version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func printConfigInfo(log *slog.Logger, cfg *config.Config) {
	if !log.Enabled(context.Background(), slog.LevelDebug) || cfg.Log.Format == "json" {
		return
	}

	fmt.Fprintf(os.Stderr, `
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}
