// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the application configuration from a YAML file and
// lets command line flags override individual settings. Flags win over the
// file only when they were explicitly set on the command line.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
)

type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	// Host points at the kernel trees the plugins probe; tests and
	// containerized deployments redirect these.
	Host struct {
		SysFS string `yaml:"sysfs"`
	}

	Rapl struct {
		// MSRPath is a path template with one %d for the CPU number
		MSRPath string `yaml:"msr-path"`
		CPU     int    `yaml:"cpu"`
	}

	Nvidia struct {
		Enabled bool `yaml:"enabled"`
	}

	Session struct {
		Duration    Duration `yaml:"duration"`
		ReadTimeout Duration `yaml:"read-timeout"`
	}

	Output struct {
		Format string `yaml:"format"`
	}

	Config struct {
		Log     Log     `yaml:"log"`
		Host    Host    `yaml:"host"`
		Rapl    Rapl    `yaml:"rapl"`
		Nvidia  Nvidia  `yaml:"nvidia"`
		Session Session `yaml:"session"`
		Output  Output  `yaml:"output"`
	}
)

// Duration wraps time.Duration so YAML accepts "500ms" style strings
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

const (
	// Flags
	LogLevelFlag           = "log.level"
	LogFormatFlag          = "log.format"
	HostSysFSFlag          = "host.sysfs"
	RaplMSRPathFlag        = "rapl.msr-path"
	RaplCPUFlag            = "rapl.cpu"
	NvidiaEnabledFlag      = "nvidia.enabled"
	SessionDurationFlag    = "session.duration"
	SessionReadTimeoutFlag = "session.read-timeout"
	OutputFormatFlag       = "output.format"
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			SysFS: "/sys",
		},
		Rapl: Rapl{
			MSRPath: "/dev/cpu/%d/msr",
			CPU:     0,
		},
		Nvidia: Nvidia{
			Enabled: true,
		},
		Session: Session{
			Duration:    Duration(10 * time.Second),
			ReadTimeout: Duration(5 * time.Second),
		},
		Output: Output{
			Format: "json",
		},
	}
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with the kingpin app and
// returns a ConfigUpdaterFn that applies the parsed flags on top of a
// config. Only flags that were explicitly set override file settings.
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// clear the map in case parsing runs more than once
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	hostSysFS := app.Flag(HostSysFSFlag, "Path to the sysfs mount point").Default("/sys").ExistingDir()
	msrPath := app.Flag(RaplMSRPathFlag, "MSR device path template with one %d for the CPU number").Default("/dev/cpu/%d/msr").String()
	msrCPU := app.Flag(RaplCPUFlag, "CPU whose MSR device backs the RAPL plugin").Default("0").Int()
	nvidiaEnabled := app.Flag(NvidiaEnabledFlag, "Enable the NVIDIA GPU plugin").Default("true").Bool()
	duration := app.Flag(SessionDurationFlag, "Length of the measurement session").Default("10s").Duration()
	readTimeout := app.Flag(SessionReadTimeoutFlag, "Timeout for a single sensor read").Default("5s").Duration()
	outputFormat := app.Flag(OutputFormatFlag, "Session output format: json or table").Default("json").Enum("json", "table")

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}
		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}
		if flagsSet[RaplMSRPathFlag] {
			cfg.Rapl.MSRPath = *msrPath
		}
		if flagsSet[RaplCPUFlag] {
			cfg.Rapl.CPU = *msrCPU
		}
		if flagsSet[NvidiaEnabledFlag] {
			cfg.Nvidia.Enabled = *nvidiaEnabled
		}
		if flagsSet[SessionDurationFlag] {
			cfg.Session.Duration = Duration(*duration)
		}
		if flagsSet[SessionReadTimeoutFlag] {
			cfg.Session.ReadTimeout = Duration(*readTimeout)
		}
		if flagsSet[OutputFormatFlag] {
			cfg.Output.Format = *outputFormat
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Rapl.MSRPath = strings.TrimSpace(c.Rapl.MSRPath)
	c.Output.Format = strings.TrimSpace(c.Output.Format)
}

// Validate checks for configuration errors
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
	}

	switch c.Output.Format {
	case "json", "table":
	default:
		errs = append(errs, fmt.Sprintf("invalid output format: %s", c.Output.Format))
	}

	if c.Host.SysFS == "" {
		errs = append(errs, "host sysfs path must not be empty")
	}

	if !strings.Contains(c.Rapl.MSRPath, "%d") {
		errs = append(errs, fmt.Sprintf("rapl msr-path must contain a %%d placeholder: %s", c.Rapl.MSRPath))
	}
	if c.Rapl.CPU < 0 {
		errs = append(errs, fmt.Sprintf("rapl cpu must not be negative: %d", c.Rapl.CPU))
	}

	if c.Session.Duration <= 0 {
		errs = append(errs, "session duration must be positive")
	}
	if c.Session.ReadTimeout <= 0 {
		errs = append(errs, "session read-timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<unmarshalable config: %v>", err)
	}
	return string(bytes)
}
