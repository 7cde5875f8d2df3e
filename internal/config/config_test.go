// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/sys", cfg.Host.SysFS)
	assert.Equal(t, "/dev/cpu/%d/msr", cfg.Rapl.MSRPath)
	assert.Equal(t, 0, cfg.Rapl.CPU)
	assert.True(t, cfg.Nvidia.Enabled)
	assert.Equal(t, Duration(10*time.Second), cfg.Session.Duration)
	assert.Equal(t, Duration(5*time.Second), cfg.Session.ReadTimeout)
	assert.Equal(t, "json", cfg.Output.Format)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	yamlData := `
log:
  level: debug
  format: json
rapl:
  msr-path: /host/dev/cpu/%d/msr
  cpu: 2
nvidia:
  enabled: false
session:
  duration: 30s
  read-timeout: 500ms
output:
  format: table
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/host/dev/cpu/%d/msr", cfg.Rapl.MSRPath)
	assert.Equal(t, 2, cfg.Rapl.CPU)
	assert.False(t, cfg.Nvidia.Enabled)
	assert.Equal(t, Duration(30*time.Second), cfg.Session.Duration)
	assert.Equal(t, Duration(500*time.Millisecond), cfg.Session.ReadTimeout)
	assert.Equal(t, "table", cfg.Output.Format)

	// untouched sections keep their defaults
	assert.Equal(t, "/sys", cfg.Host.SysFS)
}

func TestLoadEmptyFromYAML(t *testing.T) {
	cfg, err := Load(strings.NewReader(``))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{{
		name: "malformed yaml",
		yaml: "log: [",
	}, {
		name: "bad log level",
		yaml: "log:\n  level: loud\n",
	}, {
		name: "bad output format",
		yaml: "output:\n  format: xml\n",
	}, {
		name: "bad duration",
		yaml: "session:\n  duration: soon\n",
	}, {
		name: "msr path without placeholder",
		yaml: "rapl:\n  msr-path: /dev/cpu/0/msr\n",
	}, {
		name: "negative cpu",
		yaml: "rapl:\n  cpu: -1\n",
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestCommandLinePrecedence(t *testing.T) {
	yamlData := `
log:
  level: warn
session:
  duration: 30s
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)

	app := kingpin.New("test", "Test application")
	updateConfig := RegisterFlags(app)

	// only log.level is set explicitly; everything else keeps the
	// file's (or default) value even though flags carry defaults
	_, err = app.Parse([]string{"--log.level", "debug"})
	require.NoError(t, err)

	require.NoError(t, updateConfig(cfg))

	assert.Equal(t, "debug", cfg.Log.Level, "explicitly set flag overrides the file")
	assert.Equal(t, Duration(30*time.Second), cfg.Session.Duration, "unset flag must not override the file")
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestFlagUpdatesAllSettings(t *testing.T) {
	sysRoot := t.TempDir()
	cfg := DefaultConfig()

	app := kingpin.New("test", "Test application")
	updateConfig := RegisterFlags(app)

	_, err := app.Parse([]string{
		"--log.format", "json",
		"--host.sysfs", sysRoot,
		"--rapl.msr-path", "/fake/%d/msr",
		"--rapl.cpu", "1",
		"--no-nvidia.enabled",
		"--session.duration", "1m",
		"--session.read-timeout", "250ms",
		"--output.format", "table",
	})
	require.NoError(t, err)
	require.NoError(t, updateConfig(cfg))

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, sysRoot, cfg.Host.SysFS)
	assert.Equal(t, "/fake/%d/msr", cfg.Rapl.MSRPath)
	assert.Equal(t, 1, cfg.Rapl.CPU)
	assert.False(t, cfg.Nvidia.Enabled)
	assert.Equal(t, Duration(time.Minute), cfg.Session.Duration)
	assert.Equal(t, Duration(250*time.Millisecond), cfg.Session.ReadTimeout)
	assert.Equal(t, "table", cfg.Output.Format)
}

func TestFromFile(t *testing.T) {
	_, err := FromFile("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, "level: info")
	assert.Contains(t, s, "read-timeout: 5s")
}
