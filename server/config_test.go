// server/config_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mmp/cadsim/util"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	c, err := ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if c.TerminalPort != DefaultTerminalPort || c.ControlPort != DefaultControlPort || c.HTTPPort != DefaultHTTPPort {
		t.Errorf("unexpected default ports %+v", c)
	}
	if c.TickInterval != time.Second || c.LogLevel != "info" {
		t.Errorf("unexpected defaults %+v", c)
	}

	var e util.ErrorLogger
	if c.Validate(&e); e.HaveErrors() {
		t.Errorf("default config invalid: %s", e.String())
	}
}

func TestConfigFromEnv(t *testing.T) {
	script := filepath.Join(t.TempDir(), "script.xml")
	if err := os.WriteFile(script, []byte("<SCRIPT/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CADSIM_TERMINAL_PORT", "5000")
	t.Setenv("CADSIM_HTTP_PORT", "-1")
	t.Setenv("CADSIM_SCRIPT", script)
	t.Setenv("CADSIM_CAD_START", "2024-01-02T08:00:00Z")
	t.Setenv("CADSIM_TICK_INTERVAL", "250ms")
	t.Setenv("CADSIM_COMPRESS_CONTROL", "true")

	c, err := ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if c.TerminalPort != 5000 || c.HTTPPort != -1 || c.Script != script {
		t.Errorf("unexpected config %+v", c)
	}
	if !c.CADStart.Equal(testBase) || c.TickInterval != 250*time.Millisecond || !c.CompressControl {
		t.Errorf("unexpected config %+v", c)
	}

	var e util.ErrorLogger
	if c.Validate(&e); e.HaveErrors() {
		t.Errorf("config invalid: %s", e.String())
	}

	t.Setenv("CADSIM_TICK_INTERVAL", "soon")
	if _, err := ConfigFromEnv(); err == nil {
		t.Errorf("expected error for bad duration")
	}
}

func TestConfigValidate(t *testing.T) {
	for _, test := range []struct {
		config Config
		errs   []string
	}{
		{Config{TerminalPort: 4444, ControlPort: 4444, HTTPPort: -1, TickInterval: time.Second},
			[]string{"already used for terminal"}},
		{Config{TerminalPort: 70000, ControlPort: -2, HTTPPort: 0, TickInterval: time.Second},
			[]string{"terminal: port 70000 out of range", "control: port -2 out of range"}},
		{Config{Script: "/nonexistent/script.xml", TickInterval: time.Second},
			[]string{"script not found"}},
		{Config{HTTPPort: -1},
			[]string{"tick interval must be positive"}},
	} {
		var e util.ErrorLogger
		test.config.Validate(&e)
		if !e.HaveErrors() {
			t.Errorf("%+v: expected errors", test.config)
			continue
		}
		for _, s := range test.errs {
			if !strings.Contains(e.String(), s) {
				t.Errorf("%+v: expected %q in %q", test.config, s, e.String())
			}
		}
	}

	// Port 0 picks any open port, so it can't conflict.
	var e util.ErrorLogger
	Config{TickInterval: time.Second}.Validate(&e)
	if e.HaveErrors() {
		t.Errorf("unexpected errors %s", e.String())
	}
}
