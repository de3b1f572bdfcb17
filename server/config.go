// server/config.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"fmt"
	"time"

	"github.com/mmp/cadsim/util"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultTerminalPort = 4444
	DefaultControlPort  = 4445
	DefaultHTTPPort     = 6502
)

// Config holds the server settings. It is read from CADSIM_-prefixed
// environment variables; command-line flags may then override it.
type Config struct {
	// A port of 0 means that an open one is chosen.
	TerminalPort int `env:"TERMINAL_PORT" envDefault:"4444"`
	ControlPort  int `env:"CONTROL_PORT" envDefault:"4445"`
	// HTTPPort serves WebSocket terminals and the status page; a
	// negative port disables it.
	HTTPPort int `env:"HTTP_PORT" envDefault:"6502"`

	Script    string `env:"SCRIPT"`
	AudioDir  string `env:"AUDIO_DIR"`
	HistoryDB string `env:"HISTORY_DB"` // empty: history isn't recorded

	// CADStart is the wall-clock time corresponding to simulation time 0;
	// if unset, the server's start time is used.
	CADStart     time.Time     `env:"CAD_START"`
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`

	CompressControl bool   `env:"COMPRESS_CONTROL"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogDir          string `env:"LOG_DIR"`
}

// ConfigFromEnv returns the configuration given by the environment.
func ConfigFromEnv() (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: "CADSIM_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

// Validate records any problems with the configuration in e.
func (c Config) Validate(e *util.ErrorLogger) {
	e.Push("config")
	defer e.Pop()

	ports := make(map[int]string)
	checkPort := func(name string, port int, optional bool) {
		if port == 0 || (port < 0 && optional) {
			return
		}
		if port < 0 || port > 65535 {
			e.ErrorString("%s: port %d out of range", name, port)
			return
		}
		if other, ok := ports[port]; ok {
			e.ErrorString("%s: port %d already used for %s", name, port, other)
		}
		ports[port] = name
	}
	checkPort("terminal", c.TerminalPort, false)
	checkPort("control", c.ControlPort, false)
	checkPort("http", c.HTTPPort, true)

	if c.Script != "" && !util.ResourceExists(c.Script) {
		e.ErrorString("%s: script not found", c.Script)
	}
	if c.TickInterval <= 0 {
		e.ErrorString("tick interval must be positive")
	}
}
