// cmd/cadsim/main.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

// cadsim runs the CAD training simulator: it loads an incident script,
// serves the dispatcher terminals, and accepts control from a simulation
// manager. Settings come from CADSIM_* environment variables; flags given
// on the command line take precedence.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/server"
	"github.com/mmp/cadsim/sim"
	"github.com/mmp/cadsim/util"
)

func main() {
	config, err := server.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	flag.IntVar(&config.TerminalPort, "terminal-port", config.TerminalPort, "port for framed TCP terminal connections")
	flag.IntVar(&config.ControlPort, "control-port", config.ControlPort, "port for simulation manager RPC")
	flag.IntVar(&config.HTTPPort, "http-port", config.HTTPPort, "port for WebSocket terminals and status (negative to disable)")
	flag.StringVar(&config.Script, "script", config.Script, "incident script to load at startup")
	flag.StringVar(&config.AudioDir, "audio", config.AudioDir, "directory of MP3 audio cues")
	flag.StringVar(&config.HistoryDB, "history", config.HistoryDB, "SQLite database for recording run history")
	flag.DurationVar(&config.TickInterval, "tick", config.TickInterval, "wall-clock duration of one simulation second")
	flag.BoolVar(&config.CompressControl, "compress", config.CompressControl, "compress simulation manager connections")
	flag.StringVar(&config.LogLevel, "loglevel", config.LogLevel, "logging level: debug, info, warn, error")
	flag.StringVar(&config.LogDir, "logdir", config.LogDir, "log file directory")
	start := flag.String("start", "", "CAD time at simulation time zero (RFC3339; default now)")
	lint := flag.Bool("lint", false, "check the script and list its incidents, then exit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to file")
	memprofile := flag.String("memprofile", "", "write memory profile to this file")
	flag.Parse()

	if *start != "" {
		t, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", *start, err)
			os.Exit(1)
		}
		config.CADStart = t
	}

	lg := log.New(true, config.LogLevel, config.LogDir)

	if *lint {
		os.Exit(lintScript(config.Script, lg))
	}

	profiler, err := util.CreateProfiler(*cpuprofile, *memprofile)
	if err != nil {
		lg.Errorf("%v", err)
	}
	defer profiler.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.LaunchServer(ctx, config, lg); err != nil {
		lg.Errorf("%v", err)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		profiler.Cleanup()
		os.Exit(1)
	}
}

func lintScript(path string, lg *log.Logger) int {
	if path == "" {
		fmt.Fprintln(os.Stderr, "-lint: no script given")
		return 1
	}
	incidents, err := sim.LoadScript(path, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	for _, inc := range incidents {
		fmt.Printf("%4d  %-40s start %5ds  %2d events  %4ds\n", inc.LogNumber, inc.Description,
			inc.StartTime, len(inc.Events()), inc.Length())
	}
	return 0
}
