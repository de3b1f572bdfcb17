// util/prof.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"fmt"
	"os"
	"runtime/pprof"
)

// Profiler writes CPU and heap profiles for a run of the server. The CPU
// profile starts immediately; both are finished by Cleanup, which must
// be called before the process exits.
type Profiler struct {
	cpu, mem *os.File
}

// CreateProfiler starts profiling to the given files; an empty filename
// disables that profile.
func CreateProfiler(cpu, mem string) (*Profiler, error) {
	p := &Profiler{}

	if cpu != "" {
		f, err := os.Create(cpu)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create CPU profile file: %w", cpu, err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("unable to start CPU profile: %w", err)
		}
		p.cpu = f
	}

	if mem != "" {
		f, err := os.Create(mem)
		if err != nil {
			p.Cleanup()
			return nil, fmt.Errorf("%s: unable to create memory profile file: %w", mem, err)
		}
		p.mem = f
	}

	return p, nil
}

func (p *Profiler) Cleanup() {
	if p == nil {
		return
	}
	if p.cpu != nil {
		pprof.StopCPUProfile()
		p.cpu.Close()
		p.cpu = nil
	}
	if p.mem != nil {
		if err := pprof.WriteHeapProfile(p.mem); err != nil {
			fmt.Fprintf(os.Stderr, "%s: unable to write memory profile: %v\n", p.mem.Name(), err)
		}
		p.mem.Close()
		p.mem = nil
	}
}
