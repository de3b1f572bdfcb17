// util/monitor.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"log/slog"
	gomath "math"
	"os"
	"runtime"
	"time"

	"github.com/mmp/cadsim/log"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/process"
)

// MonitorCPUUsage launches a goroutine that samples system CPU usage and
// logs when it stays above limit percent. If panicIfWedged is set and the
// usage has been pegged for a full minute, it panics so that a stack dump
// of every goroutine ends up in the logs.
func MonitorCPUUsage(limit int, panicIfWedged bool, lg *log.Logger) {
	go func() {
		var highSince time.Time
		for {
			usage, err := cpu.Percent(10*time.Second, false)
			if err != nil || len(usage) == 0 {
				lg.Warnf("cpu.Percent: %v", err)
				return
			}

			pct := int(gomath.Round(usage[0]))
			if pct < limit {
				highSince = time.Time{}
				continue
			}

			if highSince.IsZero() {
				highSince = time.Now()
			}
			lg.Warn("high CPU usage", slog.Int("percent", pct),
				slog.Duration("duration", time.Since(highSince)),
				slog.Int("goroutines", runtime.NumGoroutine()))

			if panicIfWedged && time.Since(highSince) > time.Minute {
				panic("CPU usage pegged for over a minute")
			}
		}
	}()
}

// MonitorMemoryUsage launches a goroutine that logs the process's
// resident memory once it exceeds triggerMB and then again each time it
// grows by another deltaMB.
func MonitorMemoryUsage(triggerMB int, deltaMB int, lg *log.Logger) {
	go func() {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			lg.Warnf("process.NewProcess: %v", err)
			return
		}

		threshold := uint64(triggerMB) * 1024 * 1024
		for {
			time.Sleep(5 * time.Second)

			mi, err := p.MemoryInfo()
			if err != nil {
				lg.Warnf("MemoryInfo: %v", err)
				return
			}
			if mi.RSS > threshold {
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				lg.Warn("memory usage",
					slog.Uint64("rss_mb", mi.RSS/(1024*1024)),
					slog.Uint64("alloc_mb", m.Alloc/(1024*1024)),
					slog.Uint64("sys_mb", m.Sys/(1024*1024)),
					slog.Int("goroutines", runtime.NumGoroutine()))
				threshold = mi.RSS + uint64(deltaMB)*1024*1024
			}
		}
	}()
}
