// util/sync.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"log/slog"
	gomath "math"
	"runtime"
	"sync"
	"time"

	"github.com/mmp/cadsim/log"

	"github.com/shirou/gopsutil/cpu"
)

///////////////////////////////////////////////////////////////////////////
// LoggingMutex

// DefaultHoldBudget is how long a LoggingMutex may be held before it is
// reported. The clock takes the coordinator's lock once per simulated
// second, so holding it for a good fraction of a second delays the
// simulation.
const DefaultHoldBudget = 250 * time.Millisecond

// wedgeTimeout is how long Lock waits before reporting the mutex's
// holder and the process's resource usage.
const wedgeTimeout = 10 * time.Second

var (
	heldMutexesMutex sync.Mutex
	heldMutexes      = make(map[*LoggingMutex]log.StackFrame)
)

// LockStats summarizes the use of a LoggingMutex.
type LockStats struct {
	Name      string
	Acquired  int64
	Contended int64
	MaxWait   time.Duration
	MaxHeld   time.Duration
	// MaxHolder is the call site that held the mutex for MaxHeld.
	MaxHolder string
}

// LoggingMutex guards shared simulation state: the coordinator's clock
// and roster, or the set of connected terminals. It records which
// call site holds it, logs holds that exceed HoldBudget, and if it can't
// be acquired for a long time, logs who holds every LoggingMutex.
//
// The zero value is usable; Name is used in log messages.
type LoggingMutex struct {
	Name       string
	HoldBudget time.Duration

	mu     sync.Mutex
	acq    time.Time
	holder log.StackFrame

	statsMu sync.Mutex
	stats   LockStats
}

func (l *LoggingMutex) name() string {
	if l.Name == "" {
		return "mutex"
	}
	return l.Name
}

func (l *LoggingMutex) budget() time.Duration {
	if l.HoldBudget == 0 {
		return DefaultHoldBudget
	}
	return l.HoldBudget
}

func (l *LoggingMutex) Lock(lg *log.Logger) {
	tryTime := time.Now()
	caller := log.Caller()
	contended := false

	if !l.mu.TryLock() {
		contended = true
		locked := make(chan struct{}, 1)
		go func() {
			l.mu.Lock()
			locked <- struct{}{}
		}()

		select {
		case <-locked:
		case <-time.After(wedgeTimeout):
			reportWedged(l, caller, lg)
			<-locked
		}
	}

	l.acq = time.Now()
	l.holder = caller

	heldMutexesMutex.Lock()
	heldMutexes[l] = caller
	heldMutexesMutex.Unlock()

	w := l.acq.Sub(tryTime)
	l.statsMu.Lock()
	l.stats.Acquired++
	if contended {
		l.stats.Contended++
	}
	l.stats.MaxWait = max(l.stats.MaxWait, w)
	l.statsMu.Unlock()

	if w > l.budget() {
		lg.Warn("long wait for lock", slog.String("lock", l.name()), slog.String("caller", caller.String()),
			slog.Duration("wait", w))
	}
}

func (l *LoggingMutex) Unlock(lg *log.Logger) {
	held := time.Since(l.acq)
	holder := l.holder

	heldMutexesMutex.Lock()
	if _, ok := heldMutexes[l]; !ok {
		lg.Error("unlock of lock that isn't held", slog.String("lock", l.name()),
			slog.String("caller", log.Caller().String()))
	}
	delete(heldMutexes, l)
	heldMutexesMutex.Unlock()

	l.statsMu.Lock()
	if held > l.stats.MaxHeld {
		l.stats.MaxHeld = held
		l.stats.MaxHolder = holder.Function
	}
	l.statsMu.Unlock()

	l.acq = time.Time{}
	l.holder = log.StackFrame{}
	l.mu.Unlock()

	if held > l.budget() {
		lg.Warn("lock held past budget", slog.String("lock", l.name()), slog.String("holder", holder.String()),
			slog.Duration("held", held), slog.Duration("budget", l.budget()))
	}
}

// Stats returns a snapshot of the mutex's usage so far.
func (l *LoggingMutex) Stats() LockStats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()

	s := l.stats
	s.Name = l.name()
	return s
}

// reportWedged logs every held LoggingMutex along with the process's CPU
// and memory use when l has been unavailable for wedgeTimeout.
func reportWedged(l *LoggingMutex, caller log.StackFrame, lg *log.Logger) {
	heldMutexesMutex.Lock()
	var held []any
	for m, h := range heldMutexes {
		held = append(held, slog.String(m.name(), h.String()))
	}
	heldMutexesMutex.Unlock()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	cpuPct := 0
	if usage, err := cpu.Percent(time.Second, false); err == nil && len(usage) > 0 {
		cpuPct = int(gomath.Round(usage[0]))
	}

	lg.Error("unable to acquire lock", slog.String("lock", l.name()), slog.String("caller", caller.String()),
		slog.Duration("waited", wedgeTimeout), slog.Group("held", held...),
		slog.Int("cpu_pct", cpuPct), slog.String("alloc", ByteCount(ms.Alloc).String()),
		slog.String("sys", ByteCount(ms.Sys).String()), slog.Int("goroutines", runtime.NumGoroutine()))
}
