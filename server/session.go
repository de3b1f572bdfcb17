// server/session.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/util"
)

// TerminalSet tracks the connected terminals.
type TerminalSet struct {
	terminalsByID map[string]*terminalEntry
	wg            sync.WaitGroup

	lg *log.Logger
	mu util.LoggingMutex
}

type terminalEntry struct {
	t         *terminal
	connected time.Time
}

// TerminalStatus describes a connected terminal for the status page.
type TerminalStatus struct {
	ID        string
	Remote    string
	Position  int
	UserID    string
	Connected time.Time
}

func NewTerminalSet(lg *log.Logger) *TerminalSet {
	return &TerminalSet{
		terminalsByID: make(map[string]*terminalEntry),
		lg:            lg,
		mu:            util.LoggingMutex{Name: "terminals"},
	}
}

func (ts *TerminalSet) LockStats() util.LockStats {
	return ts.mu.Stats()
}

// Serve starts a terminal for the connection and tracks it until it
// disconnects.
func (ts *TerminalSet) Serve(ctx context.Context, conn docConn, c *Coordinator, lg *log.Logger) {
	t := newTerminal(conn, c, lg)

	ts.mu.Lock(ts.lg)
	ts.terminalsByID[t.id] = &terminalEntry{t: t, connected: time.Now()}
	ts.mu.Unlock(ts.lg)

	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		t.run(ctx)
		ts.remove(t.id)
	}()
}

func (ts *TerminalSet) remove(id string) {
	ts.mu.Lock(ts.lg)
	defer ts.mu.Unlock(ts.lg)

	if e, ok := ts.terminalsByID[id]; ok {
		ts.lg.Info("terminal signed off", slog.Any("terminal", e.t),
			slog.Duration("connected", time.Since(e.connected)))
		delete(ts.terminalsByID, id)
	}
}

// CloseAll disconnects every terminal and waits for them to finish.
func (ts *TerminalSet) CloseAll() {
	ts.mu.Lock(ts.lg)
	terminals := slices.Collect(maps.Values(ts.terminalsByID))
	ts.mu.Unlock(ts.lg)

	for _, e := range terminals {
		e.t.close()
	}
	ts.wg.Wait()
}

func (ts *TerminalSet) Len() int {
	ts.mu.Lock(ts.lg)
	defer ts.mu.Unlock(ts.lg)
	return len(ts.terminalsByID)
}

// Status returns the connected terminals, ordered by position.
func (ts *TerminalSet) Status() []TerminalStatus {
	ts.mu.Lock(ts.lg)
	defer ts.mu.Unlock(ts.lg)

	var st []TerminalStatus
	for _, e := range ts.terminalsByID {
		s := e.t.status()
		s.Connected = e.connected
		st = append(st, s)
	}
	slices.SortFunc(st, func(a, b TerminalStatus) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	return st
}
