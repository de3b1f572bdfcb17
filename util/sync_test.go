// util/sync_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mmp/cadsim/log"
)

func TestLoggingMutexStats(t *testing.T) {
	l := LoggingMutex{Name: "roster"}

	l.Lock(nil)
	l.Unlock(nil)

	// Hold the lock so that the next Lock has to wait.
	l.Lock(nil)
	acquired := make(chan struct{})
	go func() {
		l.Lock(nil)
		close(acquired)
		l.Unlock(nil)
	}()
	time.Sleep(50 * time.Millisecond)
	l.Unlock(nil)
	<-acquired

	st := l.Stats()
	if st.Name != "roster" {
		t.Errorf("unexpected name %q", st.Name)
	}
	if st.Acquired != 3 || st.Contended != 1 {
		t.Errorf("expected 3 acquisitions with 1 contended, got %+v", st)
	}
	if st.MaxWait < 10*time.Millisecond || st.MaxHeld < 10*time.Millisecond {
		t.Errorf("expected wait and hold of at least 10ms, got %+v", st)
	}

	if (&LoggingMutex{}).Stats().Name != "mutex" {
		t.Errorf("expected default name for unnamed mutex")
	}
}

func TestLoggingMutexHoldBudget(t *testing.T) {
	var buf bytes.Buffer
	lg := log.NewWithHandler(slog.NewJSONHandler(&buf, nil))

	l := LoggingMutex{Name: "coordinator", HoldBudget: time.Millisecond}
	l.Lock(lg)
	l.Unlock(lg)
	if strings.Contains(buf.String(), "held past budget") {
		t.Errorf("short hold reported: %s", buf.String())
	}

	l.Lock(lg)
	time.Sleep(10 * time.Millisecond)
	l.Unlock(lg)
	if out := buf.String(); !strings.Contains(out, "lock held past budget") || !strings.Contains(out, `"lock":"coordinator"`) {
		t.Errorf("long hold not reported: %s", out)
	}
}

func TestLoggingMutexUnlockNotHeld(t *testing.T) {
	var buf bytes.Buffer
	lg := log.NewWithHandler(slog.NewJSONHandler(&buf, nil))

	var l LoggingMutex
	l.Lock(lg)
	heldMutexesMutex.Lock()
	delete(heldMutexes, &l)
	heldMutexesMutex.Unlock()
	l.Unlock(lg)

	if !strings.Contains(buf.String(), "isn't held") {
		t.Errorf("expected error for untracked unlock, got %s", buf.String())
	}
}
