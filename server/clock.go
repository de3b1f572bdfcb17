// server/clock.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	"time"
)

// RunClock ticks the coordinator once per interval until ctx is canceled.
// Each tick advances the simulation by one second if it is running.
func RunClock(ctx context.Context, c *Coordinator, interval time.Duration) error {
	defer c.lg.CatchAndReportCrash()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Tick()
		}
	}
}
