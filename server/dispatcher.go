// server/dispatcher.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"log/slog"
	"sync"

	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/sim"
)

// dispatcher is the "Coordinator" RPC service used by remote simulation
// managers to control the simulation.
type dispatcher struct {
	c  *Coordinator
	lg *log.Logger

	// dial is DialManager except in tests.
	dial func(addr string, lg *log.Logger) (*RemoteManager, error)

	mu      sync.Mutex
	manager *RemoteManager
}

func newDispatcher(c *Coordinator, lg *log.Logger) *dispatcher {
	return &dispatcher{c: c, lg: lg, dial: DialManager}
}

const StartSimulationRPC = "Coordinator.StartSimulation"

func (sd *dispatcher) StartSimulation(_ struct{}, _ *struct{}) error {
	// These are called from the RPC server's goroutines, so each one
	// catches and reports its own panics.
	defer sd.lg.CatchAndReportCrash()

	return sd.c.StartSimulation()
}

const PauseSimulationRPC = "Coordinator.PauseSimulation"

func (sd *dispatcher) PauseSimulation(_ struct{}, _ *struct{}) error {
	defer sd.lg.CatchAndReportCrash()

	sd.c.PauseSimulation()
	return nil
}

const ResetSimulationRPC = "Coordinator.ResetSimulation"

func (sd *dispatcher) ResetSimulation(_ struct{}, _ *struct{}) error {
	defer sd.lg.CatchAndReportCrash()

	sd.c.ResetSimulation()
	return nil
}

const GotoSimulationTimeRPC = "Coordinator.GotoSimulationTime"

func (sd *dispatcher) GotoSimulationTime(t int64, _ *struct{}) error {
	defer sd.lg.CatchAndReportCrash()

	return sd.c.GotoSimulationTime(t)
}

const TriggerIncidentRPC = "Coordinator.TriggerIncident"

func (sd *dispatcher) TriggerIncident(logNumber int, _ *struct{}) error {
	defer sd.lg.CatchAndReportCrash()

	return sd.c.TriggerIncident(logNumber)
}

type RescheduleIncidentArgs struct {
	LogNumber int
	Time      int64
}

const RescheduleIncidentRPC = "Coordinator.RescheduleIncident"

func (sd *dispatcher) RescheduleIncident(args *RescheduleIncidentArgs, _ *struct{}) error {
	defer sd.lg.CatchAndReportCrash()

	return sd.c.RescheduleIncident(args.LogNumber, args.Time)
}

const DeleteIncidentRPC = "Coordinator.DeleteIncident"

func (sd *dispatcher) DeleteIncident(logNumber int, _ *struct{}) error {
	defer sd.lg.CatchAndReportCrash()

	return sd.c.DeleteIncident(logNumber)
}

const LoadScriptRPC = "Coordinator.LoadScript"

func (sd *dispatcher) LoadScript(path string, _ *struct{}) error {
	defer sd.lg.CatchAndReportCrash()

	return sd.c.LoadScript(path)
}

type SimulationStatus struct {
	Time        int64
	Status      ScriptStatus
	RunID       string
	Subscribers int
	HaveManager bool
}

const GetStatusRPC = "Coordinator.GetStatus"

func (sd *dispatcher) GetStatus(_ struct{}, st *SimulationStatus) error {
	defer sd.lg.CatchAndReportCrash()

	*st = SimulationStatus{
		Time:        sd.c.CurrentTime(),
		Status:      sd.c.ScriptStatus(),
		RunID:       sd.c.RunID(),
		Subscribers: sd.c.NumSubscribers(),
		HaveManager: sd.c.HaveManager(),
	}
	return nil
}

const GetIncidentsRPC = "Coordinator.GetIncidents"

func (sd *dispatcher) GetIncidents(_ struct{}, incs *[]sim.IncidentStatus) error {
	defer sd.lg.CatchAndReportCrash()

	*incs = sd.c.Incidents()
	return nil
}

const PostBulletinRPC = "Coordinator.PostBulletin"

func (sd *dispatcher) PostBulletin(text string, b *sim.Bulletin) error {
	defer sd.lg.CatchAndReportCrash()

	*b = sd.c.PostBulletin(text)
	return nil
}

const RegisterManagerRPC = "Coordinator.RegisterManager"

// RegisterManager connects back to the "Manager" RPC service at addr and
// makes it the simulation's manager.
func (sd *dispatcher) RegisterManager(addr string, _ *struct{}) error {
	defer sd.lg.CatchAndReportCrash()

	rm, err := sd.dial(addr, sd.lg)
	if err != nil {
		sd.lg.Warn("unable to connect to simulation manager", slog.String("address", addr), slog.Any("error", err))
		return err
	}

	sd.mu.Lock()
	prev := sd.manager
	sd.manager = rm
	sd.mu.Unlock()

	sd.c.RegisterManager(rm)

	if prev != nil {
		if err := prev.Close(); err != nil {
			sd.lg.Debug("closing previous manager", slog.Any("error", err))
		}
	}
	return nil
}

func (sd *dispatcher) closeManager() {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if sd.manager != nil {
		sd.manager.Close()
		sd.manager = nil
	}
}
