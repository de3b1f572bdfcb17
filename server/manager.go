// server/manager.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"fmt"
	"log/slog"
	"net/rpc"
	"slices"
	"sync"
	"time"

	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/sim"
	"github.com/mmp/cadsim/util"
)

type ScriptStatus int

const (
	NoScript ScriptStatus = iota
	StoppedNotStarted
	PausedStarted
	Running
	ATMSSynchronization
)

func (s ScriptStatus) String() string {
	return [...]string{"NO_SCRIPT", "SCRIPT_STOPPED_NOT_STARTED", "SCRIPT_PAUSED_STARTED", "SCRIPT_RUNNING",
		"ATMS_SYNCHRONIZATION"}[s]
}

// ParamicsStatus is the state of the link to the traffic simulator.
type ParamicsStatus int

const (
	ParamicsUnknown ParamicsStatus = iota
	ParamicsConnecting
	ParamicsConnected
	ParamicsDisconnected
	ParamicsSendingNetworkID
	ParamicsLoading
	ParamicsWarming
	ParamicsLoaded
	ParamicsDropped
	ParamicsUnreachable
)

func (s ParamicsStatus) String() string {
	return [...]string{"UNKNOWN", "CONNECTING", "CONNECTED", "DISCONNECTED", "SENDING_NETWORK_ID", "LOADING",
		"WARMING", "LOADED", "DROPPED", "UNREACHABLE"}[s]
}

// SimulationManager is the remote instructor console that follows the
// simulation. Any error from one of its methods is taken to mean that the
// manager has gone away.
type SimulationManager interface {
	Tick(t int64) error
	SetScriptStatus(s ScriptStatus) error
	SetParamicsStatus(s ParamicsStatus) error
	IncidentStarted(logNumber int) error
	IncidentAdded(logNumber int) error
	IncidentRemoved(logNumber int) error
	EventOccurred(logNumber int, ev sim.EventStatus) error
}

// TrafficBridge connects the simulation to an external traffic simulator.
type TrafficBridge interface {
	// UpdateIncident forwards an event's lane closure or reopening.
	UpdateIncident(logNumber int, u sim.TrafficUpdate) error
	// SendIncidentUpdate pushes the current set of incident updates; it
	// is called every 30 seconds of simulation time with the current
	// simulation time in seconds.
	SendIncidentUpdate(simSeconds int64) error
	Connected() bool
}

///////////////////////////////////////////////////////////////////////////
// managerQueue

type managerCall struct {
	m SimulationManager
	f func(SimulationManager) error
}

// managerQueue delivers callbacks to the simulation manager one at a
// time, in the order they were pushed, on its own goroutine; push never
// blocks. When a callback fails, failed is called and the rest of the
// calls queued for that manager are discarded.
type managerQueue struct {
	mu     sync.Mutex
	calls  []managerCall
	wake   chan struct{}
	done   chan struct{}
	failed func(SimulationManager, error)
	lg     *log.Logger
}

func newManagerQueue(failed func(SimulationManager, error), lg *log.Logger) *managerQueue {
	q := &managerQueue{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		failed: failed,
		lg:     lg,
	}
	go q.run()
	return q
}

func (q *managerQueue) push(m SimulationManager, f func(SimulationManager) error) {
	q.mu.Lock()
	q.calls = append(q.calls, managerCall{m: m, f: f})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *managerQueue) close() {
	close(q.done)
}

func (q *managerQueue) next() (managerCall, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.calls) == 0 {
		return managerCall{}, false
	}
	c := q.calls[0]
	q.calls = q.calls[1:]
	return c, true
}

func (q *managerQueue) discard(m SimulationManager) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.calls = slices.DeleteFunc(q.calls, func(c managerCall) bool { return c.m == m })
}

func (q *managerQueue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}

		for {
			select {
			case <-q.done:
				return
			default:
			}

			c, ok := q.next()
			if !ok {
				break
			}
			if err := q.deliver(c); err != nil {
				q.failed(c.m, err)
				q.discard(c.m)
			}
		}
	}
}

func (q *managerQueue) deliver(c managerCall) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.lg.Error("simulation manager callback panicked", slog.Any("panic", r))
			err = fmt.Errorf("simulation manager callback panicked: %v", r)
		}
	}()
	return c.f(c.m)
}

///////////////////////////////////////////////////////////////////////////
// RPC

const (
	ManagerTickRPC              = "Manager.Tick"
	ManagerSetScriptStatusRPC   = "Manager.SetScriptStatus"
	ManagerSetParamicsStatusRPC = "Manager.SetParamicsStatus"
	ManagerIncidentStartedRPC   = "Manager.IncidentStarted"
	ManagerIncidentAddedRPC     = "Manager.IncidentAdded"
	ManagerIncidentRemovedRPC   = "Manager.IncidentRemoved"
	ManagerEventOccurredRPC     = "Manager.EventOccurred"
)

type EventOccurredArgs struct {
	LogNumber int
	Event     sim.EventStatus
}

// ManagerService exposes a SimulationManager as the "Manager" RPC service
// so that the coordinator can reach it through a RemoteManager.
type ManagerService struct {
	M  SimulationManager
	lg *log.Logger
}

func NewManagerService(m SimulationManager, lg *log.Logger) *ManagerService {
	return &ManagerService{M: m, lg: lg}
}

func (s *ManagerService) Tick(t int64, _ *struct{}) error {
	defer s.lg.CatchAndReportCrash()
	return s.M.Tick(t)
}

func (s *ManagerService) SetScriptStatus(st ScriptStatus, _ *struct{}) error {
	defer s.lg.CatchAndReportCrash()
	return s.M.SetScriptStatus(st)
}

func (s *ManagerService) SetParamicsStatus(st ParamicsStatus, _ *struct{}) error {
	defer s.lg.CatchAndReportCrash()
	return s.M.SetParamicsStatus(st)
}

func (s *ManagerService) IncidentStarted(logNumber int, _ *struct{}) error {
	defer s.lg.CatchAndReportCrash()
	return s.M.IncidentStarted(logNumber)
}

func (s *ManagerService) IncidentAdded(logNumber int, _ *struct{}) error {
	defer s.lg.CatchAndReportCrash()
	return s.M.IncidentAdded(logNumber)
}

func (s *ManagerService) IncidentRemoved(logNumber int, _ *struct{}) error {
	defer s.lg.CatchAndReportCrash()
	return s.M.IncidentRemoved(logNumber)
}

func (s *ManagerService) EventOccurred(args *EventOccurredArgs, _ *struct{}) error {
	defer s.lg.CatchAndReportCrash()
	return s.M.EventOccurred(args.LogNumber, args.Event)
}

const managerCallTimeout = 5 * time.Second

// RemoteManager is the coordinator's side of an RPC connection to a
// SimulationManager.
type RemoteManager struct {
	addr   string
	client *rpc.Client
	lg     *log.Logger
}

func DialManager(addr string, lg *log.Logger) (*RemoteManager, error) {
	client, err := util.DialRPC(addr, false, managerCallTimeout, lg)
	if err != nil {
		return nil, err
	}
	return NewRemoteManager(addr, client, lg), nil
}

func NewRemoteManager(addr string, client *rpc.Client, lg *log.Logger) *RemoteManager {
	return &RemoteManager{addr: addr, client: client, lg: lg}
}

func (m *RemoteManager) call(method string, args any) error {
	var reply struct{}
	return TryDecodeError(util.CallWithTimeout(m.client, method, args, &reply, managerCallTimeout))
}

func (m *RemoteManager) Tick(t int64) error {
	return m.call(ManagerTickRPC, t)
}

func (m *RemoteManager) SetScriptStatus(s ScriptStatus) error {
	return m.call(ManagerSetScriptStatusRPC, s)
}

func (m *RemoteManager) SetParamicsStatus(s ParamicsStatus) error {
	return m.call(ManagerSetParamicsStatusRPC, s)
}

func (m *RemoteManager) IncidentStarted(logNumber int) error {
	return m.call(ManagerIncidentStartedRPC, logNumber)
}

func (m *RemoteManager) IncidentAdded(logNumber int) error {
	return m.call(ManagerIncidentAddedRPC, logNumber)
}

func (m *RemoteManager) IncidentRemoved(logNumber int) error {
	return m.call(ManagerIncidentRemovedRPC, logNumber)
}

func (m *RemoteManager) EventOccurred(logNumber int, ev sim.EventStatus) error {
	return m.call(ManagerEventOccurredRPC, &EventOccurredArgs{LogNumber: logNumber, Event: ev})
}

func (m *RemoteManager) Close() error {
	return m.client.Close()
}

func (m *RemoteManager) LogValue() slog.Value {
	return slog.StringValue(m.addr)
}
