// server/coordinator.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmp/cadsim/audio"
	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/sim"
	"github.com/mmp/cadsim/util"

	"github.com/google/uuid"
)

// Coordinator owns the simulation clock and the incident roster. It
// advances the simulation, publishes the resulting changes to the
// terminals' event subscriptions, and keeps the remote simulation manager
// and the traffic bridge informed.
//
// All of its state is protected by mu; the terminals only ever read the
// dispatch log through its methods.
type Coordinator struct {
	mu util.LoggingMutex

	clock    sim.CADClock
	running  bool
	lastHHMM string
	runID    string

	roster      *sim.Roster
	audio       *audio.Queue
	eventStream *sim.EventStream
	history     HistoryStore
	manager     SimulationManager
	bridge      TrafficBridge

	// Manager callbacks are delivered in order by a single goroutine.
	notifications *managerQueue
	// Set while a periodic traffic bridge update is in flight.
	bridgeBusy atomic.Bool

	startTime time.Time
	lg        *log.Logger
	closeOnce sync.Once
}

// NewCoordinator returns a coordinator with no script loaded. CAD times
// are reported relative to base. A nil history store disables history.
func NewCoordinator(base time.Time, q *audio.Queue, h HistoryStore, lg *log.Logger) *Coordinator {
	if h == nil {
		h = nopHistory{}
	}
	c := &Coordinator{
		clock:       sim.CADClock{Base: base},
		runID:       uuid.NewString(),
		roster:      sim.NewRoster(lg),
		audio:       q,
		eventStream: sim.NewEventStream(lg),
		history:     h,
		startTime:   time.Now(),
		lg:          lg,
	}
	c.mu.Name = "coordinator"
	c.lastHHMM = c.clock.HHMM()
	c.notifications = newManagerQueue(c.managerFailed, lg)
	return c
}

func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.notifications.close()
		c.eventStream.Destroy()
		if err := c.history.Close(); err != nil {
			c.lg.Warn("history close", slog.Any("error", err))
		}
	})
}

func (c *Coordinator) Subscribe() *sim.EventsSubscription {
	return c.eventStream.Subscribe()
}

func (c *Coordinator) Unsubscribe(sub *sim.EventsSubscription) {
	sub.Unsubscribe()
}

func (c *Coordinator) NumSubscribers() int {
	return c.eventStream.NumSubscribers()
}

///////////////////////////////////////////////////////////////////////////
// Collaborators

// RegisterManager sets the simulation manager to notify of changes,
// replacing any previous one. It is immediately told the current time
// and status.
func (c *Coordinator) RegisterManager(m SimulationManager) {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	c.manager = m
	t, status := c.clock.Seconds, c.scriptStatus()
	paramics := ParamicsDisconnected
	if c.bridge != nil && c.bridge.Connected() {
		paramics = ParamicsConnected
	}

	c.lg.Info("simulation manager registered", slog.Any("manager", m))

	c.notifications.push(m, func(m SimulationManager) error {
		if err := m.SetScriptStatus(status); err != nil {
			return err
		}
		if err := m.SetParamicsStatus(paramics); err != nil {
			return err
		}
		return m.Tick(t)
	})
}

func (c *Coordinator) SetTrafficBridge(b TrafficBridge) {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	c.bridge = b
	status := ParamicsDisconnected
	if b != nil && b.Connected() {
		status = ParamicsConnected
	}
	c.notifyManagerAsync(func(m SimulationManager) error { return m.SetParamicsStatus(status) })
}

// notifyManagerAsync queues a call of f with the current manager, if
// there is one. c.mu must be held, so that calls are queued in the order
// the changes happened.
func (c *Coordinator) notifyManagerAsync(f func(SimulationManager) error) {
	if c.manager != nil {
		c.notifications.push(c.manager, f)
	}
}

// managerFailed is called by the notification goroutine when a callback
// to m returns an error.
func (c *Coordinator) managerFailed(m SimulationManager, err error) {
	c.mu.Lock(c.lg)
	if c.manager == m {
		c.manager = nil
	}
	c.mu.Unlock(c.lg)

	c.lg.Error("Connection to Simulation Manager has been dropped.", slog.Any("error", err))
}

func (c *Coordinator) HaveManager() bool {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.manager != nil
}

///////////////////////////////////////////////////////////////////////////
// Script and incidents

// LoadScript replaces the current incidents with those in the given
// script file and resets the simulation.
func (c *Coordinator) LoadScript(path string) error {
	incidents, err := sim.LoadScript(path, c.lg)
	if err != nil {
		return err
	}
	return c.SetIncidents(incidents)
}

func (c *Coordinator) SetIncidents(incidents []*sim.Incident) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	c.roster.Clear()
	if err := c.roster.Add(incidents...); err != nil {
		c.roster.Clear()
		return err
	}
	c.reset()
	return nil
}

func (c *Coordinator) AddIncident(inc *sim.Incident) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if err := c.roster.Add(inc); err != nil {
		return err
	}
	c.lg.Info("incident added", slog.Any("incident", inc))

	logNumber := inc.LogNumber
	c.notifyManagerAsync(func(m SimulationManager) error { return m.IncidentAdded(logNumber) })
	return nil
}

func (c *Coordinator) DeleteIncident(logNumber int) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if err := c.roster.Delete(logNumber); err != nil {
		return err
	}
	c.lg.Info("incident deleted", slog.Int("log_number", logNumber))

	c.notifyManagerAsync(func(m SimulationManager) error { return m.IncidentRemoved(logNumber) })
	if !c.roster.Loaded() {
		c.running = false
		c.notifyManagerAsync(func(m SimulationManager) error { return m.SetScriptStatus(NoScript) })
	}
	return nil
}

func (c *Coordinator) RescheduleIncident(logNumber int, t int64) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if t < c.clock.Seconds {
		return sim.ErrTimePassed
	}
	return c.roster.Reschedule(logNumber, t)
}

// TriggerIncident starts the incident right away rather than waiting for
// its scheduled time.
func (c *Coordinator) TriggerIncident(logNumber int) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if !c.roster.Loaded() {
		return sim.ErrNoScriptLoaded
	} else if !c.running {
		return sim.ErrSimNotStarted
	} else if _, ok := c.roster.Incident(logNumber); !ok {
		return sim.ErrNoSuchIncident
	}

	if c.roster.TriggerIncident(logNumber, c.clock.Seconds) {
		c.lg.Info("incident triggered", slog.Int("log_number", logNumber), slog.Int64("sim_time", c.clock.Seconds))
	}
	return nil
}

func (c *Coordinator) Incidents() []sim.IncidentStatus {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.roster.Status()
}

///////////////////////////////////////////////////////////////////////////
// Clock

func (c *Coordinator) StartSimulation() error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if !c.roster.Loaded() {
		return sim.ErrNoScriptLoaded
	}
	c.running = true
	c.audio.SetEnabled(true)
	c.lg.Info("simulation started", slog.Int64("sim_time", c.clock.Seconds))

	c.notifyManagerAsync(func(m SimulationManager) error { return m.SetScriptStatus(Running) })
	return nil
}

func (c *Coordinator) PauseSimulation() {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	c.running = false
	c.audio.SetEnabled(false)
	c.lg.Info("simulation paused", slog.Int64("sim_time", c.clock.Seconds))

	status := c.scriptStatus()
	c.notifyManagerAsync(func(m SimulationManager) error { return m.SetScriptStatus(status) })
}

func (c *Coordinator) ResetSimulation() {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	c.reset()
}

func (c *Coordinator) reset() {
	c.roster.Reset()
	c.audio.SetEnabled(false)
	c.audio.DequeueAll()
	c.running = false
	c.clock.Seconds = 0
	c.lastHHMM = c.clock.HHMM()
	c.runID = uuid.NewString()

	c.lg.Info("simulation reset", slog.String("run_id", c.runID))
	c.eventStream.Post(sim.Event{Type: sim.ResetEvent, Clock: c.clock})

	status := c.scriptStatus()
	c.notifyManagerAsync(func(m SimulationManager) error {
		if err := m.SetScriptStatus(status); err != nil {
			return err
		}
		return m.Tick(0)
	})
}

// GotoSimulationTime fast-forwards the simulation to time t. Audio cues
// are skipped along the way.
func (c *Coordinator) GotoSimulationTime(t int64) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if !c.roster.Loaded() {
		return sim.ErrNoScriptLoaded
	}

	audioEnabled := c.audio.Enabled()
	c.audio.SetEnabled(false)
	for s := int64(1); s <= t; s++ {
		clock := sim.CADClock{Base: c.clock.Base, Seconds: s}
		for _, u := range c.roster.Tick(s, clock, c.enqueueCue) {
			c.publishUpdate(u, clock)
		}
	}
	c.audio.SetEnabled(audioEnabled)

	c.clock.Seconds = t
	c.postTimeUpdate()
	c.lg.Info("simulation time set", slog.Int64("sim_time", t))

	c.notifyManagerAsync(func(m SimulationManager) error { return m.Tick(t) })
	return nil
}

// Tick advances the simulation by one second if it is running. Every 30
// seconds the traffic bridge is asked to push an incident update; that
// happens outside the lock and off the caller's goroutine.
func (c *Coordinator) Tick() {
	c.mu.Lock(c.lg)

	if !c.running {
		c.mu.Unlock(c.lg)
		return
	}

	c.clock.Seconds++
	t := c.clock.Seconds

	c.notifyManagerAsync(func(m SimulationManager) error { return m.Tick(t) })

	for _, u := range c.roster.Tick(t, c.clock, c.enqueueCue) {
		c.publishUpdate(u, c.clock)
	}

	c.postTimeUpdate()

	bridge := c.bridge
	c.mu.Unlock(c.lg)

	if t%30 == 0 && bridge != nil {
		c.sendTrafficUpdate(bridge, t)
	}
}

// sendTrafficUpdate starts a periodic incident update to the bridge
// unless the previous one is still running.
func (c *Coordinator) sendTrafficUpdate(b TrafficBridge, t int64) {
	if !c.bridgeBusy.CompareAndSwap(false, true) {
		c.lg.Warn("traffic bridge update still in progress; skipping", slog.Int64("sim_time", t))
		return
	}

	go func() {
		defer c.lg.CatchAndReportCrash()
		defer c.bridgeBusy.Store(false)

		if !b.Connected() {
			return
		}
		if err := b.SendIncidentUpdate(t); err != nil {
			c.lg.Warn("traffic bridge incident update failed", slog.Int64("sim_time", t),
				slog.Any("error", err))
		}
	}()
}

func (c *Coordinator) enqueueCue(e *sim.IncidentEvent) {
	c.audio.Enqueue(e)
}

func (c *Coordinator) postTimeUpdate() {
	if hhmm := c.clock.HHMM(); hhmm != c.lastHHMM {
		c.lastHHMM = hhmm
		c.eventStream.Post(sim.Event{Type: sim.TimeUpdateEvent, Clock: c.clock})
	}
}

// publishUpdate sends a change to the dispatch log to the terminals and
// the collaborators. c.mu must be held.
func (c *Coordinator) publishUpdate(u sim.LogUpdate, clock sim.CADClock) {
	logNumber := u.LogNumber

	if u.Started {
		c.eventStream.Post(sim.Event{Type: sim.IncidentSummaryEvent, Summary: u.Summary, Clock: clock})
		c.notifyManagerAsync(func(m SimulationManager) error { return m.IncidentStarted(logNumber) })
	}

	c.eventStream.Post(sim.Event{Type: sim.IncidentInquiryEvent, Inquiry: u.Inquiry, Clock: clock})

	if c.bridge != nil {
		for _, tu := range u.Event.TrafficUpdates {
			if err := c.bridge.UpdateIncident(logNumber, tu); err != nil {
				c.lg.Warn("traffic bridge update failed", slog.Int("log_number", logNumber),
					slog.Int("location", tu.LocationID), slog.Any("error", err))
			}
		}
	}

	status := sim.EventStatus{
		SecondsToOccur:  u.Event.SecondsToOccur,
		SecondsOccurred: u.Event.SecondsOccurred(),
		State:           u.Event.State(),
		Audio:           u.Event.Audio.Path,
	}
	c.notifyManagerAsync(func(m SimulationManager) error { return m.EventOccurred(logNumber, status) })

	if err := c.history.RecordEvent(c.runID, u, clock); err != nil {
		c.lg.Warn("unable to record event", slog.Any("error", err))
	}
}

func (c *Coordinator) ScriptStatus() ScriptStatus {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.scriptStatus()
}

func (c *Coordinator) scriptStatus() ScriptStatus {
	switch {
	case !c.roster.Loaded():
		return NoScript
	case c.running:
		return Running
	case c.roster.AnyOccurred():
		return PausedStarted
	default:
		return StoppedNotStarted
	}
}

func (c *Coordinator) CurrentTime() int64 {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.clock.Seconds
}

func (c *Coordinator) RunID() string {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.runID
}

///////////////////////////////////////////////////////////////////////////
// Dispatch log; these implement screen.DataSource.

func (c *Coordinator) CADTime() sim.CADClock {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.clock
}

func (c *Coordinator) Bulletins() []sim.Bulletin {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.roster.Bulletins()
}

func (c *Coordinator) Inquiry(logNumber int) (sim.InquiryData, bool) {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.roster.Inquiry(logNumber)
}

func (c *Coordinator) Summaries() []sim.SummaryRow {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.roster.Summaries()
}

func (c *Coordinator) IncidentExists(logNumber int) bool {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.roster.Exists(logNumber)
}

func (c *Coordinator) NextLogNumber() int {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.roster.MaxLogNumber() + 1
}

// CommandLineUpdate merges log data entered at a terminal and publishes
// the result.
func (c *Coordinator) CommandLineUpdate(data sim.InquiryData) {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	c.publishUpdate(c.roster.CommandLineUpdate(data, c.clock), c.clock)
}

// RouteMessage sends the message to all terminals; each decides whether
// it is the recipient.
func (c *Coordinator) RouteMessage(msg sim.RoutedMessage) {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	c.lg.Info("routing message", slog.Any("message", msg))
	c.eventStream.Post(sim.Event{Type: sim.RoutedMessageEvent, Message: msg, Clock: c.clock})

	if err := c.history.RecordMessage(c.runID, msg); err != nil {
		c.lg.Warn("unable to record message", slog.Any("error", err))
	}
}

// PostBulletin adds a message to the incident board.
func (c *Coordinator) PostBulletin(text string) sim.Bulletin {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	b := c.roster.AddBulletin(text, c.clock)
	c.eventStream.Post(sim.Event{Type: sim.IncidentBoardEvent, Bulletins: c.roster.Bulletins(), Clock: c.clock})
	return b
}

// LockStats reports how the coordinator's lock has been used, to spot
// operations that hold up the clock.
func (c *Coordinator) LockStats() util.LockStats {
	return c.mu.Stats()
}

func (c *Coordinator) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("sim_time", c.clock.Seconds),
		slog.Bool("running", c.running),
		slog.String("run_id", c.runID),
		slog.Any("audio", c.audio),
		slog.Int("subscribers", c.eventStream.NumSubscribers()))
}
