// sim/incident.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"log/slog"
	"slices"
	"sync"
)

type EventState int

const (
	EventWaiting EventState = iota
	EventTriggered
	EventCompleted
	EventFinalized
)

func (s EventState) String() string {
	return [...]string{"WAITING", "TRIGGERED", "COMPLETED", "FINALIZED"}[s]
}

// AudioCue is a recorded audio clip that plays when an event is
// triggered; the event isn't complete until the clip has finished.
type AudioCue struct {
	Path   string
	Length int // seconds; 0 means no audio
}

// TrafficUpdate is a side-effect payload for the traffic-simulation
// bridge, which uses it to open or close lanes at a network location.
type TrafficUpdate struct {
	LocationID int
	Payload    string
}

// CCTVSwitch is a side-effect payload for the media collaborator.
type CCTVSwitch struct {
	CameraID  int
	Direction string
	Toggle    bool
}

// IncidentEvent is one timed step of an incident. Its state is advanced
// by the roster (Trigger, Finalize) and by the audio queue (WavePlayed),
// which run on different goroutines, so it is protected by a mutex.
type IncidentEvent struct {
	SecondsToOccur int64
	Info           InquiryData
	Audio          AudioCue
	TrafficUpdates []TrafficUpdate
	CCTV           []CCTVSwitch

	mu              sync.Mutex
	state           EventState
	secondsOccurred int64
}

func (e *IncidentEvent) State() EventState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *IncidentEvent) SecondsOccurred() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.secondsOccurred
}

// Trigger moves a waiting event forward once the simulation time is past
// its scheduled point. An event without audio goes straight to
// EventCompleted and Trigger returns false; otherwise it goes to
// EventTriggered and Trigger returns true, meaning that someone must now
// play the cue and call WavePlayed. In any other state Trigger does
// nothing and returns false.
func (e *IncidentEvent) Trigger(incidentStart, now int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != EventWaiting || now <= incidentStart+e.SecondsToOccur {
		return false
	}
	if e.Audio.Length == 0 {
		e.state = EventCompleted
		return false
	}
	e.state = EventTriggered
	return true
}

func (e *IncidentEvent) AudioFile() string { return e.Audio.Path }
func (e *IncidentEvent) AudioLength() int  { return e.Audio.Length }

// WavePlayed is called when the event's audio cue has finished (or
// failed to play).
func (e *IncidentEvent) WavePlayed() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == EventTriggered {
		e.state = EventCompleted
	}
}

// Finalize time stamps the event's log entries and records when it
// occurred; after this its payload can be merged into the dispatch log.
func (e *IncidentEvent) Finalize(at int64, stamp string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Info.TimeStamp(stamp)
	e.secondsOccurred = at
	e.state = EventFinalized
}

func (e *IncidentEvent) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = EventWaiting
	e.secondsOccurred = 0
}

func (e *IncidentEvent) LogValue() slog.Value {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slog.GroupValue(
		slog.Int64("seconds_to_occur", e.SecondsToOccur),
		slog.String("state", e.state.String()),
		slog.Int64("seconds_occurred", e.secondsOccurred),
		slog.String("audio", e.Audio.Path),
		slog.Int("audio_length", e.Audio.Length))
}

///////////////////////////////////////////////////////////////////////////
// Incident

type Incident struct {
	LogNumber   int
	Description string
	Header      InquiryHeader
	StartTime   int64

	occurred  bool
	startedAt int64
	events    []*IncidentEvent
}

func NewIncident(logNumber int, description string, startTime int64, header InquiryHeader) *Incident {
	header.LogNumber = logNumber
	return &Incident{
		LogNumber:   logNumber,
		Description: description,
		Header:      header,
		StartTime:   startTime,
	}
}

// AddEvent adds an event, keeping the events sorted by their offset into
// the incident. The event's header is replaced with the incident's.
func (inc *Incident) AddEvent(e *IncidentEvent) {
	e.Info.Header = inc.Header
	idx, _ := slices.BinarySearchFunc(inc.events, e.SecondsToOccur, func(ev *IncidentEvent, t int64) int {
		if ev.SecondsToOccur <= t {
			return -1
		}
		return 1
	})
	inc.events = slices.Insert(inc.events, idx, e)
}

// SetHeader replaces the incident's header, including the copy carried by
// each of its events.
func (inc *Incident) SetHeader(h InquiryHeader) {
	h.LogNumber = inc.LogNumber
	inc.Header = h
	for _, e := range inc.events {
		e.Info.Header = h
	}
}

func (inc *Incident) Events() []*IncidentEvent {
	return slices.Clone(inc.events)
}

func (inc *Incident) Occurred() bool {
	return inc.occurred
}

func (inc *Incident) StartedAt() int64 {
	return inc.startedAt
}

// Tick starts the incident if its scheduled time has arrived; it returns
// true only for the tick that actually starts it.
func (inc *Incident) Tick(now int64) bool {
	if now >= inc.StartTime && !inc.occurred {
		inc.occurred = true
		inc.startedAt = now
		return true
	}
	return false
}

// ManualTrigger starts the incident at the given time regardless of its
// schedule.
func (inc *Incident) ManualTrigger(now int64) {
	inc.occurred = true
	inc.startedAt = now
}

// TriggeredEvents calls Trigger on each event and returns those that are
// now waiting for their audio cue to be played.
func (inc *Incident) TriggeredEvents(now int64) []*IncidentEvent {
	if !inc.occurred {
		return nil
	}

	var triggered []*IncidentEvent
	for _, e := range inc.events {
		if e.Trigger(inc.startedAt, now) {
			triggered = append(triggered, e)
		}
	}
	return triggered
}

func (inc *Incident) CompletedEvents() []*IncidentEvent {
	var completed []*IncidentEvent
	for _, e := range inc.events {
		if e.State() == EventCompleted {
			completed = append(completed, e)
		}
	}
	return completed
}

// Length returns the offset of the incident's last event.
func (inc *Incident) Length() int64 {
	if len(inc.events) == 0 {
		return 0
	}
	return inc.events[len(inc.events)-1].SecondsToOccur
}

func (inc *Incident) Reset() {
	inc.occurred = false
	inc.startedAt = 0
	for _, e := range inc.events {
		e.Reset()
	}
}

func (inc *Incident) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("log_number", inc.LogNumber),
		slog.String("description", inc.Description),
		slog.Int64("start_time", inc.StartTime),
		slog.Bool("occurred", inc.occurred),
		slog.Int64("started_at", inc.startedAt),
		slog.Int("events", len(inc.events)))
}

// IncidentStatus is a snapshot of an incident's schedule for remote
// clients.
type IncidentStatus struct {
	LogNumber   int
	Description string
	StartTime   int64
	Occurred    bool
	StartedAt   int64
	Length      int64
	Events      []EventStatus
}

type EventStatus struct {
	SecondsToOccur  int64
	SecondsOccurred int64
	State           EventState
	Audio           string
}

func (inc *Incident) Status() IncidentStatus {
	st := IncidentStatus{
		LogNumber:   inc.LogNumber,
		Description: inc.Description,
		StartTime:   inc.StartTime,
		Occurred:    inc.occurred,
		StartedAt:   inc.startedAt,
		Length:      inc.Length(),
	}
	for _, e := range inc.events {
		st.Events = append(st.Events, EventStatus{
			SecondsToOccur:  e.SecondsToOccur,
			SecondsOccurred: e.SecondsOccurred(),
			State:           e.State(),
			Audio:           e.Audio.Path,
		})
	}
	return st
}
