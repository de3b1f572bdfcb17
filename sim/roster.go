// sim/roster.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"

	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/util"
)

// LogUpdate describes a change to the shared dispatch log that results
// from a finalized event; the coordinator publishes one to the sessions
// for each.
type LogUpdate struct {
	LogNumber int
	// Started is set for the first update of a log number, at which
	// point the incident appears in the summary and its inquiry exists.
	Started bool
	Event   *IncidentEvent
	Inquiry InquiryData // snapshot of the merged log
	Summary SummaryRow
}

func (u LogUpdate) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("log_number", u.LogNumber),
		slog.Bool("started", u.Started),
		slog.Any("event", u.Event))
}

// Roster holds the scripted incidents along with the shared dispatch log
// that their events build up: the per-incident inquiry data, the summary
// rows, and the incident board bulletins.
//
// Roster does no locking of its own; the coordinator serializes access.
type Roster struct {
	incidents []*Incident

	inquiries map[int]*InquiryData
	summaries []SummaryRow // in the order the incidents started
	bulletins []Bulletin
	history   map[int][]*IncidentEvent

	lg *log.Logger
}

func NewRoster(lg *log.Logger) *Roster {
	return &Roster{
		inquiries: make(map[int]*InquiryData),
		history:   make(map[int][]*IncidentEvent),
		lg:        lg,
	}
}

func (r *Roster) Add(incs ...*Incident) error {
	for _, inc := range incs {
		if r.find(inc.LogNumber) != nil {
			return ErrDuplicateLogNumber
		}
		r.incidents = append(r.incidents, inc)
	}
	return nil
}

func (r *Roster) find(logNumber int) *Incident {
	if idx := slices.IndexFunc(r.incidents, func(inc *Incident) bool { return inc.LogNumber == logNumber }); idx != -1 {
		return r.incidents[idx]
	}
	return nil
}

func (r *Roster) Incident(logNumber int) (*Incident, bool) {
	inc := r.find(logNumber)
	return inc, inc != nil
}

func (r *Roster) Incidents() []*Incident {
	return slices.Clone(r.incidents)
}

func (r *Roster) Loaded() bool {
	return len(r.incidents) > 0
}

func (r *Roster) AnyOccurred() bool {
	return slices.ContainsFunc(r.incidents, func(inc *Incident) bool { return inc.Occurred() })
}

// Delete removes an incident that has not yet started.
func (r *Roster) Delete(logNumber int) error {
	inc := r.find(logNumber)
	if inc == nil {
		return ErrNoSuchIncident
	} else if inc.Occurred() {
		return ErrIncidentAlreadyStarted
	}
	r.incidents = slices.DeleteFunc(r.incidents, func(i *Incident) bool { return i == inc })
	return nil
}

// Reschedule changes the start time of an incident that has not yet
// started.
func (r *Roster) Reschedule(logNumber int, t int64) error {
	inc := r.find(logNumber)
	if inc == nil {
		return ErrNoSuchIncident
	} else if inc.Occurred() {
		return ErrIncidentAlreadyStarted
	}
	inc.StartTime = t
	return nil
}

// TriggerIncident starts the given incident immediately. It has no
// effect on an incident that has already occurred.
func (r *Roster) TriggerIncident(logNumber int, t int64) bool {
	if inc := r.find(logNumber); inc != nil && !inc.Occurred() {
		inc.ManualTrigger(t)
		return true
	}
	return false
}

// Tick advances every incident to simulation time t. Events that need
// their audio cue played are passed to enqueue, which may complete them
// right away (e.g., if audio is disabled), in which case they are
// finalized in this same tick. The returned updates are in the order the
// events were merged into the log.
func (r *Roster) Tick(t int64, clock CADClock, enqueue func(*IncidentEvent)) []LogUpdate {
	var updates []LogUpdate
	for _, inc := range r.incidents {
		if inc.Tick(t) {
			r.lg.Info("incident started", slog.Any("incident", inc), slog.Int64("sim_time", t))
		}

		for _, e := range inc.TriggeredEvents(t) {
			enqueue(e)
		}

		for _, e := range inc.CompletedEvents() {
			e.Finalize(t, clock.HHMM())
			updates = append(updates, r.merge(inc.LogNumber, e, clock))
		}
	}
	return updates
}

// CommandLineUpdate merges operator-entered log data into the dispatch
// log as if it were a finalized script event.
func (r *Roster) CommandLineUpdate(data InquiryData, clock CADClock) LogUpdate {
	e := &IncidentEvent{
		SecondsToOccur: clock.Seconds,
		Info:           data.Clone(),
	}
	e.Finalize(clock.Seconds, clock.HHMM())
	return r.merge(data.LogNumber(), e, clock)
}

func (r *Roster) merge(logNumber int, e *IncidentEvent, clock CADClock) LogUpdate {
	r.history[logNumber] = append(r.history[logNumber], e)

	u := LogUpdate{LogNumber: logNumber, Event: e}

	if inq, ok := r.inquiries[logNumber]; ok {
		inq.Update(e.Info.Clone())
		u.Inquiry = inq.Clone()

		if idx := slices.IndexFunc(r.summaries, func(s SummaryRow) bool { return s.LogNumber == logNumber }); idx != -1 {
			r.summaries[idx] = MakeSummaryRow(inq.Header)
			u.Summary = r.summaries[idx]
		}
	} else {
		inq := e.Info.Clone()
		inq.Header.LogNumber = logNumber
		inq.Header.LogStatus = "A"
		inq.Header.IncidentDate = clock.Date()[:4]
		inq.Header.IncidentTime = clock.HHMM()
		r.inquiries[logNumber] = &inq

		u.Started = true
		u.Inquiry = inq.Clone()
		u.Summary = MakeSummaryRow(inq.Header)
		r.summaries = append(r.summaries, u.Summary)
	}

	r.lg.Debug("merged event", slog.Any("update", u))

	return u
}

// Exists reports whether the incident has entered the dispatch log.
func (r *Roster) Exists(logNumber int) bool {
	_, ok := r.inquiries[logNumber]
	return ok
}

func (r *Roster) Inquiry(logNumber int) (InquiryData, bool) {
	if inq, ok := r.inquiries[logNumber]; ok {
		return inq.Clone(), true
	}
	return InquiryData{}, false
}

func (r *Roster) Summaries() []SummaryRow {
	return slices.Clone(r.summaries)
}

func (r *Roster) Bulletins() []Bulletin {
	return slices.Clone(r.bulletins)
}

func (r *Roster) AddBulletin(message string, clock CADClock) Bulletin {
	b := Bulletin{
		Number:  len(r.bulletins) + 1,
		Date:    clock.Date(),
		Time:    clock.HHMM(),
		Message: strings.TrimSpace(message),
	}
	r.bulletins = append(r.bulletins, b)
	return b
}

// History returns the finalized events for the given log number, in the
// order they were merged.
func (r *Roster) History(logNumber int) []*IncidentEvent {
	return slices.Clone(r.history[logNumber])
}

// MaxLogNumber returns the largest log number of any scripted incident
// or dispatch log entry.
func (r *Roster) MaxLogNumber() int {
	m := 0
	for _, inc := range r.incidents {
		m = max(m, inc.LogNumber)
	}
	for n := range r.inquiries {
		m = max(m, n)
	}
	return m
}

// Reset returns every incident to its unstarted state and clears the
// dispatch log.
func (r *Roster) Reset() {
	for _, inc := range r.incidents {
		inc.Reset()
	}
	clear(r.inquiries)
	clear(r.history)
	r.summaries = nil
	r.bulletins = nil
}

// Clear removes all of the incidents as well as resetting the log.
func (r *Roster) Clear() {
	r.Reset()
	r.incidents = nil
}

func (r *Roster) Status() []IncidentStatus {
	st := util.MapSlice(r.incidents, (*Incident).Status)
	slices.SortStableFunc(st, func(a, b IncidentStatus) int {
		return cmp.Or(cmp.Compare(a.StartTime, b.StartTime), cmp.Compare(a.LogNumber, b.LogNumber))
	})
	return st
}
