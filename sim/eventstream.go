// sim/eventstream.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/mmp/cadsim/log"
)

// EventStream provides a basic pub/sub event interface: the coordinator
// posts domain events to the stream and each terminal session subscribes
// to receive them. Every subscriber sees the events in the order they
// were posted.
type EventStream struct {
	mu            sync.Mutex
	events        []Event
	subscriptions map[*EventsSubscription]interface{}
	lastPost      time.Time
	warnedLong    bool
	done          chan struct{}
	lg            *log.Logger
}

type EventsSubscription struct {
	stream *EventStream
	// offset is offset in the EventStream stream array up to which the
	// subscriber has consumed events so far.
	offset      int
	source      string
	lastGet     time.Time
	warnedNoGet bool
	// notify has a pending value whenever events have been posted that
	// the subscriber hasn't yet collected with Get.
	notify chan struct{}
}

func (e *EventsSubscription) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("offset", e.offset),
		slog.String("source", e.source),
		slog.Time("last_get", e.lastGet))
}

// Notify returns a channel that receives a value after new events are
// posted; the subscriber should then call Get.
func (e *EventsSubscription) Notify() <-chan struct{} {
	return e.notify
}

func NewEventStream(lg *log.Logger) *EventStream {
	es := &EventStream{
		subscriptions: make(map[*EventsSubscription]interface{}),
		lastPost:      time.Now(),
		done:          make(chan struct{}),
		lg:            lg,
	}
	go es.monitor()
	return es
}

// Subscribe registers a new subscriber to the stream. Events posted
// before the call are never returned to it.
func (e *EventStream) Subscribe() *EventsSubscription {
	// Record the subscriber's callsite, so that we can more easily debug
	// subscribers that aren't consuming events.
	_, fn, line, _ := runtime.Caller(1)
	source := fmt.Sprintf("%s:%d", fn, line)

	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &EventsSubscription{
		stream:  e,
		offset:  len(e.events),
		source:  source,
		lastGet: time.Now(),
		notify:  make(chan struct{}, 1),
	}
	e.subscriptions[sub] = nil
	return sub
}

func (e *EventStream) NumSubscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscriptions)
}

func (e *EventStream) monitor() {
	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-tick.C:
		}

		e.mu.Lock()

		e.compact()

		if len(e.events) > 1000 && !e.warnedLong {
			// It's likely that one of the subscribers is out to lunch if
			// the stream has grown this long.
			e.lg.Warn("Long EventStream", slog.Int("length", len(e.events)),
				log.AnyPointerSlice("subscriptions", slices.Collect(maps.Keys(e.subscriptions))))
			e.warnedLong = true
		}

		// Only complain about idle subscribers if events are actually
		// being posted; nothing is posted while the sim is paused.
		if time.Since(e.lastPost) < 5*time.Second {
			for sub := range e.subscriptions {
				if d := time.Since(sub.lastGet); d > 10*time.Second && !sub.warnedNoGet {
					e.lg.Warn("Subscriber has not called Get() recently",
						slog.Duration("duration", d), slog.Any("subscriber", sub))
					sub.warnedNoGet = true
				}
			}
		}

		e.mu.Unlock()
	}
}

// Unsubscribe removes a subscriber from the subscriber list. No events
// are delivered to it afterward.
func (e *EventsSubscription) Unsubscribe() {
	s := e.stream
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[e]; !ok {
		s.lg.Errorf("Attempted to unsubscribe invalid subscription: %+v", e)
	}
	delete(s.subscriptions, e)
	e.stream = nil
}

// Post adds an event to the event stream and wakes up all of the
// subscribers.
func (e *EventStream) Post(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lg.Debug("posted event", slog.Any("event", event))

	// Ignore the event if no one's paying attention.
	if len(e.subscriptions) == 0 {
		return
	}

	e.lastPost = time.Now()
	e.events = append(e.events, event)

	for sub := range e.subscriptions {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// Get returns all of the events from the stream since the last time Get
// was called with the subscription.
func (e *EventsSubscription) Get() []Event {
	s := e.stream
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[e]; !ok {
		s.lg.Errorf("Attempted to get with unregistered subscription: %+v", e)
		return nil
	}

	events := slices.Clone(s.events[e.offset:])
	e.offset = len(s.events)
	e.lastGet = time.Now()
	e.warnedNoGet = false

	return events
}

func (e *EventStream) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.done:
		return
	default:
	}

	close(e.done)
	clear(e.subscriptions)
}

// compact reclaims storage for events that all subscribers have seen; it
// is called periodically so that EventStream memory usage doesn't grow
// without bound.
func (e *EventStream) compact() {
	minOffset := len(e.events)
	for sub := range e.subscriptions {
		if sub.offset < minOffset {
			minOffset = sub.offset
		}
	}

	if minOffset > cap(e.events)/2 {
		n := len(e.events) - minOffset

		copy(e.events, e.events[minOffset:])
		e.events = e.events[:n]

		for sub := range e.subscriptions {
			sub.offset -= minOffset
		}

		e.warnedLong = false // reset this after a successful compact.
	}
}

// implements slog.LogValuer
func (e *EventStream) LogValue() slog.Value {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := []slog.Attr{slog.Int("len", len(e.events)), slog.Int("cap", cap(e.events))}
	if len(e.events) > 0 {
		items = append(items, slog.Any("last_element", e.events[len(e.events)-1]))
	}
	items = append(items, log.AnyPointerSlice("subscriptions", slices.Collect(maps.Keys(e.subscriptions))))
	return slog.GroupValue(items...)
}

///////////////////////////////////////////////////////////////////////////

type EventType int

const (
	IncidentSummaryEvent EventType = iota
	IncidentInquiryEvent
	IncidentBoardEvent
	RoutedMessageEvent
	ResetEvent
	TimeUpdateEvent
	NumEventTypes
)

func (t EventType) String() string {
	return []string{"IncidentSummary", "IncidentInquiry", "IncidentBoard", "RoutedMessage",
		"Reset", "TimeUpdate"}[t]
}

// Event is a domain event published to the terminal sessions. The
// payload fields used depend on the Type; the data is a private copy and
// may be retained by the receiver.
type Event struct {
	Type EventType

	Summary   SummaryRow    // IncidentSummaryEvent
	Inquiry   InquiryData   // IncidentInquiryEvent
	Bulletins []Bulletin    // IncidentBoardEvent
	Message   RoutedMessage // RoutedMessageEvent
	Clock     CADClock      // all; TimeUpdateEvent uses Clock.HHMM()
}

func (e Event) String() string {
	switch e.Type {
	case IncidentSummaryEvent:
		return fmt.Sprintf("%s: log %d", e.Type, e.Summary.LogNumber)
	case IncidentInquiryEvent:
		return fmt.Sprintf("%s: log %d", e.Type, e.Inquiry.LogNumber())
	case RoutedMessageEvent:
		return fmt.Sprintf("%s: %d->%d %q", e.Type, e.Message.From, e.Message.To, e.Message.Message)
	case TimeUpdateEvent:
		return fmt.Sprintf("%s: %s", e.Type, e.Clock.HHMM())
	default:
		return e.Type.String()
	}
}

func (e Event) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", e.Type.String()), slog.Int64("sim_time", e.Clock.Seconds)}
	switch e.Type {
	case IncidentSummaryEvent:
		attrs = append(attrs, slog.Int("log_number", e.Summary.LogNumber))
	case IncidentInquiryEvent:
		attrs = append(attrs, slog.Any("inquiry", e.Inquiry))
	case IncidentBoardEvent:
		attrs = append(attrs, slog.Int("bulletins", len(e.Bulletins)))
	case RoutedMessageEvent:
		attrs = append(attrs, slog.Any("message", e.Message))
	}
	return slog.GroupValue(attrs...)
}
