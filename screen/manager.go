// screen/manager.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package screen

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/sim"
	"github.com/mmp/cadsim/util"
)

// DataSource provides the shared dispatch log that terminals display and
// accepts the changes that terminals make to it.
type DataSource interface {
	Bulletins() []sim.Bulletin
	Inquiry(logNumber int) (sim.InquiryData, bool)
	Summaries() []sim.SummaryRow
	IncidentExists(logNumber int) bool
	NextLogNumber() int
	CommandLineUpdate(data sim.InquiryData)
	RouteMessage(msg sim.RoutedMessage)
	CADTime() sim.CADClock
}

type NoticeType int

const (
	ScreenUpdateNotice NoticeType = iota
	TimeUpdateNotice
	RoutedMessageNotice
	CADInfoNotice
	RefreshNotice
	AppCloseNotice
)

func (t NoticeType) String() string {
	return [...]string{"ScreenUpdate", "TimeUpdate", "RoutedMessage", "CADInfo", "Refresh", "AppClose"}[t]
}

// Notice is something the terminal must be told about after the manager
// has handled an event, key, or request.
type Notice struct {
	Type NoticeType
	// ScreenUpdateNotice: the update map; TimeUpdateNotice: HHMM;
	// CADInfoNotice: the message.
	Text         string
	MessageCount int  // RoutedMessageNotice
	Unread       bool // RoutedMessageNotice
}

func (n Notice) LogValue() slog.Value {
	return slog.GroupValue(slog.String("type", n.Type.String()), slog.String("text", n.Text),
		slog.Int("message_count", n.MessageCount), slog.Bool("unread", n.Unread))
}

func refresh() []Notice { return []Notice{{Type: RefreshNotice}} }

func cadInfo(err CADError) []Notice {
	return []Notice{{Type: CADInfoNotice, Text: err.Error()}}
}

// Manager holds the screen state for a single terminal. It isn't safe for
// concurrent use; each terminal connection owns one and calls it from a
// single goroutine.
type Manager struct {
	position int
	userID   string
	screen   int // 1-based
	slots    [NumScreens]Model
	updates  [NumScreens]bool
	inbox    *Inbox

	ds DataSource
	lg *log.Logger
}

func NewManager(ds DataSource, lg *log.Logger) *Manager {
	m := &Manager{
		userID: "A00000",
		screen: 1,
		inbox:  NewInbox(),
		ds:     ds,
		lg:     lg,
	}
	m.blankAll()
	return m
}

func (m *Manager) blankAll() {
	for i := range m.slots {
		m.slots[i] = NewBlank(i + 1)
	}
}

func (m *Manager) Register(position int, userID string) {
	m.position = position
	m.userID = userID
	m.lg.Info("terminal registered", slog.Int("position", position), slog.String("user", userID))
}

func (m *Manager) Position() int { return m.position }

func (m *Manager) current() Model { return m.slots[m.screen-1] }

func (m *Manager) setCurrent(model Model) {
	BaseOf(model).Screen = m.screen
	m.slots[m.screen-1] = model
}

// CurrentModel updates the current screen's footer from the inbox and the
// update flags and returns it. The model is only valid until the next
// call to a Manager method.
func (m *Manager) CurrentModel() Model {
	b := BaseOf(m.current())
	b.Screen = m.screen
	b.RoutedMessages = m.inbox.Len()
	b.Unread = m.inbox.Unread()
	b.Updates = m.updates
	return m.current()
}

// UpdateMap returns the update flags in the form sent to terminals,
// e.g. "1=false,2=true,3=false,4=false".
func (m *Manager) UpdateMap() string {
	var s []string
	for i, u := range m.updates {
		s = append(s, fmt.Sprintf("%d=%t", i+1, u))
	}
	return strings.Join(s, ",")
}

func (m *Manager) logInfo() string {
	return fmt.Sprintf("%03d", m.position) + m.userID
}

func (m *Manager) routedNotice() Notice {
	return Notice{Type: RoutedMessageNotice, MessageCount: m.inbox.Len(), Unread: m.inbox.Unread()}
}

///////////////////////////////////////////////////////////////////////////
// Events

// HandleEvent applies a published event to the terminal's screens,
// returning the notices the terminal should be sent.
func (m *Manager) HandleEvent(ev sim.Event) []Notice {
	switch ev.Type {
	case sim.IncidentSummaryEvent:
		return m.mergeInto(func(model Model) bool {
			if s, ok := model.(*IncidentSummary); ok {
				s.Merge(ev.Summary)
				return true
			}
			return false
		})

	case sim.IncidentInquiryEvent:
		return m.mergeInto(func(model Model) bool {
			if inq, ok := model.(*IncidentInquiry); ok && inq.LogNumber == ev.Inquiry.LogNumber() {
				inq.Data = ev.Inquiry.Clone()
				return true
			}
			return false
		})

	case sim.IncidentBoardEvent:
		return m.mergeInto(func(model Model) bool {
			if b, ok := model.(*IncidentBoard); ok {
				b.Bulletins = slices.Clone(ev.Bulletins)
				return true
			}
			return false
		})

	case sim.RoutedMessageEvent:
		if ev.Message.To != m.position {
			return nil
		}
		m.inbox.Add(ev.Message)
		for _, model := range m.slots {
			if r, ok := model.(*RoutedMessages); ok {
				r.Add(ev.Message)
			}
		}
		return []Notice{m.routedNotice()}

	case sim.ResetEvent:
		m.blankAll()
		m.updates = [NumScreens]bool{}
		m.screen = 1
		return refresh()

	case sim.TimeUpdateEvent:
		return []Notice{{Type: TimeUpdateNotice, Text: ev.Clock.HHMM()}}

	default:
		m.lg.Warn("unexpected event", slog.Any("event", ev))
		return nil
	}
}

// mergeInto calls merge for each slot; slots for which it returns true
// are flagged as updated.
func (m *Manager) mergeInto(merge func(Model) bool) []Notice {
	updated := false
	for i, model := range m.slots {
		if merge(model) {
			m.updates[i] = true
			updated = true
		}
	}
	if !updated {
		return nil
	}
	return []Notice{{Type: ScreenUpdateNotice, Text: m.UpdateMap()}}
}

///////////////////////////////////////////////////////////////////////////
// Keys

func (m *Manager) HandleKey(key Key) []Notice {
	switch key {
	case CycleKey:
		m.screen = util.CycleNext(m.screen, 1, NumScreens)
		m.updates[m.screen-1] = false
		return refresh()

	case RefreshKey:
		m.updates[m.screen-1] = false
		return refresh()

	case NextQueueKey, PrevQueueKey:
		if m.inbox.Len() == 0 {
			return nil
		}
		if r, ok := m.current().(*RoutedMessages); ok {
			if key == NextQueueKey {
				r.Next()
			} else {
				r.Prev()
			}
		} else {
			m.setCurrent(NewRoutedMessages(m.screen, m.inbox.Messages()))
		}

		if msg, ok := m.current().(*RoutedMessages).Current(); ok {
			m.inbox.MarkRead(msg)
		}
		return []Notice{{Type: RefreshNotice}, m.routedNotice()}

	case DeleteQueueKey:
		r, ok := m.current().(*RoutedMessages)
		if !ok || m.inbox.Len() == 0 {
			return nil
		}
		msg, ok := r.Current()
		if !ok {
			return nil
		}
		m.inbox.Remove(msg)
		for _, model := range m.slots {
			if r, ok := model.(*RoutedMessages); ok {
				r.Delete(msg)
			}
		}
		return []Notice{m.routedNotice(), {Type: RefreshNotice}}

	case ScreenClearKey:
		m.setCurrent(NewBlank(m.screen))
		return refresh()

	case CommandLineClearKey, CommandLineTxKey:
		// Handled by the terminal itself.
		return nil

	default:
		m.lg.Debug("ignoring key", slog.String("key", key.String()))
		return nil
	}
}

///////////////////////////////////////////////////////////////////////////
// Requests

func (m *Manager) IncidentBoardRequest() []Notice {
	m.setCurrent(&IncidentBoard{Bulletins: m.ds.Bulletins()})
	m.updates[m.screen-1] = false
	return refresh()
}

func (m *Manager) IncidentSummaryRequest() []Notice {
	m.setCurrent(&IncidentSummary{Rows: m.ds.Summaries()})
	m.updates[m.screen-1] = false
	return refresh()
}

func (m *Manager) IncidentInquiryRequest(logNumber int) []Notice {
	if !m.ds.IncidentExists(logNumber) {
		return cadInfo(ErrInvalidLogNumber)
	}
	data, _ := m.ds.Inquiry(logNumber)

	m.setCurrent(&IncidentInquiry{LogNumber: logNumber, Data: data})
	m.updates[m.screen-1] = false
	return refresh()
}

func (m *Manager) details(details []sim.Detail) []sim.Detail {
	return util.MapSlice(details, func(d sim.Detail) sim.Detail {
		return sim.Detail{
			Text:      d.Text,
			Sensitive: d.Sensitive,
			LogEntry:  sim.LogEntry{PositionInfo: m.logInfo()},
		}
	})
}

// IncidentUpdateRequest adds the given details to an incident's log. A
// logNumber of 0 means that none was given, in which case the incident on
// the current screen is updated. The screen isn't changed here; it is
// updated when the coordinator publishes the change.
func (m *Manager) IncidentUpdateRequest(logNumber int, details []sim.Detail) []Notice {
	if logNumber != 0 {
		if !m.ds.IncidentExists(logNumber) {
			return cadInfo(ErrInvalidLogNumber)
		}
	} else if inq, ok := m.current().(*IncidentInquiry); ok {
		logNumber = inq.LogNumber
	} else {
		return cadInfo(ErrNoLogNumber)
	}

	if len(details) == 0 {
		return cadInfo(ErrUnauthorizedCommand)
	}

	var data sim.InquiryData
	data.Source = m.logInfo()
	data.Header.LogNumber = logNumber
	data.Details = m.details(details)
	m.ds.CommandLineUpdate(data)

	return nil
}

// EnterIncidentRequest opens a new incident log on the current screen
// using the next unused log number. It isn't added to the dispatch log
// until it is updated.
func (m *Manager) EnterIncidentRequest(details []sim.Detail) []Notice {
	if len(details) == 0 {
		return cadInfo(ErrUnauthorizedCommand)
	}

	logNumber := m.ds.NextLogNumber()
	inq := &IncidentInquiry{LogNumber: logNumber}
	inq.Data.Source = m.logInfo()
	inq.Data.Header.LogNumber = logNumber
	inq.Data.Details = m.details(details)

	m.setCurrent(inq)
	m.updates[m.screen-1] = false
	return refresh()
}

// RoutedMessageRequest sends the message to each of the comma-separated
// positions in destinations. An empty destination list or message is
// treated as missing.
func (m *Manager) RoutedMessageRequest(destinations, message string) []Notice {
	if strings.TrimSpace(destinations) == "" || message == "" {
		return cadInfo(ErrUnauthorizedCommand)
	}

	var dests []int
	for _, d := range strings.Split(destinations, ",") {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		pos, err := strconv.Atoi(d)
		if err != nil {
			return cadInfo(ErrUnauthorizedCommand)
		}
		dests = append(dests, pos)
	}

	clock := m.ds.CADTime()
	sent := false
	for _, pos := range dests {
		if pos != m.position {
			m.ds.RouteMessage(sim.MakeRoutedMessage(m.position, pos, message, clock))
			sent = true
		}
	}

	notices := []Notice{
		{Type: RefreshNotice},
		{Type: CADInfoNotice, Text: "0146: Routed message to " + destinations + "."},
	}

	if inq, ok := m.current().(*IncidentInquiry); ok && sent {
		var data sim.InquiryData
		data.Source = m.logInfo()
		data.Header.LogNumber = inq.LogNumber
		data.Details = []sim.Detail{{
			Text:      message,
			Sensitive: true,
			LogEntry:  sim.LogEntry{PositionInfo: m.logInfo()},
		}}
		m.ds.CommandLineUpdate(data)
	}

	return notices
}

// TerminalOff returns the terminal to its initial state: all screens
// blank and the inbox empty.
func (m *Manager) TerminalOff() []Notice {
	m.blankAll()
	m.screen = 1
	m.updates = [NumScreens]bool{}
	m.inbox.Clear()
	return refresh()
}

func (m *Manager) AppClose() []Notice {
	return []Notice{{Type: AppCloseNotice}}
}

func (m *Manager) SaveCommandLine(text string) {
	BaseOf(m.current()).CommandLine = text
}

func (m *Manager) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("position", m.position),
		slog.String("user", m.userID),
		slog.Int("screen", m.screen),
		slog.String("current", m.current().Kind().String()),
		slog.String("updates", m.UpdateMap()),
		slog.Int("messages", m.inbox.Len()))
}
