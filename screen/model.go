// screen/model.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package screen

import (
	"log/slog"
	"slices"

	"github.com/mmp/cadsim/sim"
)

// NumScreens is the number of screen slots each terminal has.
const NumScreens = 4

// Base holds the fields shared by every screen model: the terminal
// footer and the saved command line.
type Base struct {
	CommandLine    string
	Screen         int // 1-based slot number
	RoutedMessages int
	Unread         bool
	Updates        [NumScreens]bool
}

func (b *Base) base() *Base { return b }

// Model is the contents of one screen slot. It is one of *Blank,
// *IncidentBoard, *IncidentInquiry, *IncidentSummary, or *RoutedMessages.
type Model interface {
	base() *Base
	Kind() Kind
}

type Kind int

const (
	BlankKind Kind = iota
	IncidentBoardKind
	IncidentInquiryKind
	IncidentSummaryKind
	RoutedMessageKind
)

// String returns the CAD command name for the screen type, which is also
// the element name used when the screen is sent to a terminal.
func (k Kind) String() string {
	return [...]string{"BLANK_SCREEN", "INCIDENT_BOARD", "INCIDENT_INQUIRY", "INCIDENT_SUMMARY",
		"ROUTED_MESSAGE"}[k]
}

func BaseOf(m Model) *Base {
	return m.base()
}

type Blank struct {
	Base
}

func NewBlank(screen int) *Blank {
	return &Blank{Base: Base{Screen: screen}}
}

func (*Blank) Kind() Kind { return BlankKind }

type IncidentBoard struct {
	Base
	Bulletins []sim.Bulletin
}

func (*IncidentBoard) Kind() Kind { return IncidentBoardKind }

type IncidentInquiry struct {
	Base
	LogNumber int
	Data      sim.InquiryData
}

func (*IncidentInquiry) Kind() Kind { return IncidentInquiryKind }

type IncidentSummary struct {
	Base
	Rows []sim.SummaryRow
}

func (*IncidentSummary) Kind() Kind { return IncidentSummaryKind }

// Merge adds the row to the summary, replacing an existing row for the
// same log number.
func (s *IncidentSummary) Merge(row sim.SummaryRow) {
	if idx := slices.IndexFunc(s.Rows, func(r sim.SummaryRow) bool { return r.LogNumber == row.LogNumber }); idx != -1 {
		s.Rows[idx] = row
	} else {
		s.Rows = append(s.Rows, row)
	}
}

///////////////////////////////////////////////////////////////////////////
// RoutedMessages

// RoutedMessages shows one routed message at a time from a private copy
// of the inbox taken when the screen was opened. The cursor indexes that
// copy; pendingDelete means that the message at the cursor has been
// deleted but is still on display until the operator moves off it.
type RoutedMessages struct {
	Base
	messages      []sim.RoutedMessage
	cursor        int
	pendingDelete bool
}

func NewRoutedMessages(screen int, messages []sim.RoutedMessage) *RoutedMessages {
	return &RoutedMessages{
		Base:     Base{Screen: screen},
		messages: slices.Clone(messages),
	}
}

func (*RoutedMessages) Kind() Kind { return RoutedMessageKind }

func (r *RoutedMessages) Len() int { return len(r.messages) }

func (r *RoutedMessages) Add(m sim.RoutedMessage) {
	r.messages = append(r.messages, m)
}

func (r *RoutedMessages) Current() (sim.RoutedMessage, bool) {
	if r.cursor < 0 || r.cursor >= len(r.messages) {
		return sim.RoutedMessage{}, false
	}
	return r.messages[r.cursor], true
}

// Delete removes the message from the list. If it is the one on display,
// the removal is deferred until the next call to Next or Prev.
func (r *RoutedMessages) Delete(m sim.RoutedMessage) {
	idx := slices.IndexFunc(r.messages, m.Equal)
	if idx == -1 {
		return
	}
	if idx == r.cursor {
		r.pendingDelete = true
		return
	}

	r.messages = slices.Delete(r.messages, idx, idx+1)
	if idx < r.cursor {
		r.cursor--
	}
}

func (r *RoutedMessages) applyPendingDelete() {
	if !r.pendingDelete {
		return
	}
	r.pendingDelete = false

	r.messages = slices.Delete(r.messages, r.cursor, r.cursor+1)
	r.cursor--
	if r.cursor < 0 || r.cursor >= len(r.messages) {
		r.cursor = 0
	}
}

// Next advances to the following message, wrapping around at the end. It
// returns false if there are no messages.
func (r *RoutedMessages) Next() bool {
	r.applyPendingDelete()
	if len(r.messages) == 0 {
		return false
	}
	r.cursor = (r.cursor + 1) % len(r.messages)
	return true
}

// Prev is the counterpart of Next.
func (r *RoutedMessages) Prev() bool {
	r.applyPendingDelete()
	if len(r.messages) == 0 {
		return false
	}
	r.cursor = (r.cursor + len(r.messages) - 1) % len(r.messages)
	return true
}

func (r *RoutedMessages) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("messages", len(r.messages)),
		slog.Int("cursor", r.cursor),
		slog.Bool("pending_delete", r.pendingDelete))
}
