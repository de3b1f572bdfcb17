// sim/cad.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunoga/deep"
)

// ScriptPositionInfo is the position/user tag stamped on log entries that
// come from the incident script rather than from a terminal.
const ScriptPositionInfo = "000A17661"

///////////////////////////////////////////////////////////////////////////
// CADClock

// CADClock is a point in simulation time together with the wall-clock
// instant the simulation started at; it provides the time and date
// strings that the CAD terminals display. It is passed by value wherever
// a formatted time is needed.
type CADClock struct {
	Base    time.Time
	Seconds int64
}

func (c CADClock) Time() time.Time {
	return c.Base.Add(time.Duration(c.Seconds) * time.Second)
}

// HHMM is the 4-digit time shown in terminal footers and log stamps.
func (c CADClock) HHMM() string {
	return c.Time().Format("1504")
}

// Date returns MMDDYYYY.
func (c CADClock) Date() string {
	return c.Time().Format("01022006")
}

// HHMMSS returns HH:MM:SS, used for routed messages.
func (c CADClock) HHMMSS() string {
	return c.Time().Format("15:04:05")
}

///////////////////////////////////////////////////////////////////////////
// Incident inquiry data

type InquiryHeader struct {
	LogNumber     int    `xml:"LOG_NUMBER"`
	LogStatus     string `xml:"LOG_STATUS"`
	Priority      string `xml:"PRIORITY"`
	Type          string `xml:"TYPE"`
	CallBox       string `xml:"CALLBOX_NUM"`
	Beat          string `xml:"BEAT"`
	FullLocation  string `xml:"FULL_LOC"`
	TruncLocation string `xml:"TRUNC_LOC"`
	Origin        string `xml:"ORIGIN"`
	IncidentDate  string `xml:"INCIDENT_DATE"`
	IncidentTime  string `xml:"INCIDENT_TIME"`
	Dispatcher    string `xml:"DISPATCHER"`
}

// Update merges the fields of n into h. A zero log number or a blank
// string means "no update" for that field, so a field can never be
// cleared this way. The call box, origin, and dispatcher are only ever
// set when the header is first created.
func (h *InquiryHeader) Update(n InquiryHeader) {
	set := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}

	if n.LogNumber != 0 {
		h.LogNumber = n.LogNumber
	}
	set(&h.LogStatus, n.LogStatus)
	set(&h.Priority, n.Priority)
	set(&h.Type, n.Type)
	set(&h.Beat, n.Beat)
	set(&h.FullLocation, n.FullLocation)
	set(&h.TruncLocation, n.TruncLocation)
	set(&h.IncidentDate, n.IncidentDate)
	set(&h.IncidentTime, n.IncidentTime)
}

// LogEntry is embedded in every inquiry list item and records which
// position created it and when.
type LogEntry struct {
	PositionInfo string `xml:"POS_INFO"`
	TimeStamp    string `xml:"TIME_STAMP"`
}

func (e LogEntry) LogInfo() string {
	return e.PositionInfo + e.TimeStamp
}

type Detail struct {
	Text      string `xml:"TEXT"`
	Sensitive bool   `xml:"SENSITIVE,attr"`
	LogEntry
}

// Wrap splits the detail text into lines of at most width characters,
// breaking at the last space in each line where possible.
func (d Detail) Wrap(width int) []string {
	var lines []string
	text := d.Text
	for len(text) > width {
		// A space just past the width still allows a full-width line.
		if sp := strings.LastIndex(text[:width+1], " "); sp > 0 {
			lines = append(lines, strings.TrimSpace(text[:sp]))
			text = strings.TrimLeft(text[sp:], " ")
		} else {
			lines = append(lines, strings.TrimSpace(text[:width]))
			text = text[width:]
		}
	}
	return append(lines, strings.TrimSpace(text))
}

type Unit struct {
	Primary bool   `xml:"IS_PRIMARY"`
	Beat    string `xml:"BEAT"`
	Status  string `xml:"STATUS_TYPE"`
	Active  bool   `xml:"IS_ACTIVE"`
	LogEntry
}

type Witness struct {
	Name    string `xml:"NAME"`
	Address string `xml:"ADDRESS"`
	Phone   string `xml:"PHONE"`
	LogEntry
}

type Tow struct {
	Company     string `xml:"COMPANY"`
	ConfPhone   string `xml:"CONF_NUM"`
	PublicPhone string `xml:"PUB_NUM"`
	Beat        string `xml:"BEAT"`
	LogEntry
}

type Service struct {
	Name        string `xml:"NAME"`
	ConfPhone   string `xml:"CONF_NUM"`
	PublicPhone string `xml:"PUB_NUM"`
	LogEntry
}

// InquiryData is the dispatch log for a single incident: the header and
// the accumulated detail, unit, witness, tow, and service entries. Each
// IncidentEvent carries one as its payload, which is merged into the
// roster's copy when the event is finalized.
type InquiryData struct {
	Source    string        `xml:"-"`
	Header    InquiryHeader `xml:"HEADER"`
	Details   []Detail      `xml:"DETAIL"`
	Units     []Unit        `xml:"UNIT"`
	Witnesses []Witness     `xml:"WITNESS"`
	Tows      []Tow         `xml:"TOW"`
	Services  []Service     `xml:"SERVICE"`
}

func (d *InquiryData) LogNumber() int {
	return d.Header.LogNumber
}

// Update merges n into d. Units are keyed by beat: a unit with the same
// beat as an existing one replaces it and moves to the end of the list.
// Everything else is appended.
func (d *InquiryData) Update(n InquiryData) {
	d.Header.Update(n.Header)
	d.Details = append(d.Details, n.Details...)
	for _, u := range n.Units {
		d.AddUnit(u)
	}
	d.Witnesses = append(d.Witnesses, n.Witnesses...)
	d.Tows = append(d.Tows, n.Tows...)
	d.Services = append(d.Services, n.Services...)
}

func (d *InquiryData) AddUnit(u Unit) {
	for i := range d.Units {
		if d.Units[i].Beat == u.Beat {
			d.Units = append(d.Units[:i], d.Units[i+1:]...)
			break
		}
	}
	d.Units = append(d.Units, u)
}

// TimeStamp sets the time stamp of every log entry.
func (d *InquiryData) TimeStamp(stamp string) {
	for i := range d.Details {
		d.Details[i].TimeStamp = stamp
	}
	for i := range d.Units {
		d.Units[i].TimeStamp = stamp
	}
	for i := range d.Witnesses {
		d.Witnesses[i].TimeStamp = stamp
	}
	for i := range d.Tows {
		d.Tows[i].TimeStamp = stamp
	}
	for i := range d.Services {
		d.Services[i].TimeStamp = stamp
	}
}

// Clone returns a deep copy that shares no slices with d.
func (d InquiryData) Clone() InquiryData {
	return deep.MustCopy(d)
}

func (d InquiryData) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("log_number", d.Header.LogNumber),
		slog.String("source", d.Source),
		slog.Int("details", len(d.Details)),
		slog.Int("units", len(d.Units)),
		slog.Int("witnesses", len(d.Witnesses)),
		slog.Int("tows", len(d.Tows)),
		slog.Int("services", len(d.Services)))
}

///////////////////////////////////////////////////////////////////////////
// Summary and board

type SummaryRow struct {
	LogNumber    int    `xml:"LOG_NUMBER,attr"`
	LogStatus    string `xml:"LOG_STATUS"`
	Date         string `xml:"DATE"`
	Time         string `xml:"TIME"`
	Priority     string `xml:"PRIORITY"`
	Type         string `xml:"TYPE"`
	BeatArea     string `xml:"BEAT_AREA"`
	Location     string `xml:"LOCATION"`
	BeatAssigned string `xml:"BEAT_ASSIGNED"`
}

func MakeSummaryRow(h InquiryHeader) SummaryRow {
	return SummaryRow{
		LogNumber:    h.LogNumber,
		LogStatus:    h.LogStatus,
		Date:         h.IncidentDate,
		Time:         h.IncidentTime,
		Priority:     h.Priority,
		Type:         h.Type,
		BeatArea:     h.Beat,
		Location:     h.FullLocation,
		BeatAssigned: h.Beat,
	}
}

type Bulletin struct {
	Number  int    `xml:"NUM"`
	Date    string `xml:"DATE"`
	Time    string `xml:"TIME"`
	Message string `xml:"MESSAGE"`
}

///////////////////////////////////////////////////////////////////////////
// RoutedMessage

// RoutedMessage is a free-text message sent from one terminal position
// to another.
type RoutedMessage struct {
	From           int    `xml:"ORIGIN"`
	To             int    `xml:"DESTINATION"`
	Date           string `xml:"DATE"`
	Time           string `xml:"TIME"`
	Message        string `xml:"MESSAGE"`
	IncidentUpdate bool   `xml:"INCIDENT_UPDATE"`
}

func MakeRoutedMessage(from, to int, message string, clock CADClock) RoutedMessage {
	return RoutedMessage{
		From:    from,
		To:      to,
		Date:    clock.Date(),
		Time:    clock.HHMMSS(),
		Message: message,
	}
}

// Key identifies a message for equality purposes. The time is not part
// of it, so two identical messages sent between the same positions on
// the same day are considered the same message.
func (m RoutedMessage) Key() string {
	return fmt.Sprintf("%d|%d|%s|%s", m.To, m.From, m.Date, m.Message)
}

func (m RoutedMessage) Equal(o RoutedMessage) bool {
	return m.Key() == o.Key()
}

// Compare orders messages by time.
func (m RoutedMessage) Compare(o RoutedMessage) int {
	return strings.Compare(m.Time, o.Time)
}

func (m RoutedMessage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("from", m.From),
		slog.Int("to", m.To),
		slog.String("date", m.Date),
		slog.String("time", m.Time),
		slog.String("message", m.Message))
}
