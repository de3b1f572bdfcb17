// sim/script.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/util"

	"github.com/antchfx/xmlquery"
)

// LoadScript reads an incident script from the given file, which may be
// zstd-compressed. All problems found in the script are reported together
// in the returned error.
func LoadScript(path string, lg *log.Logger) ([]*Incident, error) {
	r, err := util.OpenResource(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var e util.ErrorLogger
	e.Push(path)
	incidents := ParseScript(r, &e)
	e.Pop()

	if e.HaveErrors() {
		e.PrintErrors(lg)
		return nil, fmt.Errorf("%w: %s", ErrInvalidScript, e.String())
	}

	lg.Info("loaded script", slog.String("path", path), log.AnyPointerSlice("incidents", incidents))
	return incidents, nil
}

// ParseScript parses a TMC_SCRIPT document. A script is a sequence of
// SCRIPT_EVENTs, each with a TIME_INDEX (HH:MM:SS into the simulation),
// the INCIDENT it belongs to, and the CAD_DATA to apply at that time. An
// incident starts at the time of its first SCRIPT_EVENT; later events are
// offsets from there.
func ParseScript(r io.Reader, e *util.ErrorLogger) []*Incident {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		e.Error(err)
		return nil
	}

	root := xmlquery.FindOne(doc, "/TMC_SCRIPT")
	if root == nil {
		e.ErrorString("no TMC_SCRIPT element")
		return nil
	}

	incidents := make(map[int]*Incident)
	for i, se := range xmlquery.Find(root, "SCRIPT_EVENT") {
		e.Push(fmt.Sprintf("SCRIPT_EVENT %d", i+1))
		parseScriptEvent(se, incidents, e)
		e.Pop()
	}

	sorted := util.SortedMapKeys(incidents)
	incs := util.MapSlice(sorted, func(n int) *Incident { return incidents[n] })
	slices.SortStableFunc(incs, func(a, b *Incident) int { return cmp.Compare(a.StartTime, b.StartTime) })
	return incs
}

func parseScriptEvent(se *xmlquery.Node, incidents map[int]*Incident, e *util.ErrorLogger) {
	ti := se.SelectElement("TIME_INDEX")
	if ti == nil {
		e.ErrorString("missing TIME_INDEX")
		return
	}
	t, err := parseTimeIndex(ti.InnerText())
	if err != nil {
		e.Error(err)
		return
	}

	in := se.SelectElement("INCIDENT")
	if in == nil {
		e.ErrorString("missing INCIDENT")
		return
	}
	logNumber, err := strconv.Atoi(strings.TrimSpace(in.SelectAttr("LogNum")))
	if err != nil || logNumber <= 0 {
		e.ErrorString("%q: invalid LogNum", in.SelectAttr("LogNum"))
		return
	}

	e.Push(fmt.Sprintf("log %d", logNumber))
	defer e.Pop()

	inc, ok := incidents[logNumber]
	if !ok {
		inc = NewIncident(logNumber, strings.TrimSpace(in.InnerText()), t, InquiryHeader{})
		incidents[logNumber] = inc
	}

	cad := se.SelectElement("CAD_DATA")
	if cad == nil {
		return
	}

	if hi := cad.SelectElement("HEADER_INFO"); hi != nil {
		inc.SetHeader(parseHeaderInfo(hi, logNumber))
	}

	for _, ce := range cad.SelectElements("CAD_INCIDENT_EVENT") {
		if t < inc.StartTime {
			e.ErrorString("event at %d is before the incident's start time %d", t, inc.StartTime)
			continue
		}
		ev := &IncidentEvent{SecondsToOccur: t - inc.StartTime}
		parseIncidentEvent(ce, ev, e)
		inc.AddEvent(ev)
	}
}

func parseHeaderInfo(n *xmlquery.Node, logNumber int) InquiryHeader {
	text := func(tag string) string {
		if c := n.SelectElement(tag); c != nil {
			return strings.TrimSpace(c.InnerText())
		}
		return ""
	}
	return InquiryHeader{
		LogNumber:     logNumber,
		LogStatus:     text("LogStatus"),
		Priority:      text("Priority"),
		Type:          text("Type"),
		CallBox:       text("Callbox"),
		Beat:          text("Beat"),
		FullLocation:  text("FullLoc"),
		TruncLocation: text("TruncLoc"),
	}
}

func parseIncidentEvent(n *xmlquery.Node, ev *IncidentEvent, e *util.ErrorLogger) {
	entry := LogEntry{PositionInfo: ScriptPositionInfo}
	boolAttr := func(c *xmlquery.Node, name string) bool {
		b, _ := strconv.ParseBool(c.SelectAttr(name))
		return b
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}

		switch c.Data {
		case "AUDIO":
			ev.Audio.Path = c.SelectAttr("Path")
			if l := c.SelectAttr("Length"); l != "" {
				var err error
				if ev.Audio.Length, err = strconv.Atoi(l); err != nil || ev.Audio.Length < 0 {
					e.ErrorString("AUDIO %q: invalid Length %q", ev.Audio.Path, l)
					ev.Audio.Length = 0
				}
			}

		case "DETAIL":
			ev.Info.Details = append(ev.Info.Details, Detail{
				Text:      strings.TrimSpace(c.InnerText()),
				Sensitive: boolAttr(c, "Sensitive"),
				LogEntry:  entry,
			})

		case "UNIT":
			ev.Info.AddUnit(Unit{
				Beat:     c.SelectAttr("UnitNum"),
				Status:   c.SelectAttr("Status"),
				Primary:  boolAttr(c, "Primary"),
				Active:   boolAttr(c, "Active"),
				LogEntry: entry,
			})

		case "WITNESS":
			ev.Info.Witnesses = append(ev.Info.Witnesses, Witness{
				Name:     c.SelectAttr("Name"),
				Address:  c.SelectAttr("Address"),
				Phone:    c.SelectAttr("PhoneNum"),
				LogEntry: entry,
			})

		case "TOW":
			ev.Info.Tows = append(ev.Info.Tows, Tow{
				Company:     c.SelectAttr("Company"),
				ConfPhone:   c.SelectAttr("ConfNum"),
				PublicPhone: c.SelectAttr("PubNum"),
				Beat:        c.SelectAttr("Beat"),
				LogEntry:    entry,
			})

		case "SERVICE":
			ev.Info.Services = append(ev.Info.Services, Service{
				Name:        c.SelectAttr("Name"),
				ConfPhone:   c.SelectAttr("ConfNum"),
				PublicPhone: c.SelectAttr("PubNum"),
				LogEntry:    entry,
			})

		case "CCTV_INFO":
			id, err := strconv.Atoi(c.SelectAttr("ID"))
			dir := strings.ToUpper(c.SelectAttr("Dir"))
			if err != nil || len(dir) != 1 || !strings.Contains("NSEW", dir) {
				e.ErrorString("CCTV_INFO: invalid ID %q or Dir %q", c.SelectAttr("ID"), c.SelectAttr("Dir"))
				continue
			}
			ev.CCTV = append(ev.CCTV, CCTVSwitch{CameraID: id, Direction: dir, Toggle: boolAttr(c, "Toggle")})

		case "PARAMICS":
			id, err := strconv.Atoi(c.SelectAttr("LocationID"))
			if err != nil {
				e.ErrorString("PARAMICS: invalid LocationID %q", c.SelectAttr("LocationID"))
				continue
			}
			ev.TrafficUpdates = append(ev.TrafficUpdates, TrafficUpdate{
				LocationID: id,
				Payload:    strings.TrimSpace(c.OutputXML(false)),
			})

		default:
			e.ErrorString("%s: unexpected element in CAD_INCIDENT_EVENT", c.Data)
		}
	}
}

// parseTimeIndex converts HH:MM:SS to seconds.
func parseTimeIndex(s string) (int64, error) {
	f := strings.Split(strings.TrimSpace(s), ":")
	if len(f) != 3 {
		return 0, fmt.Errorf("%q: TIME_INDEX must be HH:MM:SS", s)
	}

	var hms [3]int64
	for i, v := range f {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 || (i > 0 && n > 59) {
			return 0, fmt.Errorf("%q: invalid TIME_INDEX", s)
		}
		hms[i] = n
	}
	return hms[0]*3600 + hms[1]*60 + hms[2], nil
}
