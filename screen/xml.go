// screen/xml.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package screen

import (
	"encoding/xml"
	"fmt"

	"github.com/mmp/cadsim/sim"
)

type baseXML struct {
	CommandLine string    `xml:"COMMAND_LINE"`
	Footer      footerXML `xml:"FOOTER"`
}

type footerXML struct {
	Time           string         `xml:"CAD_TIME"`
	Date           string         `xml:"CAD_DATE"`
	RoutedMessages int            `xml:"ROUTED_MESSAGES"`
	Unread         bool           `xml:"UNREAD_MESSAGES"`
	Screen         int            `xml:"SCREEN_NUM"`
	Updates        []hasUpdateXML `xml:"SCREEN_UPDATES>HAS_UPDATE"`
}

type hasUpdateXML struct {
	Screen  int  `xml:"Screen_Number,attr"`
	Updated bool `xml:",chardata"`
}

func makeBaseXML(b *Base, clock sim.CADClock) baseXML {
	x := baseXML{
		CommandLine: b.CommandLine,
		Footer: footerXML{
			Time:           clock.HHMM(),
			Date:           clock.Date(),
			RoutedMessages: b.RoutedMessages,
			Unread:         b.Unread,
			Screen:         b.Screen,
		},
	}
	for i, u := range b.Updates {
		x.Footer.Updates = append(x.Footer.Updates, hasUpdateXML{Screen: i + 1, Updated: u})
	}
	return x
}

type blankXML struct {
	XMLName xml.Name
	Base    baseXML `xml:"BASE_MODEL_INFO"`
}

type boardXML struct {
	XMLName   xml.Name
	Base      baseXML        `xml:"BASE_MODEL_INFO"`
	Bulletins []sim.Bulletin `xml:"MESSAGE"`
}

type inquiryXML struct {
	XMLName xml.Name
	Base    baseXML `xml:"BASE_MODEL_INFO"`
	sim.InquiryData
}

type summaryXML struct {
	XMLName xml.Name
	Base    baseXML          `xml:"BASE_MODEL_INFO"`
	Rows    []sim.SummaryRow `xml:"INCIDENT"`
}

type routedMessageXML struct {
	XMLName xml.Name
	Base    baseXML `xml:"BASE_MODEL_INFO"`
	sim.RoutedMessage
}

// MarshalModel returns the XML element for the screen, named by its
// Kind, with the footer time and date taken from the given clock.
func MarshalModel(m Model, clock sim.CADClock) ([]byte, error) {
	name := xml.Name{Local: m.Kind().String()}
	base := makeBaseXML(BaseOf(m), clock)

	var v any
	switch m := m.(type) {
	case *Blank:
		v = blankXML{XMLName: name, Base: base}

	case *IncidentBoard:
		v = boardXML{XMLName: name, Base: base, Bulletins: m.Bulletins}

	case *IncidentInquiry:
		v = inquiryXML{XMLName: name, Base: base, InquiryData: m.Data}

	case *IncidentSummary:
		v = summaryXML{XMLName: name, Base: base, Rows: m.Rows}

	case *RoutedMessages:
		if msg, ok := m.Current(); ok {
			v = routedMessageXML{XMLName: name, Base: base, RoutedMessage: msg}
		} else {
			v = blankXML{XMLName: name, Base: base}
		}

	default:
		return nil, fmt.Errorf("%T: unhandled screen model", m)
	}

	return xml.Marshal(v)
}
