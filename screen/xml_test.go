// screen/xml_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package screen

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mmp/cadsim/sim"

	"github.com/antchfx/xmlquery"
)

func marshalAndParse(t *testing.T, m Model) *xmlquery.Node {
	t.Helper()
	clock := sim.CADClock{Base: time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), Seconds: 125}
	b, err := MarshalModel(m, clock)
	if err != nil {
		t.Fatalf("MarshalModel: %v", err)
	}
	doc, err := xmlquery.Parse(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("%s: %v", string(b), err)
	}
	return doc
}

func expectText(t *testing.T, doc *xmlquery.Node, expr, want string) {
	t.Helper()
	n := xmlquery.FindOne(doc, expr)
	if n == nil {
		t.Errorf("%s: not found in %s", expr, doc.OutputXML(true))
	} else if got := strings.TrimSpace(n.InnerText()); got != want {
		t.Errorf("%s: got %q, expected %q", expr, got, want)
	}
}

func TestMarshalBase(t *testing.T) {
	b := NewBlank(2)
	b.CommandLine = "IB"
	b.RoutedMessages = 3
	b.Unread = true
	b.Updates[2] = true

	doc := marshalAndParse(t, b)
	expectText(t, doc, "/BLANK_SCREEN/BASE_MODEL_INFO/COMMAND_LINE", "IB")
	expectText(t, doc, "//FOOTER/CAD_TIME", "0802")
	expectText(t, doc, "//FOOTER/CAD_DATE", "01022024")
	expectText(t, doc, "//FOOTER/ROUTED_MESSAGES", "3")
	expectText(t, doc, "//FOOTER/UNREAD_MESSAGES", "true")
	expectText(t, doc, "//FOOTER/SCREEN_NUM", "2")
	expectText(t, doc, "//SCREEN_UPDATES/HAS_UPDATE[@Screen_Number='3']", "true")
	expectText(t, doc, "//SCREEN_UPDATES/HAS_UPDATE[@Screen_Number='1']", "false")

	if n := len(xmlquery.Find(doc, "//HAS_UPDATE")); n != NumScreens {
		t.Errorf("expected %d HAS_UPDATE elements, got %d", NumScreens, n)
	}
}

func TestMarshalVariants(t *testing.T) {
	inq := &IncidentInquiry{LogNumber: 101, Data: sim.InquiryData{
		Header:  sim.InquiryHeader{LogNumber: 101, Type: "1183", FullLocation: "NB I-5 AT JAMBOREE"},
		Details: []sim.Detail{{Text: "2 veh", Sensitive: true}},
		Units:   []sim.Unit{{Beat: "12-S3", Status: "ENRT"}},
	}}
	doc := marshalAndParse(t, inq)
	expectText(t, doc, "/INCIDENT_INQUIRY/HEADER/LOG_NUMBER", "101")
	expectText(t, doc, "/INCIDENT_INQUIRY/HEADER/FULL_LOC", "NB I-5 AT JAMBOREE")
	expectText(t, doc, "/INCIDENT_INQUIRY/DETAIL[@SENSITIVE='true']/TEXT", "2 veh")
	expectText(t, doc, "/INCIDENT_INQUIRY/UNIT/BEAT", "12-S3")

	board := &IncidentBoard{Bulletins: []sim.Bulletin{{Number: 1, Message: "SR-55 closed"}}}
	doc = marshalAndParse(t, board)
	expectText(t, doc, "/INCIDENT_BOARD/MESSAGE/MESSAGE", "SR-55 closed")

	sum := &IncidentSummary{Rows: []sim.SummaryRow{{LogNumber: 7, Type: "1125"}}}
	doc = marshalAndParse(t, sum)
	expectText(t, doc, "/INCIDENT_SUMMARY/INCIDENT[@LOG_NUMBER='7']/TYPE", "1125")

	r := NewRoutedMessages(1, makeMessages(2))
	r.Next()
	doc = marshalAndParse(t, r)
	expectText(t, doc, "/ROUTED_MESSAGE/MESSAGE", "msg 1")
	expectText(t, doc, "/ROUTED_MESSAGE/ORIGIN", "2")
	expectText(t, doc, "/ROUTED_MESSAGE/DESTINATION", "1")

	doc = marshalAndParse(t, NewRoutedMessages(1, nil))
	if xmlquery.FindOne(doc, "/ROUTED_MESSAGE/BASE_MODEL_INFO") == nil {
		t.Errorf("empty routed message screen missing base info")
	}
}

func TestMarshalEveryKind(t *testing.T) {
	for _, m := range []Model{
		NewBlank(1),
		&IncidentBoard{Bulletins: []sim.Bulletin{{Number: 4, Message: "I-405 lanes open"}}},
		&IncidentInquiry{LogNumber: 12, Data: sim.InquiryData{Header: sim.InquiryHeader{LogNumber: 12}}},
		&IncidentSummary{Rows: []sim.SummaryRow{{LogNumber: 12}}},
		NewRoutedMessages(3, makeMessages(1)),
		NewRoutedMessages(3, nil),
	} {
		BaseOf(m).Screen = 3
		doc := marshalAndParse(t, m)
		root := "/" + m.Kind().String()
		if xmlquery.FindOne(doc, root) == nil {
			t.Errorf("%s: missing root element in %s", m.Kind(), doc.OutputXML(true))
			continue
		}
		expectText(t, doc, root+"/BASE_MODEL_INFO/FOOTER/SCREEN_NUM", "3")
		if n := len(xmlquery.Find(doc, root+"/BASE_MODEL_INFO")); n != 1 {
			t.Errorf("%s: expected one BASE_MODEL_INFO, got %d", m.Kind(), n)
		}
	}
}
