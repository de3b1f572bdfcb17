// server/protocol_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/mmp/cadsim/screen"
	"github.com/mmp/cadsim/sim"

	"github.com/antchfx/xmlquery"
)

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand([]byte(`<TERMINAL_REGISTER><POSITION>3</POSITION><USER_ID>A12345</USER_ID></TERMINAL_REGISTER>`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != registerCommand || cmd.Position != 3 || cmd.UserID != "A12345" {
		t.Errorf("unexpected register command %+v", cmd)
	}

	cmd, err = parseCommand([]byte(`<SAVE_COMMAND_LINE>UI 101 D/ VEH ON FIRE</SAVE_COMMAND_LINE>`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != saveCommandLineCommand || cmd.Text != "UI 101 D/ VEH ON FIRE" {
		t.Errorf("unexpected save command %+v", cmd)
	}

	cmd, err = parseCommand([]byte(`<TERMINAL_FUNCTION>STD:119</TERMINAL_FUNCTION>`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != functionCommand || cmd.Key != screen.NextQueueKey {
		t.Errorf("unexpected function command %+v", cmd)
	}

	cmd, err = parseCommand([]byte(`<TERMINAL_CMD_LINE><INCIDENT_UPDATE LOG_NUM="101">` +
		`<DETAILS SENSITIVE="true">RP IS DRIVER</DETAILS><DETAILS SENSITIVE="false">2 LANES BLKD</DETAILS>` +
		`</INCIDENT_UPDATE></TERMINAL_CMD_LINE>`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != incidentUpdateCommand || cmd.LogNumber != 101 || len(cmd.Details) != 2 {
		t.Fatalf("unexpected update command %+v", cmd)
	}
	if !cmd.Details[0].Sensitive || cmd.Details[0].Text != "RP IS DRIVER" || cmd.Details[1].Sensitive {
		t.Errorf("unexpected details %+v", cmd.Details)
	}

	cmd, err = parseCommand([]byte(`<TERMINAL_CMD_LINE><INCIDENT_UPDATE><DETAILS SENSITIVE="false">X</DETAILS></INCIDENT_UPDATE></TERMINAL_CMD_LINE>`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.LogNumber != 0 {
		t.Errorf("expected no log number, got %d", cmd.LogNumber)
	}

	cmd, err = parseCommand([]byte(`<TERMINAL_CMD_LINE><INCIDENT_INQUIRY>102</INCIDENT_INQUIRY></TERMINAL_CMD_LINE>`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != incidentInquiryCommand || cmd.LogNumber != 102 {
		t.Errorf("unexpected inquiry command %+v", cmd)
	}

	cmd, err = parseCommand([]byte(`<TERMINAL_CMD_LINE><ROUTED_MESSAGE><DESTINATION>2, 3</DESTINATION>` +
		`<MESSAGE>CALL CHP</MESSAGE></ROUTED_MESSAGE></TERMINAL_CMD_LINE>`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != routedMessageCommand || cmd.Destinations != "2, 3" || cmd.Message != "CALL CHP" {
		t.Errorf("unexpected routed message command %+v", cmd)
	}

	for tag, ct := range map[string]commandType{
		"INCIDENT_BOARD":   incidentBoardCommand,
		"INCIDENT_SUMMARY": incidentSummaryCommand,
		"TERMINAL_OFF":     terminalOffCommand,
		"APP_CLOSE":        appCloseCommand,
	} {
		cmd, err := parseCommand([]byte("<TERMINAL_CMD_LINE><" + tag + "/></TERMINAL_CMD_LINE>"))
		if err != nil {
			t.Errorf("%s: %v", tag, err)
		} else if cmd.Type != ct {
			t.Errorf("%s: got %s", tag, cmd.Type)
		}
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, doc := range []string{
		"",
		"<TERMINAL_REGISTER",
		"<TERMINAL_REGISTER><POSITION>x</POSITION><USER_ID>A</USER_ID></TERMINAL_REGISTER>",
		"<TERMINAL_REGISTER><POSITION>1</POSITION></TERMINAL_REGISTER>",
		"<TERMINAL_FUNCTION>STD</TERMINAL_FUNCTION>",
		"<TERMINAL_CMD_LINE/>",
		`<TERMINAL_CMD_LINE><INCIDENT_UPDATE LOG_NUM="abc"/></TERMINAL_CMD_LINE>`,
	} {
		if _, err := parseCommand([]byte(doc)); !errors.Is(err, ErrMalformedDocument) {
			t.Errorf("%q: expected ErrMalformedDocument, got %v", doc, err)
		}
	}

	for _, doc := range []string{
		"<HELLO/>",
		"<TERMINAL_CMD_LINE><LAUNCH_MISSILES/></TERMINAL_CMD_LINE>",
	} {
		if _, err := parseCommand([]byte(doc)); !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("%q: expected ErrUnknownCommand, got %v", doc, err)
		}
	}
}

func parseDoc(t *testing.T, b []byte) *xmlquery.Node {
	t.Helper()
	doc, err := xmlquery.Parse(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("%s: %v", string(b), err)
	}
	root := documentRoot(doc)
	if root == nil {
		t.Fatalf("%s: no root", string(b))
	}
	return root
}

func TestEncodeNotice(t *testing.T) {
	clock := sim.CADClock{Base: testBase, Seconds: 61}

	for _, test := range []struct {
		notice screen.Notice
		tags   []string
		texts  []string
	}{
		{screen.Notice{Type: screen.ScreenUpdateNotice, Text: "1=true,2=false,3=false,4=false"},
			[]string{"UPDATE_STATUS"}, []string{"1=true,2=false,3=false,4=false"}},
		{screen.Notice{Type: screen.TimeUpdateNotice, Text: "0801"},
			[]string{"UPDATE_TIME"}, []string{"0801"}},
		{screen.Notice{Type: screen.RoutedMessageNotice, MessageCount: 3, Unread: true},
			[]string{"UPDATE_MSG_COUNT", "UPDATE_MSG_UNREAD"}, []string{"3", "true"}},
		{screen.Notice{Type: screen.CADInfoNotice, Text: "0753: Invalid Log Number"},
			[]string{"CAD_INFO"}, []string{"0753: Invalid Log Number"}},
		{screen.Notice{Type: screen.AppCloseNotice},
			[]string{"APP_CLOSE"}, []string{""}},
	} {
		docs, err := encodeNotice(test.notice, nil, clock)
		if err != nil {
			t.Fatalf("%s: %v", test.notice.Type, err)
		}
		if len(docs) != len(test.tags) {
			t.Fatalf("%s: expected %d documents, got %d", test.notice.Type, len(test.tags), len(docs))
		}
		for i, d := range docs {
			root := parseDoc(t, d)
			if root.Data != test.tags[i] {
				t.Errorf("%s: expected <%s>, got <%s>", test.notice.Type, test.tags[i], root.Data)
			}
			if txt := strings.TrimSpace(root.InnerText()); txt != test.texts[i] {
				t.Errorf("%s: expected %q, got %q", test.notice.Type, test.texts[i], txt)
			}
		}
	}
}

func TestEncodeRefresh(t *testing.T) {
	clock := sim.CADClock{Base: testBase, Seconds: 61}
	inq := &screen.IncidentInquiry{LogNumber: 101, Data: sim.InquiryData{
		Header: sim.InquiryHeader{LogNumber: 101, FullLocation: "NB 405 AT JEFFREY"},
	}}

	docs, err := encodeNotice(screen.Notice{Type: screen.RefreshNotice}, inq, clock)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %d", len(docs))
	}
	root := parseDoc(t, docs[0])
	if root.Data != "UPDATE_SCREEN" {
		t.Fatalf("expected UPDATE_SCREEN, got %s", root.Data)
	}
	if n := xmlquery.FindOne(root, "INCIDENT_INQUIRY/HEADER/FULL_LOC"); n == nil || n.InnerText() != "NB 405 AT JEFFREY" {
		t.Errorf("inquiry not embedded: %s", string(docs[0]))
	}
	if n := xmlquery.FindOne(root, "INCIDENT_INQUIRY/BASE_MODEL_INFO//CAD_TIME"); n == nil || n.InnerText() != "0801" {
		t.Errorf("footer time missing: %s", string(docs[0]))
	}
}
