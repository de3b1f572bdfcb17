// server/protocol.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mmp/cadsim/screen"
	"github.com/mmp/cadsim/sim"

	"github.com/antchfx/xmlquery"
)

// commandType identifies an inbound terminal document.
type commandType int

const (
	registerCommand commandType = iota
	saveCommandLineCommand
	functionCommand
	incidentBoardCommand
	incidentUpdateCommand
	incidentInquiryCommand
	incidentSummaryCommand
	routedMessageCommand
	enterIncidentCommand
	terminalOffCommand
	appCloseCommand
)

func (t commandType) String() string {
	return [...]string{"TERMINAL_REGISTER", "SAVE_COMMAND_LINE", "TERMINAL_FUNCTION", "INCIDENT_BOARD",
		"INCIDENT_UPDATE", "INCIDENT_INQUIRY", "INCIDENT_SUMMARY", "ROUTED_MESSAGE", "ENTER_INCIDENT",
		"TERMINAL_OFF", "APP_CLOSE"}[t]
}

var cmdLineCommands = map[string]commandType{
	"INCIDENT_BOARD":   incidentBoardCommand,
	"INCIDENT_UPDATE":  incidentUpdateCommand,
	"INCIDENT_INQUIRY": incidentInquiryCommand,
	"INCIDENT_SUMMARY": incidentSummaryCommand,
	"ROUTED_MESSAGE":   routedMessageCommand,
	"ENTER_INCIDENT":   enterIncidentCommand,
	"TERMINAL_OFF":     terminalOffCommand,
	"APP_CLOSE":        appCloseCommand,
}

// command is a decoded inbound document; which fields are set depends on
// Type.
type command struct {
	Type commandType

	Position int    // registerCommand
	UserID   string // registerCommand
	Text     string // saveCommandLineCommand

	Key screen.Key // functionCommand

	LogNumber int          // incidentUpdateCommand (0: none given), incidentInquiryCommand
	Details   []sim.Detail // incidentUpdateCommand, enterIncidentCommand

	Destinations string // routedMessageCommand
	Message      string // routedMessageCommand
}

func (c command) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", c.Type.String()),
		slog.Int("log_number", c.LogNumber),
		slog.Int("details", len(c.Details)),
		slog.String("key", c.Key.String()))
}

func elementChildren(n *xmlquery.Node) []*xmlquery.Node {
	var c []*xmlquery.Node
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type == xmlquery.ElementNode {
			c = append(c, ch)
		}
	}
	return c
}

func documentRoot(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

// parseCommand decodes an inbound terminal document. Errors wrap
// ErrMalformedDocument or ErrUnknownCommand.
func parseCommand(b []byte) (command, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(b))
	if err != nil {
		return command{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	root := documentRoot(doc)
	if root == nil {
		return command{}, fmt.Errorf("%w: no root element", ErrMalformedDocument)
	}

	switch root.Data {
	case "TERMINAL_REGISTER":
		ch := elementChildren(root)
		if len(ch) < 2 {
			return command{}, fmt.Errorf("%w: TERMINAL_REGISTER needs position and user", ErrMalformedDocument)
		}
		pos, err := strconv.Atoi(strings.TrimSpace(ch[0].InnerText()))
		if err != nil {
			return command{}, fmt.Errorf("%w: position: %v", ErrMalformedDocument, err)
		}
		return command{Type: registerCommand, Position: pos, UserID: strings.TrimSpace(ch[1].InnerText())}, nil

	case "SAVE_COMMAND_LINE":
		return command{Type: saveCommandLineCommand, Text: root.InnerText()}, nil

	case "TERMINAL_FUNCTION":
		key, err := screen.ParseKey(strings.TrimSpace(root.InnerText()))
		if err != nil {
			return command{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
		return command{Type: functionCommand, Key: key}, nil

	case "TERMINAL_CMD_LINE":
		ch := elementChildren(root)
		if len(ch) == 0 {
			return command{}, fmt.Errorf("%w: empty TERMINAL_CMD_LINE", ErrMalformedDocument)
		}
		return parseCmdLine(ch[0])

	default:
		return command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, root.Data)
	}
}

func parseCmdLine(n *xmlquery.Node) (command, error) {
	ct, ok := cmdLineCommands[n.Data]
	if !ok {
		return command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, n.Data)
	}
	cmd := command{Type: ct}

	switch ct {
	case incidentUpdateCommand:
		if s := strings.TrimSpace(n.SelectAttr("LOG_NUM")); s != "" {
			ln, err := strconv.Atoi(s)
			if err != nil {
				return command{}, fmt.Errorf("%w: LOG_NUM: %v", ErrMalformedDocument, err)
			}
			cmd.LogNumber = ln
		}
		cmd.Details = parseDetails(n)

	case enterIncidentCommand:
		cmd.Details = parseDetails(n)

	case incidentInquiryCommand:
		// An unparsable log number is passed along as 0 so that the
		// terminal is told it's invalid.
		cmd.LogNumber, _ = strconv.Atoi(strings.TrimSpace(n.InnerText()))

	case routedMessageCommand:
		if d := xmlquery.FindOne(n, "DESTINATION"); d != nil {
			cmd.Destinations = strings.TrimSpace(d.InnerText())
		}
		if m := xmlquery.FindOne(n, "MESSAGE"); m != nil {
			cmd.Message = strings.TrimSpace(m.InnerText())
		}
	}
	return cmd, nil
}

func parseDetails(n *xmlquery.Node) []sim.Detail {
	var details []sim.Detail
	for _, d := range xmlquery.Find(n, "DETAILS") {
		details = append(details, sim.Detail{
			Text:      strings.TrimSpace(d.InnerText()),
			Sensitive: strings.EqualFold(strings.TrimSpace(d.SelectAttr("SENSITIVE")), "true"),
		})
	}
	return details
}

///////////////////////////////////////////////////////////////////////////
// Outbound

type textDocument struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

type screenDocument struct {
	XMLName xml.Name `xml:"UPDATE_SCREEN"`
	Model   []byte   `xml:",innerxml"`
}

func marshalText(tag, text string) ([]byte, error) {
	return xml.Marshal(textDocument{XMLName: xml.Name{Local: tag}, Text: text})
}

// encodeNotice returns the documents to send to a terminal for a notice.
// current is the terminal's current screen, used for refreshes.
func encodeNotice(n screen.Notice, current screen.Model, clock sim.CADClock) ([][]byte, error) {
	var docs [][]byte
	add := func(b []byte, err error) error {
		if err == nil {
			docs = append(docs, b)
		}
		return err
	}

	var err error
	switch n.Type {
	case screen.ScreenUpdateNotice:
		err = add(marshalText("UPDATE_STATUS", n.Text))
	case screen.TimeUpdateNotice:
		err = add(marshalText("UPDATE_TIME", n.Text))
	case screen.RoutedMessageNotice:
		if err = add(marshalText("UPDATE_MSG_COUNT", strconv.Itoa(n.MessageCount))); err == nil {
			err = add(marshalText("UPDATE_MSG_UNREAD", strconv.FormatBool(n.Unread)))
		}
	case screen.CADInfoNotice:
		err = add(marshalText("CAD_INFO", n.Text))
	case screen.RefreshNotice:
		err = add(marshalScreen(current, clock))
	case screen.AppCloseNotice:
		err = add(marshalText("APP_CLOSE", ""))
	default:
		err = fmt.Errorf("%d: unhandled notice type", n.Type)
	}
	return docs, err
}

func marshalScreen(m screen.Model, clock sim.CADClock) ([]byte, error) {
	b, err := screen.MarshalModel(m, clock)
	if err != nil {
		return nil, err
	}
	return xml.Marshal(screenDocument{Model: b})
}
