// server/terminal.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/screen"
	"github.com/mmp/cadsim/sim"
	"github.com/mmp/cadsim/util"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxDocumentSize = 1 << 20

var errDocumentTooLarge = errors.New("document too large")

// docConn carries whole XML documents to and from a terminal.
type docConn interface {
	ReadDocument() ([]byte, error)
	WriteDocument(b []byte) error
	Close() error
	RemoteAddr() string
}

// frameConn sends each document as a 4-byte big-endian length followed
// by the document.
type frameConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func newFrameConn(c net.Conn) *frameConn {
	return &frameConn{conn: c, r: bufio.NewReader(c)}
}

func (f *frameConn) ReadDocument() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxDocumentSize {
		return nil, fmt.Errorf("%d bytes: %w", n, errDocumentTooLarge)
	}
	b := make([]byte, n)
	_, err := io.ReadFull(f.r, b)
	return b, err
}

func (f *frameConn) WriteDocument(b []byte) error {
	buf := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:], b)
	_, err := f.conn.Write(buf)
	return err
}

func (f *frameConn) Close() error       { return f.conn.Close() }
func (f *frameConn) RemoteAddr() string { return f.conn.RemoteAddr().String() }

// wsConn sends each document as a WebSocket text message.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadDocument() ([]byte, error) {
	for {
		mt, b, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return b, nil
		}
	}
}

func (w *wsConn) WriteDocument(b []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) Close() error       { return w.conn.Close() }
func (w *wsConn) RemoteAddr() string { return w.conn.RemoteAddr().String() }

///////////////////////////////////////////////////////////////////////////
// terminal

// terminal connects one CAD terminal to the coordinator. A single
// goroutine runs the screen manager: it handles an inbound document or a
// batch of coordinator events and writes all of the resulting documents
// before it looks at the next input.
type terminal struct {
	id    string
	conn  docConn
	coord *Coordinator
	mgr   *screen.Manager
	sub   *sim.EventsSubscription
	lg    *log.Logger

	closeOnce sync.Once
	done      chan struct{}

	// Updated by the processing goroutine; read for the status page.
	mu       sync.Mutex
	position int
	userID   string
}

func newTerminal(conn docConn, coord *Coordinator, lg *log.Logger) *terminal {
	id := uuid.NewString()
	lg = lg.With(slog.String("terminal", id), slog.String("remote", conn.RemoteAddr()))
	return &terminal{
		id:    id,
		conn:  conn,
		coord: coord,
		mgr:   screen.NewManager(coord, lg),
		sub:   coord.Subscribe(),
		lg:    lg,
		done:  make(chan struct{}),
	}
}

// run serves the terminal until its connection fails or ctx is
// canceled.
func (t *terminal) run(ctx context.Context) {
	defer t.lg.CatchAndReportCrash()
	defer t.close()

	t.lg.Info("terminal connected")

	inbound := make(chan []byte)
	go t.readLoop(inbound)

	if err := t.writeNotices([]screen.Notice{{Type: screen.RefreshNotice}}); err != nil {
		t.lg.Warn("initial screen write failed", slog.Any("error", err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-t.done:
			return

		case b, ok := <-inbound:
			if !ok {
				return
			}
			if err := t.handleDocument(b); err != nil {
				t.lg.Warn("terminal write failed", slog.Any("error", err))
				return
			}

		case <-t.sub.Notify():
			for _, ev := range t.sub.Get() {
				if err := t.writeNotices(t.mgr.HandleEvent(ev)); err != nil {
					t.lg.Warn("terminal write failed", slog.Any("error", err))
					return
				}
			}
		}
	}
}

func (t *terminal) readLoop(inbound chan<- []byte) {
	defer t.lg.CatchAndReportCrash()
	defer close(inbound)

	for {
		b, err := t.conn.ReadDocument()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				t.lg.Info("terminal read failed", slog.Any("error", err))
			}
			return
		}
		select {
		case inbound <- b:
		case <-t.done:
			return
		}
	}
}

// handleDocument applies an inbound document. Only errors writing to the
// terminal are returned; bad documents are logged and dropped.
func (t *terminal) handleDocument(b []byte) error {
	cmd, err := parseCommand(b)
	if err != nil {
		t.lg.Warn("discarding terminal document", slog.Any("error", err), slog.String("document", string(b)))
		return nil
	}
	t.lg.Debug("terminal command", slog.Any("command", cmd))

	var notices []screen.Notice
	switch cmd.Type {
	case registerCommand:
		t.mgr.Register(cmd.Position, cmd.UserID)
		t.mu.Lock()
		t.position, t.userID = cmd.Position, cmd.UserID
		t.mu.Unlock()

	case saveCommandLineCommand:
		t.mgr.SaveCommandLine(cmd.Text)

	case functionCommand:
		notices = t.mgr.HandleKey(cmd.Key)

	case incidentBoardCommand:
		notices = t.mgr.IncidentBoardRequest()

	case incidentUpdateCommand:
		notices = t.mgr.IncidentUpdateRequest(cmd.LogNumber, cmd.Details)

	case incidentInquiryCommand:
		notices = t.mgr.IncidentInquiryRequest(cmd.LogNumber)

	case incidentSummaryCommand:
		notices = t.mgr.IncidentSummaryRequest()

	case routedMessageCommand:
		notices = t.mgr.RoutedMessageRequest(cmd.Destinations, cmd.Message)

	case enterIncidentCommand:
		notices = t.mgr.EnterIncidentRequest(cmd.Details)

	case terminalOffCommand:
		notices = t.mgr.TerminalOff()

	case appCloseCommand:
		notices = t.mgr.AppClose()
	}

	return t.writeNotices(notices)
}

func (t *terminal) writeNotices(notices []screen.Notice) error {
	if len(notices) == 0 {
		return nil
	}
	clock := t.coord.CADTime()
	for _, n := range notices {
		var current screen.Model
		if n.Type == screen.RefreshNotice {
			current = t.mgr.CurrentModel()
		}
		docs, err := encodeNotice(n, current, clock)
		if err != nil {
			t.lg.Error("unable to encode notice", slog.Any("notice", n), slog.Any("error", err))
			continue
		}
		for _, d := range docs {
			if err := t.conn.WriteDocument(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// close unsubscribes from the coordinator's events and then closes the
// connection.
func (t *terminal) close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.coord.Unsubscribe(t.sub)
		if err := t.conn.Close(); err != nil {
			t.lg.Debug("terminal close", slog.Any("error", err))
		}
		t.lg.Info("terminal disconnected")
	})
}

func (t *terminal) status() TerminalStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TerminalStatus{ID: t.id, Remote: t.conn.RemoteAddr(), Position: t.position, UserID: t.userID}
}

func (t *terminal) LogValue() slog.Value {
	return slog.GroupValue(slog.String("id", t.id), slog.String("remote", t.conn.RemoteAddr()))
}

// ServeTerminals accepts framed TCP terminal connections on l until ctx is
// canceled or l fails.
func ServeTerminals(ctx context.Context, l net.Listener, c *Coordinator, ts *TerminalSet, lg *log.Logger) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		ts.Serve(ctx, newFrameConn(util.MakeLoggingConn(conn, lg)), c, lg)
	}
}
