// server/server.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/rpc"
	"strconv"
	"time"

	"github.com/mmp/cadsim/audio"
	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/util"

	"golang.org/x/sync/errgroup"
)

// Server ties together the coordinator and the network endpoints that
// terminals and simulation managers connect to.
type Server struct {
	Coordinator *Coordinator

	config     Config
	terminals  *TerminalSet
	dispatcher *dispatcher
	audio      *audio.Queue

	terminalListener net.Listener
	controlListener  net.Listener
	httpListener     net.Listener

	startTime time.Time
	lg        *log.Logger
}

func listen(port int, e *util.ErrorLogger) net.Listener {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		e.Error(err)
		return nil
	}
	return l
}

// NewServer validates the configuration, loads the script if one is
// given, and opens the server's listeners. Nothing is served until Run
// is called.
func NewServer(config Config, lg *log.Logger) (*Server, util.ErrorLogger) {
	var e util.ErrorLogger
	if config.Validate(&e); e.HaveErrors() {
		return nil, e
	}

	var history HistoryStore
	if config.HistoryDB != "" {
		h, err := OpenSQLiteHistory(config.HistoryDB)
		if err != nil {
			e.Error(err)
			return nil, e
		}
		history = h
	}

	start := config.CADStart
	if start.IsZero() {
		start = time.Now()
	}

	q := audio.NewQueue(audio.NewMP3Player(config.AudioDir, nil, lg), lg)
	c := NewCoordinator(start, q, history, lg)

	s := &Server{
		Coordinator: c,
		config:      config,
		terminals:   NewTerminalSet(lg),
		dispatcher:  newDispatcher(c, lg),
		audio:       q,
		startTime:   time.Now(),
		lg:          lg,
	}

	if config.Script != "" {
		if err := c.LoadScript(config.Script); err != nil {
			e.Error(err)
			s.close()
			return nil, e
		}
	}

	s.terminalListener = listen(config.TerminalPort, &e)
	s.controlListener = listen(config.ControlPort, &e)
	if config.HTTPPort >= 0 {
		s.httpListener = listen(config.HTTPPort, &e)
	}
	if e.HaveErrors() {
		s.close()
		return nil, e
	}

	return s, e
}

func (s *Server) TerminalAddr() net.Addr { return s.terminalListener.Addr() }
func (s *Server) ControlAddr() net.Addr  { return s.controlListener.Addr() }

// HTTPAddr returns nil if the HTTP server is disabled.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Run serves terminals and simulation managers and runs the simulation
// clock until ctx is canceled or one of the listeners fails.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Coordinator", s.dispatcher); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return RunClock(ctx, s.Coordinator, s.config.TickInterval) })

	g.Go(func() error {
		s.lg.Info("serving terminals", slog.String("address", s.terminalListener.Addr().String()))
		return ServeTerminals(ctx, s.terminalListener, s.Coordinator, s.terminals, s.lg)
	})

	g.Go(func() error {
		s.lg.Info("serving control", slog.String("address", s.controlListener.Addr().String()))
		return serveRPC(ctx, s.controlListener, rpcServer, s.config.CompressControl, s.lg)
	})

	if s.httpListener != nil {
		hs := &http.Server{Handler: s.httpHandler()}
		g.Go(func() error {
			s.lg.Info("serving HTTP", slog.String("address", s.httpListener.Addr().String()))
			if err := hs.Serve(s.httpListener); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return hs.Close()
		})
	}

	err := g.Wait()
	s.terminals.CloseAll()
	return err
}

func (s *Server) close() {
	for _, l := range []net.Listener{s.terminalListener, s.controlListener, s.httpListener} {
		if l != nil {
			l.Close()
		}
	}
	s.dispatcher.closeManager()
	s.audio.Close()
	s.Coordinator.Close()
}

// serveRPC accepts connections on l and serves server's RPC services on
// them using msgpack codecs.
func serveRPC(ctx context.Context, l net.Listener, server *rpc.Server, compress bool, lg *log.Logger) error {
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
		lg.Infof("%s: new control connection", conn.RemoteAddr())

		var rwc net.Conn = util.MakeLoggingConn(conn, lg)
		if compress {
			cc, err := util.MakeCompressedConn(rwc)
			if err != nil {
				lg.Errorf("MakeCompressedConn: %v", err)
				conn.Close()
				continue
			}
			rwc = cc
		}
		codec := util.MakeMessagepackServerCodec(rwc, lg)
		codec = util.MakeLoggingServerCodec(conn.RemoteAddr().String(), codec, lg)
		go server.ServeCodec(codec)
	}
}

// LaunchServer runs a server with the given configuration until ctx is
// canceled.
func LaunchServer(ctx context.Context, config Config, lg *log.Logger) error {
	util.MonitorCPUUsage(95, false, lg)
	util.MonitorMemoryUsage(128 /* trigger MB */, 64 /* delta MB */, lg)

	s, e := NewServer(config, lg)
	if e.HaveErrors() {
		e.PrintErrors(lg)
		return e.Err()
	}
	return s.Run(ctx)
}
