// cmd/cadctl/main.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

// cadctl is a command-line simulation manager for cadsim. It issues
// control commands over the coordinator's RPC interface and, for
// "watch", registers itself as the simulation manager and prints the
// callbacks it receives.

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/server"
	"github.com/mmp/cadsim/sim"
	"github.com/mmp/cadsim/util"

	"github.com/goforj/godump"
)

var (
	serverAddress = flag.String("server", net.JoinHostPort("localhost", strconv.Itoa(server.DefaultControlPort)),
		"address of the cadsim control port")
	compress    = flag.Bool("compress", false, "compress the control connection (must match the server)")
	callback    = flag.String("callback", "127.0.0.1:0", "address to serve manager callbacks on for watch")
	verbose     = flag.Bool("v", false, "dump full incident status")
	logLevel    = flag.String("loglevel", "warn", "logging level: debug, info, warn, error")
	logDir      = flag.String("logdir", "", "log file directory")
)

const callTimeout = 10 * time.Second

func usage() {
	fmt.Fprintf(os.Stderr, `usage: cadctl [flags] command [args]

commands:
  status                  show the simulation status
  incidents               list the incidents and their events
  start | pause | reset   control the simulation clock
  goto SECONDS            jump to the given simulation time
  trigger LOG             start an incident now
  reschedule LOG SECONDS  move an incident's start time
  delete LOG              remove an incident that hasn't started
  load PATH               load a script on the server
  bulletin TEXT...        post a message to the incident board
  watch                   register as simulation manager and print updates

flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	lg := log.New(false, *logLevel, *logDir)

	client, err := util.DialRPC(*serverAddress, *compress, callTimeout, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *serverAddress, err)
		os.Exit(1)
	}
	defer client.Close()

	if err := run(client, flag.Args(), lg); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func call(client *rpc.Client, method string, args, reply any) error {
	return server.TryDecodeError(util.CallWithTimeout(client, method, args, reply, callTimeout))
}

func intArg(args []string, i int, what string) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing %s", what)
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("%s: invalid %s", args[i], what)
	}
	return v, nil
}

func run(client *rpc.Client, args []string, lg *log.Logger) error {
	switch args[0] {
	case "status":
		var st server.SimulationStatus
		if err := call(client, server.GetStatusRPC, struct{}{}, &st); err != nil {
			return err
		}
		fmt.Printf("status:      %s\n", st.Status)
		fmt.Printf("time:        %ds\n", st.Time)
		fmt.Printf("run:         %s\n", st.RunID)
		fmt.Printf("terminals:   %d\n", st.Subscribers)
		fmt.Printf("manager:     %v\n", st.HaveManager)
		return nil

	case "incidents":
		var incs []sim.IncidentStatus
		if err := call(client, server.GetIncidentsRPC, struct{}{}, &incs); err != nil {
			return err
		}
		if *verbose {
			godump.Dump(incs)
			return nil
		}
		for _, inc := range incs {
			started := "-"
			if inc.Occurred {
				started = strconv.FormatInt(inc.StartedAt, 10)
			}
			fmt.Printf("%4d  %-40s start %5d  started %5s  length %4d\n", inc.LogNumber, inc.Description,
				inc.StartTime, started, inc.Length)
			for _, ev := range inc.Events {
				fmt.Printf("        +%-4d %-10s %s\n", ev.SecondsToOccur, ev.State, ev.Audio)
			}
		}
		return nil

	case "start":
		return call(client, server.StartSimulationRPC, struct{}{}, nil)
	case "pause":
		return call(client, server.PauseSimulationRPC, struct{}{}, nil)
	case "reset":
		return call(client, server.ResetSimulationRPC, struct{}{}, nil)

	case "goto":
		t, err := intArg(args, 1, "time")
		if err != nil {
			return err
		}
		return call(client, server.GotoSimulationTimeRPC, int64(t), nil)

	case "trigger", "delete":
		l, err := intArg(args, 1, "log number")
		if err != nil {
			return err
		}
		method := server.TriggerIncidentRPC
		if args[0] == "delete" {
			method = server.DeleteIncidentRPC
		}
		return call(client, method, l, nil)

	case "reschedule":
		l, err := intArg(args, 1, "log number")
		if err != nil {
			return err
		}
		t, err := intArg(args, 2, "time")
		if err != nil {
			return err
		}
		return call(client, server.RescheduleIncidentRPC, &server.RescheduleIncidentArgs{LogNumber: l, Time: int64(t)}, nil)

	case "load":
		if len(args) < 2 {
			return fmt.Errorf("missing script path")
		}
		return call(client, server.LoadScriptRPC, args[1], nil)

	case "bulletin":
		if len(args) < 2 {
			return fmt.Errorf("missing bulletin text")
		}
		var b sim.Bulletin
		if err := call(client, server.PostBulletinRPC, strings.Join(args[1:], " "), &b); err != nil {
			return err
		}
		fmt.Printf("posted bulletin %d at %s\n", b.Number, b.Time)
		return nil

	case "watch":
		return watch(client, lg)

	default:
		return fmt.Errorf("unknown command")
	}
}

// watch serves the Manager RPC service, registers it with the
// coordinator, and prints callbacks until interrupted.
func watch(client *rpc.Client, lg *log.Logger) error {
	l, err := net.Listen("tcp", *callback)
	if err != nil {
		return err
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Manager", server.NewManagerService(&printingManager{}, lg)); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		l.Close()
	}()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			codec := util.MakeMessagepackServerCodec(conn, lg)
			go rpcServer.ServeCodec(util.MakeLoggingServerCodec(conn.RemoteAddr().String(), codec, lg))
		}
	}()

	if err := call(client, server.RegisterManagerRPC, l.Addr().String(), nil); err != nil {
		return err
	}
	fmt.Printf("registered as simulation manager at %s\n", l.Addr())

	<-ctx.Done()
	return nil
}

// printingManager is a server.SimulationManager that reports each
// callback on stdout.
type printingManager struct {
	mu       sync.Mutex
	lastTick int64
}

func (m *printingManager) printf(format string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Printf("[%5d] "+format+"\n", append([]any{m.lastTick}, args...)...)
	return nil
}

func (m *printingManager) Tick(t int64) error {
	m.mu.Lock()
	// Only jumps and whole minutes are reported.
	report := t != m.lastTick+1 || t%60 == 0
	m.lastTick = t
	m.mu.Unlock()

	if report {
		return m.printf("simulation time %d", t)
	}
	return nil
}

func (m *printingManager) SetScriptStatus(s server.ScriptStatus) error {
	return m.printf("script status %s", s)
}

func (m *printingManager) SetParamicsStatus(s server.ParamicsStatus) error {
	return m.printf("traffic simulator %s", s)
}

func (m *printingManager) IncidentStarted(logNumber int) error {
	return m.printf("incident %d started", logNumber)
}

func (m *printingManager) IncidentAdded(logNumber int) error {
	return m.printf("incident %d added", logNumber)
}

func (m *printingManager) IncidentRemoved(logNumber int) error {
	return m.printf("incident %d removed", logNumber)
}

func (m *printingManager) EventOccurred(logNumber int, ev sim.EventStatus) error {
	return m.printf("incident %d event +%d %s", logNumber, ev.SecondsToOccur, ev.State)
}
