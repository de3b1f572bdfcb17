// server/dispatcher_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"testing"
	"time"

	"github.com/mmp/cadsim/log"
	"github.com/mmp/cadsim/sim"
	"github.com/mmp/cadsim/util"
)

// startRPC serves the named service on a loopback port and returns a
// client connected to it.
func startRPC(t *testing.T, name string, rcvr any, compress bool) (*rpc.Client, string) {
	t.Helper()

	server := rpc.NewServer()
	if err := server.RegisterName(name, rcvr); err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		serveRPC(ctx, l, server, compress, nil)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	addr := l.Addr().String()
	client, err := util.DialRPC(addr, compress, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client, addr
}

func call(t *testing.T, client *rpc.Client, method string, args, reply any) error {
	t.Helper()
	return TryDecodeError(util.CallWithTimeout(client, method, args, reply, 5*time.Second))
}

func TestDispatcherControl(t *testing.T) {
	for _, compress := range []bool{false, true} {
		c := makeTestCoordinator(t)
		d := newDispatcher(c, nil)
		client, _ := startRPC(t, "Coordinator", d, compress)

		var st SimulationStatus
		if err := call(t, client, GetStatusRPC, struct{}{}, &st); err != nil {
			t.Fatal(err)
		}
		if st.Status != NoScript || st.Time != 0 || st.RunID == "" || st.HaveManager {
			t.Errorf("compress %v: unexpected initial status %+v", compress, st)
		}

		if err := call(t, client, StartSimulationRPC, struct{}{}, nil); !errors.Is(err, sim.ErrNoScriptLoaded) {
			t.Errorf("compress %v: expected ErrNoScriptLoaded, got %v", compress, err)
		}

		if err := c.SetIncidents([]*sim.Incident{makeTestIncident(101, 5, 0), makeTestIncident(102, 100, 0)}); err != nil {
			t.Fatal(err)
		}

		if err := call(t, client, TriggerIncidentRPC, 101, nil); !errors.Is(err, sim.ErrSimNotStarted) {
			t.Errorf("compress %v: expected ErrSimNotStarted, got %v", compress, err)
		}
		if err := call(t, client, StartSimulationRPC, struct{}{}, nil); err != nil {
			t.Fatalf("compress %v: %v", compress, err)
		}
		if err := call(t, client, GotoSimulationTimeRPC, int64(10), nil); err != nil {
			t.Fatalf("compress %v: %v", compress, err)
		}
		if err := call(t, client, GetStatusRPC, struct{}{}, &st); err != nil {
			t.Fatal(err)
		}
		if st.Time != 10 || st.Status != Running {
			t.Errorf("compress %v: unexpected status after goto %+v", compress, st)
		}

		if err := call(t, client, DeleteIncidentRPC, 101, nil); !errors.Is(err, sim.ErrIncidentAlreadyStarted) {
			t.Errorf("compress %v: expected ErrIncidentAlreadyStarted, got %v", compress, err)
		}
		if err := call(t, client, RescheduleIncidentRPC, &RescheduleIncidentArgs{LogNumber: 102, Time: 5}, nil); !errors.Is(err, sim.ErrTimePassed) {
			t.Errorf("compress %v: expected ErrTimePassed, got %v", compress, err)
		}
		if err := call(t, client, RescheduleIncidentRPC, &RescheduleIncidentArgs{LogNumber: 102, Time: 50}, nil); err != nil {
			t.Errorf("compress %v: %v", compress, err)
		}
		if err := call(t, client, TriggerIncidentRPC, 999, nil); !errors.Is(err, sim.ErrNoSuchIncident) {
			t.Errorf("compress %v: expected ErrNoSuchIncident, got %v", compress, err)
		}

		var incs []sim.IncidentStatus
		if err := call(t, client, GetIncidentsRPC, struct{}{}, &incs); err != nil {
			t.Fatal(err)
		}
		if len(incs) != 2 || incs[0].LogNumber != 101 || incs[1].LogNumber != 102 || incs[1].StartTime != 50 {
			t.Errorf("compress %v: unexpected incidents %+v", compress, incs)
		}

		var b sim.Bulletin
		if err := call(t, client, PostBulletinRPC, "SIGALERT NB 405", &b); err != nil {
			t.Fatal(err)
		}
		if b.Message != "SIGALERT NB 405" {
			t.Errorf("compress %v: unexpected bulletin %+v", compress, b)
		}

		if err := call(t, client, PauseSimulationRPC, struct{}{}, nil); err != nil {
			t.Fatal(err)
		}
		if err := call(t, client, ResetSimulationRPC, struct{}{}, nil); err != nil {
			t.Fatal(err)
		}
		runID := st.RunID
		if err := call(t, client, GetStatusRPC, struct{}{}, &st); err != nil {
			t.Fatal(err)
		}
		if st.Time != 0 || st.Status != StoppedNotStarted || st.RunID == runID {
			t.Errorf("compress %v: unexpected status after reset %+v", compress, st)
		}
	}
}

func TestDispatcherRegisterManager(t *testing.T) {
	c := makeTestCoordinator(t, makeTestIncident(101, 1, 0))
	d := newDispatcher(c, nil)
	t.Cleanup(d.closeManager)
	client, _ := startRPC(t, "Coordinator", d, false)

	fm := &fakeManager{}
	_, managerAddr := startRPC(t, "Manager", NewManagerService(fm, nil), false)

	if err := call(t, client, RegisterManagerRPC, managerAddr, nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "manager status", hasCall(fm, "SetScriptStatus SCRIPT_STOPPED_NOT_STARTED"))
	waitFor(t, "manager paramics status", hasCall(fm, "SetParamicsStatus DISCONNECTED"))

	var st SimulationStatus
	if err := call(t, client, GetStatusRPC, struct{}{}, &st); err != nil {
		t.Fatal(err)
	}
	if !st.HaveManager {
		t.Errorf("expected manager to be registered")
	}

	if err := call(t, client, StartSimulationRPC, struct{}{}, nil); err != nil {
		t.Fatal(err)
	}
	c.Tick()
	c.Tick()
	waitFor(t, "incident started", hasCall(fm, "IncidentStarted 101"))
	waitFor(t, "tick", hasCall(fm, "Tick 2"))
	waitFor(t, "event", hasCall(fm, "EventOccurred 101 2"))

	// An unreachable manager is reported to the caller.
	if err := call(t, client, RegisterManagerRPC, "127.0.0.1:1", nil); err == nil {
		t.Errorf("expected error registering unreachable manager")
	}
}

func TestDispatcherReplacesManager(t *testing.T) {
	c := makeTestCoordinator(t, makeTestIncident(101, 1, 0))
	d := newDispatcher(c, nil)
	t.Cleanup(d.closeManager)

	var dialed []string
	d.dial = func(addr string, lg *log.Logger) (*RemoteManager, error) {
		dialed = append(dialed, addr)
		return DialManager(addr, lg)
	}

	fm1, fm2 := &fakeManager{}, &fakeManager{}
	_, addr1 := startRPC(t, "Manager", NewManagerService(fm1, nil), false)
	_, addr2 := startRPC(t, "Manager", NewManagerService(fm2, nil), false)

	if err := d.RegisterManager(addr1, nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first manager", hasCall(fm1, "Tick 0"))
	if err := d.RegisterManager(addr2, nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second manager", hasCall(fm2, "Tick 0"))

	if err := c.StartSimulation(); err != nil {
		t.Fatal(err)
	}
	c.Tick()
	waitFor(t, "tick to second manager", hasCall(fm2, "Tick 1"))
	if hasCall(fm1, "Tick 1")() {
		t.Errorf("replaced manager still notified")
	}
	if len(dialed) != 2 || dialed[0] != addr1 || dialed[1] != addr2 {
		t.Errorf("unexpected dials %v", dialed)
	}
}
