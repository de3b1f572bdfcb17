// server/http.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	gomath "math"
	"net/http"
	"net/http/pprof"
	"runtime"
	"text/template"
	"time"

	"github.com/mmp/cadsim/sim"
	"github.com/mmp/cadsim/util"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/cpu"
)

type serverStats struct {
	Uptime           time.Duration
	AllocMemory      uint64
	TotalAllocMemory uint64
	SysMemory        uint64
	RX, TX           int64
	NumGC            uint32
	NumGoRoutines    int
	CPUUsage         int

	SimTime     int64
	CADTime     string
	Status      ScriptStatus
	RunID       string
	HaveManager bool
	AudioQueue  []string

	Terminals []TerminalStatus
	Incidents []sim.IncidentStatus
	Locks     []util.LockStats
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Terminals are served from arbitrary origins on the training LAN.
	CheckOrigin: func(r *http.Request) bool { return true },
}

///////////////////////////////////////////////////////////////////////////
// Terminals and status / statistics via HTTP...

func (s *Server) httpHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/terminal", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.lg.Warnf("%s: websocket upgrade: %v", r.RemoteAddr, err)
			return
		}
		// The terminal outlives the request; it is stopped when the
		// server shuts down through CloseAll.
		s.terminals.Serve(context.Background(), &wsConn{conn: conn}, s.Coordinator, s.lg)
	})

	mux.HandleFunc("/sup", func(w http.ResponseWriter, r *http.Request) {
		s.statsHandler(w, r)
		s.lg.Infof("%s: served stats request", r.URL.String())
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return mux
}

var templateFuncs = template.FuncMap{"bytes": func(v int64) string { return util.ByteCount(v).String() }}

var statsTemplate = template.Must(template.New("").Funcs(templateFuncs).Parse(`
<!DOCTYPE html>
<html>
<head>
<title>cadsim status</title>
</head>
<style>
table {
  border-collapse: collapse;
  width: 100%;
}

th, td {
  border: 1px solid #dddddd;
  padding: 8px;
  text-align: left;
}

tr:nth-child(even) {
  background-color: #f2f2f2;
}
</style>
<body>
<h1>Server Status</h1>
<ul>
  <li>Uptime: {{.Uptime}}</li>
  <li>CPU usage: {{.CPUUsage}}%</li>
  <li>Bandwidth: {{bytes .RX}} RX, {{bytes .TX}} TX</li>
  <li>Allocated memory: {{.AllocMemory}} MB</li>
  <li>Total allocated memory: {{.TotalAllocMemory}} MB</li>
  <li>System memory: {{.SysMemory}} MB</li>
  <li>Garbage collection passes: {{.NumGC}}</li>
  <li>Running goroutines: {{.NumGoRoutines}}</li>
</ul>

<h1>Simulation</h1>
<ul>
  <li>Status: {{.Status}}</li>
  <li>Simulation time: {{.SimTime}}s (CAD {{.CADTime}})</li>
  <li>Run: <tt>{{.RunID}}</tt></li>
  <li>Simulation manager: {{if .HaveManager}}connected{{else}}none{{end}}</li>
  <li>Audio queue: {{range .AudioQueue}}<tt>{{.}}</tt> {{end}}</li>
</ul>

<h1>Terminals</h1>
<table>
  <tr>
  <th>Position</th>
  <th>User</th>
  <th>Address</th>
  <th>Connected</th>
  </tr>
{{range .Terminals}}
  <tr>
  <td>{{.Position}}</td>
  <td>{{.UserID}}</td>
  <td><tt>{{.Remote}}</tt></td>
  <td>{{.Connected.Format "15:04:05"}}</td>
  </tr>
{{end}}
</table>

<h1>Incidents</h1>
<table>
  <tr>
  <th>Log</th>
  <th>Description</th>
  <th>Start</th>
  <th>Occurred</th>
  <th>Events</th>
  </tr>
{{range .Incidents}}
  <tr>
  <td>{{.LogNumber}}</td>
  <td>{{.Description}}</td>
  <td>{{.StartTime}}</td>
  <td>{{.Occurred}}</td>
  <td>{{len .Events}}</td>
  </tr>
{{end}}
</table>

<h1>Locks</h1>
<table>
  <tr>
  <th>Lock</th>
  <th>Acquired</th>
  <th>Contended</th>
  <th>Max wait</th>
  <th>Max held</th>
  <th>Longest holder</th>
  </tr>
{{range .Locks}}
  <tr>
  <td>{{.Name}}</td>
  <td>{{.Acquired}}</td>
  <td>{{.Contended}}</td>
  <td>{{.MaxWait}}</td>
  <td>{{.MaxHeld}}</td>
  <td><tt>{{.MaxHolder}}</tt></td>
  </tr>
{{end}}
</table>

</body>
</html>
`))

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	cpuUsage := 0
	if usage, err := cpu.Percent(250*time.Millisecond, false); err == nil && len(usage) > 0 {
		cpuUsage = int(gomath.Round(usage[0]))
	}

	c := s.Coordinator
	clock := c.CADTime()
	stats := serverStats{
		Uptime:           time.Since(s.startTime).Round(time.Second),
		AllocMemory:      m.Alloc / (1024 * 1024),
		TotalAllocMemory: m.TotalAlloc / (1024 * 1024),
		SysMemory:        m.Sys / (1024 * 1024),
		NumGC:            m.NumGC,
		NumGoRoutines:    runtime.NumGoroutine(),
		CPUUsage:         cpuUsage,

		SimTime:     clock.Seconds,
		CADTime:     clock.HHMMSS(),
		Status:      c.ScriptStatus(),
		RunID:       c.RunID(),
		HaveManager: c.HaveManager(),
		AudioQueue:  s.audio.Pending(),

		Terminals: s.terminals.Status(),
		Incidents: c.Incidents(),
		Locks:     []util.LockStats{c.LockStats(), s.terminals.LockStats()},
	}

	stats.RX, stats.TX = util.GetLoggedRPCBandwidth()

	if err := statsTemplate.Execute(w, stats); err != nil {
		s.lg.Warnf("stats template: %v", err)
	}
}
