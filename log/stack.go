// log/stack.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package log

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const modulePath = "github.com/mmp/cadsim/"

type StackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (f StackFrame) String() string {
	if f.Function == "" {
		return "unknown"
	}
	return f.File + ":" + strconv.Itoa(f.Line) + ":" + f.Function
}

// Callstack returns the stack of the code that called the logging
// method, ending at main.main or the goroutine's entry point. Function
// names are relative to the module, e.g. "server.(*Coordinator).Tick".
// fr is reused if it has enough capacity.
func Callstack(fr []StackFrame) []StackFrame {
	// Skip runtime.Callers, callstack, Callstack, and the logging method.
	return callstack(4, fr[:0])
}

// Caller returns the innermost frame of the calling goroutine that is
// outside of the log and util packages: the simulation code on whose
// behalf a log record is written or a lock is taken.
func Caller() StackFrame {
	var buf [8]StackFrame
	for _, f := range callstack(3, buf[:0]) {
		if !strings.HasPrefix(f.Function, "log.") && !strings.HasPrefix(f.Function, "util.") {
			return f
		}
	}
	return StackFrame{}
}

func callstack(skip int, fr []StackFrame) []StackFrame {
	var pcs [16]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if frame.Function == "" || strings.HasPrefix(frame.Function, "runtime.") {
			break
		}

		fn := strings.TrimPrefix(frame.Function, modulePath)
		fn = strings.TrimPrefix(fn, "main.")
		fr = append(fr, StackFrame{
			File:     filepath.Base(frame.File),
			Line:     frame.Line,
			Function: fn,
		})

		if !more || frame.Function == "main.main" {
			break
		}
	}
	return fr
}
