// server/errors.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"errors"

	"github.com/mmp/cadsim/sim"
	"github.com/mmp/cadsim/util"
)

var (
	ErrInvalidConfig      = errors.New("Invalid server configuration")
	ErrMalformedDocument  = errors.New("Malformed terminal document")
	ErrNoManager          = errors.New("No simulation manager registered")
	ErrServerDisconnected = errors.New("Server disconnected")
	ErrUnknownCommand     = errors.New("Unknown terminal command")
)

var errorStringToError = map[string]error{
	sim.ErrDuplicateLogNumber.Error():     sim.ErrDuplicateLogNumber,
	sim.ErrIncidentAlreadyStarted.Error(): sim.ErrIncidentAlreadyStarted,
	sim.ErrInvalidScript.Error():          sim.ErrInvalidScript,
	sim.ErrNoScriptLoaded.Error():         sim.ErrNoScriptLoaded,
	sim.ErrNoSuchIncident.Error():         sim.ErrNoSuchIncident,
	sim.ErrSimNotStarted.Error():          sim.ErrSimNotStarted,
	sim.ErrTimePassed.Error():             sim.ErrTimePassed,

	util.ErrRPCTimeout.Error(): util.ErrRPCTimeout,

	ErrInvalidConfig.Error():      ErrInvalidConfig,
	ErrMalformedDocument.Error():  ErrMalformedDocument,
	ErrNoManager.Error():          ErrNoManager,
	ErrServerDisconnected.Error(): ErrServerDisconnected,
	ErrUnknownCommand.Error():     ErrUnknownCommand,
}

// TryDecodeError maps an error returned over RPC, which only carries the
// error's text, back to the corresponding sentinel error so that callers
// can use errors.Is.
func TryDecodeError(e error) error {
	if e == nil {
		return e
	}
	if err, ok := errorStringToError[e.Error()]; ok {
		return err
	}
	return e
}

func TryDecodeErrorString(s string) error {
	if err, ok := errorStringToError[s]; ok {
		return err
	}
	return nil
}
