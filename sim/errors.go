// sim/errors.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"errors"
)

var (
	ErrDuplicateLogNumber     = errors.New("Incident with that log number already exists")
	ErrIncidentAlreadyStarted = errors.New("Incident has already started")
	ErrInvalidScript          = errors.New("Invalid incident script")
	ErrNoScriptLoaded         = errors.New("No script loaded")
	ErrNoSuchIncident         = errors.New("No incident with that log number")
	ErrSimNotStarted          = errors.New("Simulation has not been started")
	ErrTimePassed             = errors.New("Requested time has already passed")
)
