// screen/errors.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package screen

import (
	"errors"
)

// CADError is an error reported to the operator on the terminal's info
// line; the text starts with the CAD error code.
type CADError string

func (e CADError) Error() string { return string(e) }

const (
	ErrUnauthorizedCommand CADError = "0002: Unauthorized Command"
	ErrNoLogNumber         CADError = "0744: Must provide log # when no log is on display"
	ErrInvalidLogNumber    CADError = "0753: Invalid Log Number"
)

var ErrMalformedKey = errors.New("malformed terminal function key")
