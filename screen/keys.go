// screen/keys.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package screen

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is a terminal function key.
type Key int

const (
	UnknownKey Key = iota
	CycleKey
	RefreshKey
	NextQueueKey
	PrevQueueKey
	DeleteQueueKey
	ScreenClearKey
	CommandLineClearKey
	CommandLineTxKey
)

func (k Key) String() string {
	return [...]string{"UNKNOWN", "CYCLE", "REFRESH", "NEXT_QUEUE", "PREV_QUEUE", "DELETE_QUEUE",
		"SCREEN_CLEAR", "COMMAND_LINE_CLEAR", "COMMAND_LINE_TX"}[k]
}

// Key codes sent by terminals with a standard keyboard. Terminals with a
// CAD keyboard send different codes for a few of the keys.
var stdKeyCodes = map[int]Key{
	33:  CycleKey,
	34:  RefreshKey,
	119: NextQueueKey,
	120: DeleteQueueKey,
	121: PrevQueueKey,
	122: CommandLineClearKey,
	123: ScreenClearKey,
	112: CommandLineTxKey,
}

var cadKeyCodes = map[int]Key{
	33:    CycleKey,
	34:    RefreshKey,
	119:   NextQueueKey,
	120:   DeleteQueueKey,
	121:   PrevQueueKey,
	61450: CommandLineClearKey,
	61451: ScreenClearKey,
	61447: CommandLineTxKey,
}

// ParseKey decodes a TERMINAL_FUNCTION payload of the form
// "<keyboard>:<code>", where the keyboard is "STD" or "CAD". Codes that
// don't correspond to a function key give UnknownKey.
func ParseKey(s string) (Key, error) {
	kbd, code, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return UnknownKey, fmt.Errorf("%q: %w", s, ErrMalformedKey)
	}
	v, err := strconv.Atoi(code)
	if err != nil {
		return UnknownKey, fmt.Errorf("%q: %w", s, ErrMalformedKey)
	}

	codes := stdKeyCodes
	if kbd == "CAD" {
		codes = cadKeyCodes
	}
	if k, ok := codes[v]; ok {
		return k, nil
	}
	return UnknownKey, nil
}
