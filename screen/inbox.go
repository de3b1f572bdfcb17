// screen/inbox.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package screen

import (
	"slices"

	"github.com/mmp/cadsim/sim"

	"github.com/iancoleman/orderedmap"
)

// Inbox holds the routed messages addressed to a terminal along with
// whether each has been read. Messages are keyed by sim.RoutedMessage.Key,
// so re-sending an identical message doesn't add a second copy, and are
// kept in time order.
type Inbox struct {
	m *orderedmap.OrderedMap
}

type inboxEntry struct {
	msg  sim.RoutedMessage
	read bool
}

func NewInbox() *Inbox {
	return &Inbox{m: orderedmap.New()}
}

func (in *Inbox) entry(key string) (*inboxEntry, bool) {
	if v, ok := in.m.Get(key); ok {
		return v.(*inboxEntry), true
	}
	return nil, false
}

// Add adds the message as unread.
func (in *Inbox) Add(msg sim.RoutedMessage) {
	in.m.Set(msg.Key(), &inboxEntry{msg: msg})

	in.m.SortKeys(func(keys []string) {
		slices.SortStableFunc(keys, func(a, b string) int {
			ea, _ := in.entry(a)
			eb, _ := in.entry(b)
			return ea.msg.Compare(eb.msg)
		})
	})
}

func (in *Inbox) MarkRead(msg sim.RoutedMessage) {
	if e, ok := in.entry(msg.Key()); ok {
		e.read = true
	}
}

func (in *Inbox) Remove(msg sim.RoutedMessage) {
	in.m.Delete(msg.Key())
}

func (in *Inbox) Len() int {
	return len(in.m.Keys())
}

// Unread reports whether any message hasn't been read.
func (in *Inbox) Unread() bool {
	for _, k := range in.m.Keys() {
		if e, _ := in.entry(k); !e.read {
			return true
		}
	}
	return false
}

// Messages returns the messages in time order.
func (in *Inbox) Messages() []sim.RoutedMessage {
	var msgs []sim.RoutedMessage
	for _, k := range in.m.Keys() {
		e, _ := in.entry(k)
		msgs = append(msgs, e.msg)
	}
	return msgs
}

func (in *Inbox) Clear() {
	in.m = orderedmap.New()
}
