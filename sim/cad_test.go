// sim/cad_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"slices"
	"testing"
)

func TestCADClock(t *testing.T) {
	c := clockAt(3*3600 + 25*60 + 9)
	if c.HHMM() != "1125" {
		t.Errorf("HHMM: got %q", c.HHMM())
	}
	if c.HHMMSS() != "11:25:09" {
		t.Errorf("HHMMSS: got %q", c.HHMMSS())
	}
	if c.Date() != "01022024" {
		t.Errorf("Date: got %q", c.Date())
	}
}

func TestHeaderUpdate(t *testing.T) {
	h := InquiryHeader{LogNumber: 12, LogStatus: "A", Type: "1125", Beat: "4",
		CallBox: "405-221", Dispatcher: "A17661"}

	h.Update(InquiryHeader{Type: "1183", FullLocation: "NB 405 AT MACARTHUR"})
	if h.Type != "1183" || h.FullLocation != "NB 405 AT MACARTHUR" || h.Beat != "4" || h.LogNumber != 12 {
		t.Errorf("unexpected header after update: %+v", h)
	}

	// Zero and blank values mean "no update", so fields can't be cleared.
	h.Update(InquiryHeader{LogNumber: 0, Type: "", Beat: "   "})
	if h.LogNumber != 12 || h.Type != "1183" || h.Beat != "4" {
		t.Errorf("blank update cleared fields: %+v", h)
	}

	// The call box and dispatcher are only set when the log is created.
	h.Update(InquiryHeader{CallBox: "5-100", Dispatcher: "B00001", Origin: "CHP"})
	if h.CallBox != "405-221" || h.Dispatcher != "A17661" || h.Origin != "" {
		t.Errorf("creation-only fields updated: %+v", h)
	}
}

func TestDetailWrap(t *testing.T) {
	d := Detail{Text: "RP STATES WHITE PICKUP TRUCK STALLED IN THE CENTER DIVIDER"}
	lines := d.Wrap(20)
	expected := []string{"RP STATES WHITE", "PICKUP TRUCK STALLED", "IN THE CENTER", "DIVIDER"}
	if !slices.Equal(lines, expected) {
		t.Errorf("expected %q, got %q", expected, lines)
	}

	long := Detail{Text: "ABCDEFGHIJKLMNOPQRSTUVWXYZ"}
	if lines := long.Wrap(10); !slices.Equal(lines, []string{"ABCDEFGHIJ", "KLMNOPQRST", "UVWXYZ"}) {
		t.Errorf("unexpected wrap without spaces: %q", lines)
	}

	if lines := (Detail{Text: "SHORT"}).Wrap(10); !slices.Equal(lines, []string{"SHORT"}) {
		t.Errorf("unexpected wrap of short text: %q", lines)
	}
}

func TestRoutedMessageEquality(t *testing.T) {
	a := MakeRoutedMessage(3, 5, "traffic cleared", clockAt(10))
	b := MakeRoutedMessage(3, 5, "traffic cleared", clockAt(40))

	// The time isn't part of a message's identity.
	if !a.Equal(b) {
		t.Errorf("messages differing only by time should be equal")
	}
	if a.Compare(b) >= 0 {
		t.Errorf("expected %s to order before %s", a.Time, b.Time)
	}

	c := MakeRoutedMessage(3, 6, "traffic cleared", clockAt(10))
	if a.Equal(c) {
		t.Errorf("messages to different positions should differ")
	}
}

func TestInquiryClone(t *testing.T) {
	d := InquiryData{Details: []Detail{{Text: "one"}}, Units: []Unit{{Beat: "1"}}}
	c := d.Clone()
	c.Details[0].Text = "two"
	c.Units = append(c.Units, Unit{Beat: "2"})
	if d.Details[0].Text != "one" || len(d.Units) != 1 {
		t.Errorf("Clone shares data with the original")
	}
}
