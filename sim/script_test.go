// sim/script_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mmp/cadsim/util"

	"github.com/klauspost/compress/zstd"
)

const testScript = `<?xml version="1.0" encoding="UTF-8"?>
<TMC_SCRIPT>
  <SCRIPT_EVENT>
    <TIME_INDEX>00:02:00</TIME_INDEX>
    <INCIDENT LogNum="101">Overturned vehicle</INCIDENT>
    <CAD_DATA>
      <HEADER_INFO>
        <Type>1183</Type>
        <Beat>12</Beat>
        <FullLoc>SB 5 JSO OSO PKWY</FullLoc>
        <TruncLoc>SB 5 OSO</TruncLoc>
      </HEADER_INFO>
      <CAD_INCIDENT_EVENT>
        <AUDIO Path="audio/101-1.mp3" Length="14"/>
        <DETAIL>RP REPORTS VEH ON ITS ROOF</DETAIL>
        <WITNESS Name="SMITH" Address="1 MAIN ST" PhoneNum="555-1212"/>
      </CAD_INCIDENT_EVENT>
    </CAD_DATA>
  </SCRIPT_EVENT>
  <SCRIPT_EVENT>
    <TIME_INDEX>00:03:30</TIME_INDEX>
    <INCIDENT LogNum="101">Overturned vehicle</INCIDENT>
    <CAD_DATA>
      <CAD_INCIDENT_EVENT>
        <UNIT UnitNum="12-5" Status="ENRT" Primary="true" Active="true"/>
        <TOW Company="JOE'S TOW" ConfNum="555-0001" PubNum="555-0002" Beat="12"/>
        <SERVICE Name="CALTRANS" ConfNum="555-0003" PubNum="555-0004"/>
        <CCTV_INFO ID="42" Dir="N" Toggle="true"/>
        <PARAMICS LocationID="7"><STATUS>NEW</STATUS></PARAMICS>
      </CAD_INCIDENT_EVENT>
    </CAD_DATA>
  </SCRIPT_EVENT>
  <SCRIPT_EVENT>
    <TIME_INDEX>00:01:00</TIME_INDEX>
    <INCIDENT LogNum="102">Debris</INCIDENT>
    <CAD_DATA>
      <CAD_INCIDENT_EVENT>
        <DETAIL Sensitive="true">MATTRESS IN #1 LN</DETAIL>
      </CAD_INCIDENT_EVENT>
    </CAD_DATA>
  </SCRIPT_EVENT>
</TMC_SCRIPT>
`

func TestParseScript(t *testing.T) {
	var e util.ErrorLogger
	incs := ParseScript(strings.NewReader(testScript), &e)
	if e.HaveErrors() {
		t.Fatalf("unexpected errors: %s", e.String())
	}
	if len(incs) != 2 {
		t.Fatalf("expected 2 incidents, got %d", len(incs))
	}

	// Sorted by start time.
	if incs[0].LogNumber != 102 || incs[1].LogNumber != 101 {
		t.Errorf("unexpected incident order %d, %d", incs[0].LogNumber, incs[1].LogNumber)
	}

	debris := incs[0]
	if debris.StartTime != 60 || debris.Description != "Debris" {
		t.Errorf("unexpected incident %+v", debris.Status())
	}
	if d := debris.Events()[0].Info.Details; len(d) != 1 || !d[0].Sensitive {
		t.Errorf("expected a sensitive detail, got %+v", d)
	}

	inc := incs[1]
	if inc.StartTime != 120 || inc.Header.Type != "1183" || inc.Header.TruncLocation != "SB 5 OSO" {
		t.Errorf("unexpected incident %+v header %+v", inc.Status(), inc.Header)
	}
	ev := inc.Events()
	if len(ev) != 2 {
		t.Fatalf("expected 2 events, got %d", len(ev))
	}
	if ev[0].SecondsToOccur != 0 || ev[1].SecondsToOccur != 90 {
		t.Errorf("unexpected offsets %d, %d", ev[0].SecondsToOccur, ev[1].SecondsToOccur)
	}
	if ev[0].Audio != (AudioCue{Path: "audio/101-1.mp3", Length: 14}) {
		t.Errorf("unexpected audio %+v", ev[0].Audio)
	}
	if w := ev[0].Info.Witnesses; len(w) != 1 || w[0].Phone != "555-1212" || w[0].PositionInfo != ScriptPositionInfo {
		t.Errorf("unexpected witnesses %+v", w)
	}
	if ev[0].Info.Header.Beat != "12" || ev[1].Info.Header.LogNumber != 101 {
		t.Errorf("event headers not set")
	}

	info := ev[1].Info
	if len(info.Units) != 1 || info.Units[0].Beat != "12-5" || !info.Units[0].Primary {
		t.Errorf("unexpected units %+v", info.Units)
	}
	if len(info.Tows) != 1 || info.Tows[0].Company != "JOE'S TOW" {
		t.Errorf("unexpected tows %+v", info.Tows)
	}
	if len(info.Services) != 1 || info.Services[0].PublicPhone != "555-0004" {
		t.Errorf("unexpected services %+v", info.Services)
	}
	if cc := ev[1].CCTV; len(cc) != 1 || cc[0] != (CCTVSwitch{CameraID: 42, Direction: "N", Toggle: true}) {
		t.Errorf("unexpected CCTV %+v", cc)
	}
	if tu := ev[1].TrafficUpdates; len(tu) != 1 || tu[0].LocationID != 7 || !strings.Contains(tu[0].Payload, "NEW") {
		t.Errorf("unexpected traffic updates %+v", tu)
	}
}

func TestParseScriptErrors(t *testing.T) {
	for _, doc := range []string{
		`<NOT_A_SCRIPT/>`,
		`<TMC_SCRIPT><SCRIPT_EVENT><TIME_INDEX>1:2</TIME_INDEX><INCIDENT LogNum="1"/></SCRIPT_EVENT></TMC_SCRIPT>`,
		`<TMC_SCRIPT><SCRIPT_EVENT><TIME_INDEX>00:00:10</TIME_INDEX><INCIDENT LogNum="x"/></SCRIPT_EVENT></TMC_SCRIPT>`,
		`<TMC_SCRIPT><SCRIPT_EVENT><TIME_INDEX>00:00:10</TIME_INDEX><INCIDENT LogNum="1"/>
           <CAD_DATA><CAD_INCIDENT_EVENT><AUDIO Path="a" Length="long"/></CAD_INCIDENT_EVENT></CAD_DATA>
         </SCRIPT_EVENT></TMC_SCRIPT>`,
		`<TMC_SCRIPT><SCRIPT_EVENT><TIME_INDEX>00:00:10</TIME_INDEX><INCIDENT LogNum="1"/>
           <CAD_DATA><CAD_INCIDENT_EVENT><BOGUS/></CAD_INCIDENT_EVENT></CAD_DATA>
         </SCRIPT_EVENT></TMC_SCRIPT>`,
	} {
		var e util.ErrorLogger
		ParseScript(strings.NewReader(doc), &e)
		if !e.HaveErrors() {
			t.Errorf("%s: expected errors", doc)
		}
	}
}

func TestLoadCompressedScript(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "script.xml.zst")
	f, err := os.Create(fn)
	if err != nil {
		t.Fatal(err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Write([]byte(testScript)); err != nil {
		t.Fatal(err)
	}
	zw.Close()
	f.Close()

	incs, err := LoadScript(fn, nil)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if len(incs) != 2 {
		t.Errorf("expected 2 incidents, got %d", len(incs))
	}

	if _, err := LoadScript(filepath.Join(t.TempDir(), "missing.xml"), nil); err == nil {
		t.Errorf("expected error for a missing script")
	}
}
