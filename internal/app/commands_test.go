package app

import (
	"testing"

	"salahbot/internal/groups"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in   string
		cmd  string
		args []string
	}{
		{"/start", "start", nil},
		{"/Start", "start", nil},
		{"/times@salahbot", "times", nil},
		{"/settings quran off", "settings", []string{"quran", "off"}},
		{"/settings@salahbot quran on", "settings", []string{"quran", "on"}},
		{"  /help  ", "help", nil},
		{"not a command", "", nil},
		{"/", "", nil},
		{"", "", nil},
	}
	for _, c := range cases {
		cmd, args := splitCommand(c.in)
		if cmd != c.cmd {
			t.Errorf("splitCommand(%q) cmd = %q, want %q", c.in, cmd, c.cmd)
		}
		if len(args) != len(c.args) {
			t.Errorf("splitCommand(%q) args = %v, want %v", c.in, args, c.args)
			continue
		}
		for i := range args {
			if args[i] != c.args[i] {
				t.Errorf("splitCommand(%q) args = %v, want %v", c.in, args, c.args)
				break
			}
		}
	}
}

func TestParseFeature(t *testing.T) {
	cases := []struct {
		in   string
		want groups.Feature
		ok   bool
	}{
		{"quran", groups.FeatureQuran, true},
		{"Reminders", groups.FeatureReminders, true},
		{"dhikr", groups.FeatureDhikr, true},
		{"post_dhikr", groups.FeaturePostDhikr, true},
		{"postdhikr", groups.FeaturePostDhikr, true},
		{"weather", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := parseFeature(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("parseFeature(%q) = %q, %v; want %q, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestParseOnOff(t *testing.T) {
	for _, s := range []string{"on", "ON", "true", "1", "yes"} {
		v, ok := parseOnOff(s)
		if !ok || !v {
			t.Errorf("parseOnOff(%q) = %v, %v; want true", s, v, ok)
		}
	}
	for _, s := range []string{"off", "false", "0", "no"} {
		v, ok := parseOnOff(s)
		if !ok || v {
			t.Errorf("parseOnOff(%q) = %v, %v; want false", s, v, ok)
		}
	}
	if _, ok := parseOnOff("maybe"); ok {
		t.Error("parseOnOff(\"maybe\") should not parse")
	}
}

func TestCommandsOwnerGate(t *testing.T) {
	c := &Commands{owners: map[int64]struct{}{}}
	c.SetOwners([]int64{100, 200})
	if !c.isOwner(100) || !c.isOwner(200) {
		t.Fatal("configured owners must pass the gate")
	}
	if c.isOwner(300) {
		t.Fatal("unknown user must not pass the gate")
	}
	// reconfiguration replaces, not appends
	c.SetOwners([]int64{300})
	if c.isOwner(100) {
		t.Fatal("removed owner still passes the gate")
	}
	if !c.isOwner(300) {
		t.Fatal("new owner must pass the gate")
	}
}
