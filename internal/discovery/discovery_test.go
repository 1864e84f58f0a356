package discovery

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestTXTRecords(t *testing.T) {
	got := TXTRecords(Info{HomeID: "0xC0FFEE01", Version: "Z-Wave 4.05", APIPath: "/api"})
	want := []string{"home_id=0xC0FFEE01", "path=/api", "version=Z-Wave 4.05"}
	if !slices.Equal(got, want) {
		t.Errorf("TXTRecords = %q, want %q", got, want)
	}
	if got := TXTRecords(Info{}); len(got) != 0 {
		t.Errorf("empty info = %q", got)
	}
}

func TestInstanceName(t *testing.T) {
	orig := osHostname
	t.Cleanup(func() { osHostname = orig })

	osHostname = func() (string, error) { return "pi.lan", nil }
	if got := InstanceName(""); got != "zwave-home-pi" {
		t.Errorf("InstanceName(\"\") = %q", got)
	}
	if got := InstanceName("kitchen"); got != "kitchen" {
		t.Errorf("InstanceName(kitchen) = %q", got)
	}

	osHostname = func() (string, error) { return "", errors.New("no host") }
	if got := InstanceName(""); got != "zwave-home-local" {
		t.Errorf("InstanceName without host = %q", got)
	}

	if got := InstanceName(strings.Repeat("x", 80)); len(got) != MaxInstanceNameLen {
		t.Errorf("long name length = %d, want %d", len(got), MaxInstanceNameLen)
	}
}
