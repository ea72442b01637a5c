package fsprobe

import "testing"

func TestProbeNeverFails(t *testing.T) {
	info := Probe(t.TempDir())
	if info.Type == "" {
		t.Error("Type is empty, want a non-empty name (possibly \"unknown\")")
	}
}

func TestProbeUnknownPathReturnsUnknown(t *testing.T) {
	info := Probe("/nonexistent/path/that/should/not/exist/anywhere")
	if info != Unknown {
		t.Errorf("Probe(nonexistent) = %+v, want %+v", info, Unknown)
	}
}
