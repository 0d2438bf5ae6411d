package qrunner

import (
	"reflect"
	"testing"
)

func TestSelector_Select(t *testing.T) {
	local := NewLocalRunner(LocalConfig{})
	container := newDockerRunner(DefaultContainerConfig(), newFakeEngine(), WithImageCache(NewImageCache()))
	selector := NewSelector(local, container)

	tests := []struct {
		name     string
		terms    []string
		platform Platform
		want     Runner
	}{
		{
			name:     "linux native with base terms",
			terms:    []string{TermExchange, TermDemag, TermZeeman},
			platform: Platform{OS: "linux", NativeAvailable: true},
			want:     local,
		},
		{
			name:     "linux native with DMI",
			terms:    []string{TermExchange, TermDMICnv},
			platform: Platform{OS: "linux", NativeAvailable: true},
			want:     local,
		},
		{
			name:     "windows native with DMI",
			terms:    []string{TermExchange, TermDMI},
			platform: Platform{OS: "windows", NativeAvailable: true},
			want:     container,
		},
		{
			name:     "windows native without DMI",
			terms:    []string{TermExchange, TermUniaxialAnisotropy},
			platform: Platform{OS: "windows", NativeAvailable: true},
			want:     local,
		},
		{
			name:     "native binary missing",
			terms:    []string{TermExchange},
			platform: Platform{OS: "linux", NativeAvailable: false},
			want:     container,
		},
		{
			name:     "unknown OS with DMI",
			terms:    []string{TermDMIT},
			platform: Platform{OS: "plan9", NativeAvailable: true},
			want:     container,
		},
		{
			name:     "term names are case-insensitive",
			terms:    []string{"Exchange", "DMI_D2D"},
			platform: Platform{OS: "darwin", NativeAvailable: true},
			want:     local,
		},
		{
			name:     "no terms",
			platform: Platform{OS: "linux", NativeAvailable: true},
			want:     local,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selector.Select(tt.terms, tt.platform)
			if got != tt.want {
				t.Errorf("Select() = %s, want %s", BackendName(got), BackendName(tt.want))
			}
			if again := selector.Select(tt.terms, tt.platform); again != got {
				t.Error("Select is not deterministic")
			}
		})
	}
}

func TestSelector_NoContainerFallsBackToLocal(t *testing.T) {
	local := NewLocalRunner(LocalConfig{})
	selector := NewSelector(local, nil)

	got := selector.Select([]string{TermDMI}, Platform{OS: "windows", NativeAvailable: true})
	if got != local {
		t.Errorf("Expected local runner, got %s", BackendName(got))
	}
}

func TestCapabilities_Unsupported(t *testing.T) {
	caps := DefaultCapabilities()
	got := caps.Unsupported("windows", []string{TermDMID2d, TermExchange, TermDMI})
	want := []string{TermDMI, TermDMID2d}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Unsupported() = %v, want %v", got, want)
	}
	if missing := caps.Unsupported("linux", []string{TermDMI}); len(missing) != 0 {
		t.Errorf("Expected linux to support DMI, missing %v", missing)
	}
}

func TestDetectPlatform(t *testing.T) {
	p := DetectPlatform([]string{"sh"})
	if !p.NativeAvailable {
		t.Error("Expected sh to be found")
	}
	if p := DetectPlatform([]string{"qmag-definitely-not-installed"}); p.NativeAvailable {
		t.Error("Expected missing command to be unavailable")
	}
}
