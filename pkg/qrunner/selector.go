package qrunner

import (
	"os/exec"
	"runtime"
	"sort"
	"strings"
)

// Energy and dynamics term names as understood by the selector. Names are
// matched case-insensitively.
const (
	TermExchange           = "exchange"
	TermZeeman             = "zeeman"
	TermDemag              = "demag"
	TermUniaxialAnisotropy = "uniaxialanisotropy"
	TermCubicAnisotropy    = "cubicanisotropy"
	TermDMI                = "dmi"
	TermDMICnv             = "dmi_cnv"
	TermDMIT               = "dmi_t"
	TermDMID2d             = "dmi_d2d"
	TermDMID2d111          = "dmi_d2d_111"
	TermPrecession         = "precession"
	TermDamping            = "damping"
	TermSTT                = "stt"
)

// Platform describes the host the driver runs on.
type Platform struct {
	OS              string // runtime.GOOS value
	NativeAvailable bool   // whether the native OOMMF command can be found
}

// DetectPlatform inspects the current host for the given native command.
func DetectPlatform(command []string) Platform {
	p := Platform{OS: runtime.GOOS}
	if len(command) > 0 {
		if _, err := exec.LookPath(command[0]); err == nil {
			p.NativeAvailable = true
		}
	}
	return p
}

// Capabilities maps an OS to the terms its native OOMMF build supports.
// An OS missing from the map supports only the base terms.
type Capabilities map[string][]string

var baseTerms = []string{
	TermExchange, TermZeeman, TermDemag, TermUniaxialAnisotropy, TermCubicAnisotropy,
	TermPrecession, TermDamping, TermSTT,
}

var dmiTerms = []string{TermDMI, TermDMICnv, TermDMIT, TermDMID2d, TermDMID2d111}

// DefaultCapabilities is the built-in matrix: linux and darwin builds carry
// the DMI extensions, the windows build does not.
func DefaultCapabilities() Capabilities {
	full := append(append([]string{}, baseTerms...), dmiTerms...)
	return Capabilities{
		"linux":   full,
		"darwin":  full,
		"windows": append([]string{}, baseTerms...),
	}
}

// Supports reports whether the native build on os covers every term.
func (c Capabilities) Supports(os string, terms []string) bool {
	supported, ok := c[os]
	if !ok {
		supported = baseTerms
	}
	set := make(map[string]struct{}, len(supported))
	for _, t := range supported {
		set[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range terms {
		if _, ok := set[strings.ToLower(t)]; !ok {
			return false
		}
	}
	return true
}

// Unsupported lists the terms the native build on os lacks.
func (c Capabilities) Unsupported(os string, terms []string) []string {
	var missing []string
	for _, t := range terms {
		if !c.Supports(os, []string{t}) {
			missing = append(missing, t)
		}
	}
	sort.Strings(missing)
	return missing
}

// Selector picks a default runner when the caller does not pass one.
type Selector struct {
	Local        Runner
	Container    Runner
	Capabilities Capabilities
}

// NewSelector creates a selector using DefaultCapabilities.
func NewSelector(local, container Runner) *Selector {
	return &Selector{
		Local:        local,
		Container:    container,
		Capabilities: DefaultCapabilities(),
	}
}

// Select returns the local runner when the native backend exists and
// supports every requested term, otherwise the container runner. The same
// inputs always yield the same runner instance.
func (s *Selector) Select(terms []string, platform Platform) Runner {
	caps := s.Capabilities
	if caps == nil {
		caps = DefaultCapabilities()
	}
	if s.Local != nil && platform.NativeAvailable && caps.Supports(platform.OS, terms) {
		return s.Local
	}
	if s.Container != nil {
		return s.Container
	}
	return s.Local
}
