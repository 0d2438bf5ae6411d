package qdriver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/quatton/qmag/pkg/qrunner"
)

// System is a simulation ready to run: a MIF script plus any data files it
// reads, and the energy terms it uses.
type System struct {
	Name   string            // Directory and script basename
	Script string            // MIF 2.1 source, written as <Name>.mif
	Terms  []string          // Energy and dynamics terms, used for runner selection
	Files  map[string][]byte // Extra input files such as OVF fields
	Args   []string          // Defaults to ["boxsi", "<Name>.mif"]
	Env    map[string]string // Extra environment for the run
}

// ScriptName is the file the MIF script is written to.
func (s System) ScriptName() string {
	return s.Name + ".mif"
}

func (s System) Validate() error {
	if s.Name == "" {
		return errors.New("system name is required")
	}
	if err := qrunner.ValidateFileName(s.Name); err != nil {
		return fmt.Errorf("system name: %w", err)
	}
	if s.Script == "" {
		return fmt.Errorf("system %s has no MIF script", s.Name)
	}
	for name := range s.Files {
		if err := qrunner.ValidateFileName(name); err != nil {
			return err
		}
		if name == s.ScriptName() {
			return fmt.Errorf("file %s would overwrite the MIF script", name)
		}
	}
	return nil
}

func (s System) args() []string {
	if len(s.Args) > 0 {
		return append([]string{}, s.Args...)
	}
	return []string{"boxsi", s.ScriptName()}
}

func (s System) inputs() []string {
	names := []string{s.ScriptName()}
	for name := range s.Files {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names
}
