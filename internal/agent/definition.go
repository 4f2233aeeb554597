// Package agent holds the typed, immutable description of one coding agent
// as loaded from an agent.toml descriptor.
package agent

import (
	"slices"
)

// DescriptorFile is the fixed file name the registry looks for in each
// agent directory.
const DescriptorFile = "agent.toml"

// Phase names one step of the agent session sequence.
type Phase string

const (
	PhaseInstall      Phase = "install"
	PhaseAuthenticate Phase = "authenticate"
	PhaseDeploy       Phase = "deploy"
)

// Phases lists the agent phases in execution order.
var Phases = []Phase{PhaseInstall, PhaseAuthenticate, PhaseDeploy}

// ScriptConfig is either an InlineScript or a FileScript. A nil ScriptConfig
// means the phase is absent.
type ScriptConfig interface {
	isScriptConfig()
}

// InlineScript carries the script body directly in the descriptor.
type InlineScript struct {
	Body string
}

// FileScript references a script file relative to the descriptor directory.
type FileScript struct {
	Path string
}

func (InlineScript) isScriptConfig() {}
func (FileScript) isScriptConfig()   {}

// Paths are relative to the VM user's home directory.
type Paths struct {
	ConfigDir     string
	ContextFile   string
	MCPConfigFile string
}

// Definition is one parsed agent descriptor. Values returned by the registry
// are copies; mutating them does not affect the registry.
type Definition struct {
	ID                     string
	Name                   string
	Description            string
	Command                string
	RequiresAuthentication bool
	// Capabilities is sorted and free of duplicates.
	Capabilities []string
	Paths        Paths

	Install      ScriptConfig
	Authenticate ScriptConfig
	Deploy       ScriptConfig

	// Origin is the directory the descriptor was loaded from. Script files
	// are resolved under it. Empty for definitions parsed from bytes.
	Origin string
}

// Script returns the script configured for the given phase, or nil.
func (d Definition) Script(p Phase) ScriptConfig {
	switch p {
	case PhaseInstall:
		return d.Install
	case PhaseAuthenticate:
		return d.Authenticate
	case PhaseDeploy:
		return d.Deploy
	}
	return nil
}

// Clone returns a deep copy of d.
func (d Definition) Clone() Definition {
	out := d
	out.Capabilities = slices.Clone(d.Capabilities)
	return out
}

// WithOrigin returns a copy of d with Origin set.
func (d Definition) WithOrigin(dir string) Definition {
	out := d.Clone()
	out.Origin = dir
	return out
}

// ScriptName returns a short label for diagnostics: "<inline>" or the file path.
func ScriptName(sc ScriptConfig) string {
	switch s := sc.(type) {
	case InlineScript:
		return "<inline>"
	case FileScript:
		return s.Path
	}
	return ""
}
