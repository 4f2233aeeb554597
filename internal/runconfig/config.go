// Package runconfig assembles the per-session VM request from CLI-shaped input.
package runconfig

import (
	"fmt"
)

// MountMode is ro or rw.
type MountMode string

const (
	ModeRO MountMode = "ro"
	ModeRW MountMode = "rw"
)

// DefaultMountRoot is where mounts land in the VM when no VM path is given.
const DefaultMountRoot = "/mnt"

// Mount shares a host directory with the VM.
type Mount struct {
	HostPath string
	VMPath   string
	Mode     MountMode
}

func (m Mount) Writable() bool { return m.Mode == ModeRW }

func (m Mount) String() string {
	return fmt.Sprintf("%s:%s:%s", m.HostPath, m.VMPath, m.Mode)
}

// EnvVar is one KEY=VALUE pair. Keys are case-sensitive.
type EnvVar struct {
	Key   string
	Value string
}

// Config is the typed session request. Sizing fields are zero when the
// backend default should be used.
type Config struct {
	DiskGB   int
	MemoryGB int
	CPUs     int

	ForwardSSHAgent bool
	Mounts          []Mount
	Env             []EnvVar
	EnvFiles        []string
	InheritEnv      []string
	RuntimeScripts  []string
	AutoSetup       bool
}

// Flags is the raw, string-shaped input collected by the CLI. Nil sizing
// fields were not given on the command line.
type Flags struct {
	DiskGB   *int
	MemoryGB *int
	CPUs     *int

	ForwardSSHAgent bool
	Mounts          []string
	Env             []string
	EnvFiles        []string
	InheritEnv      []string
	RuntimeScripts  []string
	AutoSetup       bool
}

// Error reports invalid runtime configuration input.
type Error struct {
	Field  string
	Value  string
	Reason string
	// File and Line are set for env file parse errors.
	File string
	Line int
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
	}
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Assemble validates raw flags and returns the typed config. Env files are
// not read here; see MergeEnv.
func Assemble(f Flags) (Config, error) {
	cfg := Config{
		ForwardSSHAgent: f.ForwardSSHAgent,
		AutoSetup:       f.AutoSetup,
		EnvFiles:        append([]string(nil), f.EnvFiles...),
		RuntimeScripts:  append([]string(nil), f.RuntimeScripts...),
	}

	for _, s := range []struct {
		field string
		value *int
		dst   *int
	}{
		{"disk", f.DiskGB, &cfg.DiskGB},
		{"memory", f.MemoryGB, &cfg.MemoryGB},
		{"cpus", f.CPUs, &cfg.CPUs},
	} {
		if err := checkSize(s.field, s.value); err != nil {
			return Config{}, err
		}
		if s.value != nil {
			*s.dst = *s.value
		}
	}

	for _, spec := range f.Mounts {
		m, err := ParseMount(spec)
		if err != nil {
			return Config{}, err
		}
		cfg.Mounts = append(cfg.Mounts, m)
	}

	for _, kv := range f.Env {
		v, err := ParseEnvVar(kv)
		if err != nil {
			return Config{}, err
		}
		cfg.Env = append(cfg.Env, v)
	}

	seen := make(map[string]bool)
	for _, key := range f.InheritEnv {
		if !keyPattern.MatchString(key) {
			return Config{}, &Error{Field: "inherit-env", Value: key, Reason: "not a valid variable name"}
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		cfg.InheritEnv = append(cfg.InheritEnv, key)
	}

	return cfg, nil
}

func checkSize(field string, v *int) error {
	if v != nil && *v < 1 {
		return &Error{Field: field, Value: fmt.Sprint(*v), Reason: "must be at least 1"}
	}
	return nil
}
