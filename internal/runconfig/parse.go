package runconfig

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseMount parses HOST[:VM[:MODE]]. Relative host paths are made absolute
// against the working directory. When the spec holds more than two colons,
// the last token must be a mode and the remainder splits at its last colon.
func ParseMount(spec string) (Mount, error) {
	if spec == "" {
		return Mount{}, &Error{Field: "mount", Reason: "empty mount spec"}
	}

	host, vm, mode := spec, "", ModeRW
	parts := strings.Split(spec, ":")
	switch {
	case len(parts) == 1:
	case len(parts) == 2:
		host = parts[0]
		if m, ok := parseMode(parts[1]); ok {
			mode = m
		} else {
			vm = parts[1]
		}
	default:
		m, ok := parseMode(parts[len(parts)-1])
		if !ok {
			return Mount{}, &Error{Field: "mount", Value: spec, Reason: "mode must be ro or rw"}
		}
		mode = m
		rest := strings.Join(parts[:len(parts)-1], ":")
		i := strings.LastIndex(rest, ":")
		host, vm = rest[:i], rest[i+1:]
	}

	if host == "" {
		return Mount{}, &Error{Field: "mount", Value: spec, Reason: "host path is empty"}
	}
	abs, err := filepath.Abs(host)
	if err != nil {
		return Mount{}, &Error{Field: "mount", Value: spec, Reason: err.Error()}
	}

	if vm == "" {
		vm = path.Join(DefaultMountRoot, filepath.Base(abs))
	}
	if !path.IsAbs(vm) {
		return Mount{}, &Error{Field: "mount", Value: spec, Reason: "VM path must be absolute"}
	}

	return Mount{HostPath: abs, VMPath: path.Clean(vm), Mode: mode}, nil
}

func parseMode(s string) (MountMode, bool) {
	switch MountMode(s) {
	case ModeRO:
		return ModeRO, true
	case ModeRW:
		return ModeRW, true
	}
	return "", false
}

// ParseEnvVar parses KEY=VALUE. Everything after the first '=' is the value,
// taken verbatim.
func ParseEnvVar(s string) (EnvVar, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return EnvVar{}, &Error{Field: "env", Value: s, Reason: "expected KEY=VALUE"}
	}
	if !keyPattern.MatchString(key) {
		return EnvVar{}, &Error{Field: "env", Value: s, Reason: "key must match [A-Za-z_][A-Za-z0-9_]*"}
	}
	return EnvVar{Key: key, Value: value}, nil
}
