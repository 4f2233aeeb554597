package runconfig

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LookupFunc reads a host environment variable.
type LookupFunc func(key string) (string, bool)

// LoadEnvFile reads KEY=VALUE lines. Blank lines and lines starting with '#'
// are skipped. The first bad line fails the whole file.
func LoadEnvFile(path string) ([]EnvVar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Field: "env-file", Value: path, Reason: err.Error()}
	}
	defer f.Close()

	var vars []EnvVar
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSuffix(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		v, err := ParseEnvVar(text)
		if err != nil {
			return nil, &Error{Field: "env-file", Value: text, Reason: err.(*Error).Reason, File: path, Line: line}
		}
		vars = append(vars, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Field: "env-file", Value: path, Reason: fmt.Sprintf("read: %v", err), File: path, Line: line}
	}
	return vars, nil
}

// MergeEnv builds the session environment: inherited host variables, then
// env files in order, then explicit values. The last writer wins; each key
// keeps the position of its first appearance. Inherited keys missing from
// the host are skipped.
func MergeEnv(cfg Config, lookup LookupFunc) ([]EnvVar, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var m envMap
	for _, key := range cfg.InheritEnv {
		if v, ok := lookup(key); ok {
			m.set(key, v)
		}
	}
	for _, path := range cfg.EnvFiles {
		vars, err := LoadEnvFile(path)
		if err != nil {
			return nil, err
		}
		for _, v := range vars {
			m.set(v.Key, v.Value)
		}
	}
	for _, v := range cfg.Env {
		m.set(v.Key, v.Value)
	}
	return m.vars, nil
}

type envMap struct {
	index map[string]int
	vars  []EnvVar
}

func (m *envMap) set(key, value string) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[key]; ok {
		m.vars[i].Value = value
		return
	}
	m.index[key] = len(m.vars)
	m.vars = append(m.vars, EnvVar{Key: key, Value: value})
}

// Environ renders vars as KEY=VALUE strings.
func Environ(vars []EnvVar) []string {
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		out = append(out, v.Key+"="+v.Value)
	}
	return out
}
