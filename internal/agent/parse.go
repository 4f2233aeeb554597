package agent

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var (
	// Ids name script directories and CLI arguments, so no separators or
	// whitespace.
	idPattern         = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	capabilityPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// document mirrors the on-disk layout of agent.toml.
type document struct {
	Agent        agentTable    `toml:"agent"`
	Requires     requiresTable `toml:"requires,omitempty"`
	Paths        pathsTable    `toml:"paths"`
	Install      *scriptTable  `toml:"install,omitempty"`
	Authenticate *scriptTable  `toml:"authenticate,omitempty"`
	Deploy       *scriptTable  `toml:"deploy,omitempty"`
}

type agentTable struct {
	ID                     *string `toml:"id"`
	Name                   *string `toml:"name"`
	Description            *string `toml:"description"`
	Command                *string `toml:"command"`
	RequiresAuthentication bool    `toml:"requires_authentication,omitempty"`
}

type requiresTable struct {
	Capabilities []string `toml:"capabilities,omitempty"`
}

type pathsTable struct {
	ConfigDir     *string `toml:"config_dir"`
	ContextFile   *string `toml:"context_file"`
	MCPConfigFile *string `toml:"mcp_config_file"`
}

type scriptTable struct {
	Inline *string `toml:"inline,multiline,omitempty"`
	File   *string `toml:"file,omitempty"`
}

// ParseFile reads and parses one descriptor. The returned definition has its
// Origin set to the absolute directory containing path.
func ParseFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("reading descriptor: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return Definition{}, err
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Definition{}, fmt.Errorf("resolving descriptor directory: %w", err)
	}
	def.Origin = dir
	return def, nil
}

// Parse decodes a descriptor document. Unknown keys are rejected.
func Parse(data []byte) (Definition, error) {
	var doc document
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Definition{}, translateDecodeError(err)
	}
	return doc.definition()
}

func translateDecodeError(err error) error {
	var strict *toml.StrictMissingError
	if errors.As(err, &strict) {
		keys := make([]string, 0, len(strict.Errors))
		for _, e := range strict.Errors {
			keys = append(keys, strings.Join(e.Key(), "."))
		}
		return &UnknownKeyError{Keys: keys}
	}
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		row, col := derr.Position()
		return &DecodeError{Line: row, Column: col, Err: err}
	}
	return &DecodeError{Err: err}
}

func (doc *document) definition() (Definition, error) {
	var def Definition
	var err error

	if def.ID, err = required("agent.id", doc.Agent.ID); err != nil {
		return Definition{}, err
	}
	if !idPattern.MatchString(def.ID) {
		return Definition{}, &SchemaViolationError{Field: "agent.id", Reason: ReasonInvalid, Detail: "must start with a letter or digit and contain only letters, digits, '.', '_' or '-'"}
	}
	if def.Name, err = required("agent.name", doc.Agent.Name); err != nil {
		return Definition{}, err
	}
	if doc.Agent.Description == nil {
		return Definition{}, &SchemaViolationError{Field: "agent.description", Reason: ReasonMissing}
	}
	def.Description = *doc.Agent.Description
	if def.Command, err = required("agent.command", doc.Agent.Command); err != nil {
		return Definition{}, err
	}
	def.RequiresAuthentication = doc.Agent.RequiresAuthentication

	if def.Capabilities, err = normalizeCapabilities(doc.Requires.Capabilities); err != nil {
		return Definition{}, err
	}

	if def.Paths.ConfigDir, err = relativePath("paths.config_dir", doc.Paths.ConfigDir); err != nil {
		return Definition{}, err
	}
	if def.Paths.ContextFile, err = relativePath("paths.context_file", doc.Paths.ContextFile); err != nil {
		return Definition{}, err
	}
	if def.Paths.MCPConfigFile, err = relativePath("paths.mcp_config_file", doc.Paths.MCPConfigFile); err != nil {
		return Definition{}, err
	}

	if def.Install, err = doc.Install.scriptConfig("install"); err != nil {
		return Definition{}, err
	}
	if def.Authenticate, err = doc.Authenticate.scriptConfig("authenticate"); err != nil {
		return Definition{}, err
	}
	if def.Deploy, err = doc.Deploy.scriptConfig("deploy"); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func required(field string, v *string) (string, error) {
	if v == nil {
		return "", &SchemaViolationError{Field: field, Reason: ReasonMissing}
	}
	if strings.TrimSpace(*v) == "" {
		return "", &SchemaViolationError{Field: field, Reason: ReasonEmpty}
	}
	return *v, nil
}

func relativePath(field string, v *string) (string, error) {
	p, err := required(field, v)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "~") {
		return "", &SchemaViolationError{Field: field, Reason: ReasonInvalid, Detail: "must be relative to the home directory"}
	}
	return p, nil
}

func normalizeCapabilities(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	for _, c := range in {
		if !capabilityPattern.MatchString(c) {
			return nil, &SchemaViolationError{Field: "requires.capabilities", Reason: ReasonInvalid, Detail: fmt.Sprintf("%q is not a kebab-case tag", c)}
		}
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (t *scriptTable) scriptConfig(field string) (ScriptConfig, error) {
	if t == nil {
		return nil, nil
	}
	switch {
	case t.Inline != nil && t.File != nil:
		return nil, &ScriptConfigAmbiguousError{Field: field, Both: true}
	case t.Inline != nil:
		return InlineScript{Body: *t.Inline}, nil
	case t.File != nil:
		if strings.TrimSpace(*t.File) == "" {
			return nil, &SchemaViolationError{Field: field + ".file", Reason: ReasonEmpty}
		}
		return FileScript{Path: *t.File}, nil
	default:
		return nil, &ScriptConfigAmbiguousError{Field: field}
	}
}

// Marshal renders d in canonical descriptor form. Origin is not part of the
// document and is dropped.
func Marshal(d Definition) ([]byte, error) {
	doc := document{
		Agent: agentTable{
			ID:                     ptr(d.ID),
			Name:                   ptr(d.Name),
			Description:            ptr(d.Description),
			Command:                ptr(d.Command),
			RequiresAuthentication: d.RequiresAuthentication,
		},
		Requires: requiresTable{Capabilities: d.Capabilities},
		Paths: pathsTable{
			ConfigDir:     ptr(d.Paths.ConfigDir),
			ContextFile:   ptr(d.Paths.ContextFile),
			MCPConfigFile: ptr(d.Paths.MCPConfigFile),
		},
		Install:      toScriptTable(d.Install),
		Authenticate: toScriptTable(d.Authenticate),
		Deploy:       toScriptTable(d.Deploy),
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling descriptor: %w", err)
	}
	return data, nil
}

func toScriptTable(sc ScriptConfig) *scriptTable {
	switch s := sc.(type) {
	case InlineScript:
		return &scriptTable{Inline: ptr(s.Body)}
	case FileScript:
		return &scriptTable{File: ptr(s.Path)}
	}
	return nil
}

func ptr(s string) *string { return &s }
