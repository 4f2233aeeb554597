// Package agents ships the built-in agent descriptors.
package agents

import "embed"

// Builtin holds one directory per agent, each with an agent.toml.
//
//go:embed claude opencode
var Builtin embed.FS
