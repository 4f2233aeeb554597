// Package registry discovers agent descriptors on disk and indexes them by id.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/mateo/agentbox/internal/agent"
	"github.com/mateo/agentbox/internal/logger"
	"github.com/mateo/agentbox/internal/script"
)

// Root is one search directory. Roots passed to Load are in priority order:
// the first root that defines an id wins.
type Root struct {
	Name string // label for diagnostics, e.g. "user" or "builtin"
	Dir  string
}

// NotFoundError is returned by Get for unknown ids.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("agent %q not found", e.ID)
}

// Registry is an immutable index of agent definitions. It is safe for
// concurrent readers once Load returns.
type Registry struct {
	agents map[string]agent.Definition
	ids    []string
	diags  []Diagnostic
}

// Load walks the roots and builds a registry. Discovery problems never abort
// the load; they are reported through Diagnostics.
func Load(roots []Root, log *logger.Logger) *Registry {
	log = logger.OrNop(log)
	r := &Registry{agents: make(map[string]agent.Definition)}
	c := &collector{log: log}

	for _, root := range roots {
		r.discover(root, c)
	}

	for id := range r.agents {
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	r.diags = c.items

	log.Debug("Agent registry loaded", zap.Int("agents", len(r.ids)), zap.Int("diagnostics", len(r.diags)))
	return r
}

func (r *Registry) discover(root Root, c *collector) {
	entries, err := os.ReadDir(root.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		c.errorf(root.Dir, &DiscoveryIOError{Root: root.Dir, Err: err})
		return
	}

	// os.ReadDir sorts by name, so discovery order within a root is stable.
	for _, entry := range entries {
		dir := filepath.Join(root.Dir, entry.Name())
		if entry.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(dir)
			if err != nil {
				c.errorf(dir, &DiscoveryIOError{Root: root.Dir, Err: err})
				continue
			}
			if !info.IsDir() {
				continue
			}
		} else if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, agent.DescriptorFile)
		if _, err := os.Stat(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.errorf(path, &DiscoveryIOError{Root: root.Dir, Err: err})
			}
			continue
		}

		def, err := agent.ParseFile(path)
		if err != nil {
			c.errorf(path, err)
			continue
		}
		if err := checkScripts(def); err != nil {
			c.errorf(path, err)
			continue
		}

		if existing, ok := r.agents[def.ID]; ok {
			c.warnf(path, &DuplicateIDError{ID: def.ID, WinningOrigin: existing.Origin, LosingOrigin: def.Origin})
			continue
		}
		r.agents[def.ID] = def
		c.log.Debug("Discovered agent", zap.String("agent_id", def.ID), zap.String("root", root.Name), zap.String("origin", def.Origin))
	}
}

// checkScripts resolves file scripts once so broken references surface at
// startup instead of mid-session.
func checkScripts(def agent.Definition) error {
	for _, p := range agent.Phases {
		sc := def.Script(p)
		if _, ok := sc.(agent.FileScript); !ok {
			continue
		}
		if _, err := script.Resolve(sc, def.Origin); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Get returns a copy of the definition with the given id.
func (r *Registry) Get(id string) (agent.Definition, error) {
	def, ok := r.agents[id]
	if !ok {
		return agent.Definition{}, &NotFoundError{ID: id}
	}
	return def.Clone(), nil
}

// List returns copies of all definitions ordered by id.
func (r *Registry) List() []agent.Definition {
	out := make([]agent.Definition, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.agents[id].Clone())
	}
	return out
}

// Diagnostics returns the problems recorded during discovery, in the order
// they were found.
func (r *Registry) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), r.diags...)
}

// HasErrors reports whether any diagnostic has error severity.
func (r *Registry) HasErrors() bool {
	for _, d := range r.diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
