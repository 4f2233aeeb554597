package registry

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mateo/agentbox/internal/logger"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic is one problem found while discovering agents.
type Diagnostic struct {
	Path     string
	Severity Severity
	Err      error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %v", d.Severity, d.Path, d.Err)
}

// DuplicateIDError is recorded when a lower-priority root defines an id that
// is already registered.
type DuplicateIDError struct {
	ID            string
	WinningOrigin string
	LosingOrigin  string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate agent id %q: using %s, ignoring %s", e.ID, e.WinningOrigin, e.LosingOrigin)
}

// DiscoveryIOError is recorded when a root or agent directory cannot be read.
type DiscoveryIOError struct {
	Root string
	Err  error
}

func (e *DiscoveryIOError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Root, e.Err)
}

func (e *DiscoveryIOError) Unwrap() error { return e.Err }

type collector struct {
	log   *logger.Logger
	items []Diagnostic
}

func (c *collector) warnf(path string, err error) {
	c.items = append(c.items, Diagnostic{Path: path, Severity: SeverityWarning, Err: err})
	c.log.Warn("Agent discovery warning", zap.String("path", path), zap.Error(err))
}

func (c *collector) errorf(path string, err error) {
	c.items = append(c.items, Diagnostic{Path: path, Severity: SeverityError, Err: err})
	c.log.Warn("Skipping agent", zap.String("path", path), zap.Error(err))
}
