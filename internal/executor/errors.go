package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mateo/agentbox/internal/agent"
	"github.com/mateo/agentbox/internal/registry"
	"github.com/mateo/agentbox/internal/runconfig"
	"github.com/mateo/agentbox/internal/script"
)

// ErrCancelled is returned when the caller's context ends a session.
var ErrCancelled = errors.New("session cancelled")

// CapabilityMismatchError lists the required tags the VM does not advertise.
type CapabilityMismatchError struct {
	Missing []string
}

func (e *CapabilityMismatchError) Error() string {
	return fmt.Sprintf("VM is missing required capabilities: %s", strings.Join(e.Missing, ", "))
}

// AuthRequiredButMissingError is returned at bind time when an agent needs
// authentication but has no authenticate script.
type AuthRequiredButMissingError struct {
	AgentID string
}

func (e *AuthRequiredButMissingError) Error() string {
	return fmt.Sprintf("agent %q requires authentication but defines no authenticate script", e.AgentID)
}

// PhaseError is a non-zero exit from an agent phase script.
type PhaseError struct {
	Phase    agent.Phase
	ExitCode int
	LogTail  string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed with exit code %d", e.Phase, e.ExitCode)
}

// PhaseTimeoutError is returned when a phase outlives its deadline.
type PhaseTimeoutError struct {
	Phase agent.Phase
}

func (e *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out", e.Phase)
}

// Is makes a timeout match ErrCancelled as well; a deadline is a cancel.
func (e *PhaseTimeoutError) Is(target error) bool { return target == ErrCancelled }

// RuntimeScriptError is a non-zero exit from a runtime script.
type RuntimeScriptError struct {
	Name     string
	ExitCode int
	LogTail  string
}

func (e *RuntimeScriptError) Error() string {
	return fmt.Sprintf("runtime script %s failed with exit code %d", e.Name, e.ExitCode)
}

// Exit codes surfaced by the CLI.
const (
	ExitReady               = 0
	ExitFailure             = 1
	ExitCapabilityMismatch  = 2
	ExitInstallFailed       = 3
	ExitAuthFailed          = 4
	ExitDeployFailed        = 5
	ExitPhaseTimeout        = 6
	ExitCancelled           = 7
	ExitRuntimeScriptFailed = 8
	ExitBadDescriptor       = 10
	ExitBadRuntimeConfig    = 11
)

// ExitCode maps a session or setup error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitReady
	}

	var (
		capErr     *CapabilityMismatchError
		authErr    *AuthRequiredButMissingError
		phaseErr   *PhaseError
		timeoutErr *PhaseTimeoutError
		rsErr      *RuntimeScriptError
		cfgErr     *runconfig.Error
		resolveErr *script.ResolveError
		notFound   *registry.NotFoundError
		schemaErr  *agent.SchemaViolationError
		unknownErr *agent.UnknownKeyError
		ambErr     *agent.ScriptConfigAmbiguousError
		decodeErr  *agent.DecodeError
	)

	switch {
	case errors.As(err, &capErr):
		return ExitCapabilityMismatch
	case errors.As(err, &phaseErr):
		switch phaseErr.Phase {
		case agent.PhaseInstall:
			return ExitInstallFailed
		case agent.PhaseAuthenticate:
			return ExitAuthFailed
		case agent.PhaseDeploy:
			return ExitDeployFailed
		}
		return ExitFailure
	case errors.As(err, &timeoutErr):
		return ExitPhaseTimeout
	case errors.Is(err, ErrCancelled):
		return ExitCancelled
	case errors.As(err, &rsErr):
		return ExitRuntimeScriptFailed
	case errors.As(err, &cfgErr):
		return ExitBadRuntimeConfig
	case errors.As(err, &authErr),
		errors.As(err, &resolveErr),
		errors.As(err, &notFound),
		errors.As(err, &schemaErr),
		errors.As(err, &unknownErr),
		errors.As(err, &ambErr),
		errors.As(err, &decodeErr):
		return ExitBadDescriptor
	}
	return ExitFailure
}
