// Package vm defines the contract between the executor and a VM backend.
package vm

import (
	"context"
	"io"
	"io/fs"
)

// ExecRequest describes one command run inside the VM.
type ExecRequest struct {
	// Cmdline is executed as argv; Cmdline[0] is looked up on the VM PATH.
	Cmdline []string
	// Env is a list of KEY=VALUE pairs added to the VM login environment.
	Env []string
	// Cwd is relative to the VM user's home directory. Empty means home.
	Cwd string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Runtime is a provisioned VM as seen by the executor.
type Runtime interface {
	// Capabilities lists the capability tags this VM advertises.
	Capabilities(ctx context.Context) ([]string, error)
	// PutFile uploads data to an absolute path inside the VM.
	PutFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error
	// Exec runs a command and returns its exit status. A non-nil error means
	// the command could not be run or its channel broke, not that it exited
	// non-zero.
	Exec(ctx context.Context, req ExecRequest) (int, error)
	// TerminateCurrent asks the in-flight Exec, if any, to stop. Best effort.
	TerminateCurrent(ctx context.Context) error
}
