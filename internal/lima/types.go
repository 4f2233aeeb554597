package lima

import (
	"io"
	"time"
)

type InstanceStatus string

const (
	StatusRunning InstanceStatus = "Running"
	StatusStopped InstanceStatus = "Stopped"
)

// Instance is one entry of `limactl list --json`. Memory and Disk are bytes.
type Instance struct {
	Name   string         `json:"name"`
	Status InstanceStatus `json:"status"`
	CPUs   int            `json:"cpus"`
	Memory int64          `json:"memory"`
	Disk   int64          `json:"disk"`
}

type CreateOptions struct {
	Name string
	// Template is the rendered lima.yaml.
	Template string
	Start    bool
	Timeout  time.Duration
}

type CloneOptions struct {
	Source string
	Target string
	// Set holds yq expressions applied to the clone's lima.yaml, e.g.
	// `.cpus = 4`.
	Set     []string
	Start   bool
	Timeout time.Duration
}

// CopyOptions uploads a host file into an instance.
type CopyOptions struct {
	Instance  string
	LocalPath string
	VMPath    string
}

// ShellOptions runs a short command and captures its stdout. Stderr is
// folded into the error when the command fails.
type ShellOptions struct {
	Instance string
	Command  string
	Args     []string
	Timeout  time.Duration
}

// ExecOptions runs a streaming command through limactl shell.
type ExecOptions struct {
	Instance string
	// Workdir is created when missing. Relative paths resolve against the
	// VM user's home.
	Workdir string
	Env     []string
	Args    []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}
