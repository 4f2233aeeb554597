// Package lima drives limactl and adapts a Lima instance to vm.Runtime.
package lima

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ExecWaitDelay is how long Exec waits after SIGTERM before killing limactl.
const ExecWaitDelay = 5 * time.Second

type Client interface {
	Create(ctx context.Context, opts CreateOptions) error
	Clone(ctx context.Context, opts CloneOptions) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Delete(ctx context.Context, name string, force bool) error
	List(ctx context.Context) ([]Instance, error)
	Get(ctx context.Context, name string) (*Instance, error)
	Shell(ctx context.Context, opts ShellOptions) (string, error)
	Exec(ctx context.Context, opts ExecOptions) (int, error)
	Copy(ctx context.Context, opts CopyOptions) error
}

// NotFoundError is returned by Get for an unknown instance.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("instance %q not found", e.Name)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

type client struct {
	limactlPath string
}

func NewClient() (Client, error) {
	path, err := exec.LookPath("limactl")
	if err != nil {
		return nil, fmt.Errorf("limactl not found in PATH: %w", err)
	}
	return &client{limactlPath: path}, nil
}

func (c *client) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.limactlPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("limactl %s failed: %w\nstderr: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

func (c *client) Create(ctx context.Context, opts CreateOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{"create", "--tty=false"}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.Template != "" {
		args = append(args, opts.Template)
	}

	if _, err := c.run(ctx, args...); err != nil {
		return err
	}
	if opts.Start {
		return c.Start(ctx, opts.Name)
	}
	return nil
}

func (c *client) Clone(ctx context.Context, opts CloneOptions) error {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if _, err := c.run(ctx, cloneArgs(opts)...); err != nil {
		return err
	}
	if opts.Start {
		return c.Start(ctx, opts.Target)
	}
	return nil
}

func cloneArgs(opts CloneOptions) []string {
	args := []string{"clone", "--tty=false"}
	for _, expr := range opts.Set {
		args = append(args, "--set", expr)
	}
	return append(args, opts.Source, opts.Target)
}

func (c *client) Start(ctx context.Context, name string) error {
	_, err := c.run(ctx, "start", "--tty=false", name)
	return err
}

func (c *client) Stop(ctx context.Context, name string) error {
	_, err := c.run(ctx, "stop", name)
	return err
}

func (c *client) Delete(ctx context.Context, name string, force bool) error {
	args := []string{"delete", name}
	if force {
		args = append(args, "--force")
	}
	_, err := c.run(ctx, args...)
	return err
}

func (c *client) List(ctx context.Context) ([]Instance, error) {
	output, err := c.run(ctx, "list", "--json")
	if err != nil {
		return nil, err
	}
	return parseList(output), nil
}

// parseList reads limactl's one-object-per-line JSON. Malformed lines are
// skipped.
func parseList(output string) []Instance {
	var instances []Instance
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		var inst Instance
		if err := json.Unmarshal([]byte(line), &inst); err != nil {
			continue
		}
		instances = append(instances, inst)
	}
	return instances
}

func (c *client) Get(ctx context.Context, name string) (*Instance, error) {
	instances, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		if inst.Name == name {
			return &inst, nil
		}
	}
	return nil, &NotFoundError{Name: name}
}

func (c *client) Shell(ctx context.Context, opts ShellOptions) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{"shell", opts.Instance}
	if opts.Command != "" {
		args = append(args, "--", opts.Command)
		args = append(args, opts.Args...)
	}
	return c.run(ctx, args...)
}

// Exec streams a command's stdio and returns its exit status. Cancelling ctx
// sends SIGTERM to limactl, which closes the SSH session.
func (c *client) Exec(ctx context.Context, opts ExecOptions) (int, error) {
	if len(opts.Args) == 0 {
		return -1, errors.New("exec: empty command")
	}
	cmd := exec.CommandContext(ctx, c.limactlPath, execArgs(opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = ExecWaitDelay

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}
	if ctx.Err() != nil {
		return -1, fmt.Errorf("limactl shell %s: %w", opts.Instance, ctx.Err())
	}
	return -1, fmt.Errorf("limactl shell %s: %w", opts.Instance, err)
}

// workdirScript enters $0 (relative to $HOME, created when missing) and execs
// the remaining arguments.
const workdirScript = `cd "$HOME" && mkdir -p -- "$0" && cd -- "$0" && exec "$@"`

func execArgs(opts ExecOptions) []string {
	workdir := opts.Workdir
	if workdir == "" {
		workdir = "."
	}
	args := []string{"shell", opts.Instance, "--", "/bin/sh", "-c", workdirScript, workdir}
	if len(opts.Env) > 0 {
		args = append(args, "env")
		args = append(args, opts.Env...)
	}
	return append(args, opts.Args...)
}

func (c *client) Copy(ctx context.Context, opts CopyOptions) error {
	_, err := c.run(ctx, "copy", opts.LocalPath, opts.Instance+":"+opts.VMPath)
	return err
}
