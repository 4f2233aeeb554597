package lima

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/mateo/agentbox/internal/runconfig"
	"github.com/mateo/agentbox/internal/vm"
)

// Capability tags advertised by Lima instances.
const (
	CapLima          = "lima"
	CapMounts        = "mounts"
	CapSSHForwarding = "ssh-forwarding"
)

// Capabilities returns the sorted tags a session VM built from cfg offers.
func Capabilities(cfg runconfig.Config, extra []string) []string {
	caps := []string{CapLima}
	if len(cfg.Mounts) > 0 {
		caps = append(caps, CapMounts)
	}
	if cfg.ForwardSSHAgent {
		caps = append(caps, CapSSHForwarding)
	}
	caps = append(caps, extra...)
	slices.Sort(caps)
	return slices.Compact(caps)
}

// CloneSettings returns the yq expressions that apply cfg to a cloned
// instance. Mounts are appended to those of the base instance.
func CloneSettings(cfg runconfig.Config) ([]string, error) {
	var set []string
	if cfg.CPUs > 0 {
		set = append(set, fmt.Sprintf(".cpus = %d", cfg.CPUs))
	}
	if cfg.MemoryGB > 0 {
		set = append(set, fmt.Sprintf(`.memory = "%dGiB"`, cfg.MemoryGB))
	}
	if cfg.DiskGB > 0 {
		set = append(set, fmt.Sprintf(`.disk = "%dGiB"`, cfg.DiskGB))
	}
	if cfg.ForwardSSHAgent {
		set = append(set, ".ssh.forwardAgent = true")
	}
	if len(cfg.Mounts) > 0 {
		data, err := json.Marshal(templateMounts(cfg.Mounts))
		if err != nil {
			return nil, fmt.Errorf("encoding mounts: %w", err)
		}
		set = append(set, ".mounts += "+string(data))
	}
	return set, nil
}

// Runtime is one running Lima instance seen as a vm.Runtime.
type Runtime struct {
	client   Client
	instance string
	caps     []string

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ vm.Runtime = (*Runtime)(nil)

func NewRuntime(client Client, instance string, caps []string) *Runtime {
	return &Runtime{client: client, instance: instance, caps: slices.Clone(caps)}
}

func (r *Runtime) Instance() string { return r.instance }

func (r *Runtime) Capabilities(ctx context.Context) ([]string, error) {
	inst, err := r.client.Get(ctx, r.instance)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusRunning {
		return nil, fmt.Errorf("instance %s is %s, not running", r.instance, inst.Status)
	}
	return slices.Clone(r.caps), nil
}

func (r *Runtime) PutFile(ctx context.Context, target string, data []byte, mode fs.FileMode) error {
	tmp, err := os.CreateTemp("", "agentbox-upload-*")
	if err != nil {
		return fmt.Errorf("staging upload: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("staging upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("staging upload: %w", err)
	}

	if _, err := r.client.Shell(ctx, ShellOptions{
		Instance: r.instance,
		Command:  "mkdir",
		Args:     []string{"-p", path.Dir(target)},
		Timeout:  30 * time.Second,
	}); err != nil {
		return fmt.Errorf("creating %s: %w", path.Dir(target), err)
	}
	if err := r.client.Copy(ctx, CopyOptions{
		Instance:  r.instance,
		LocalPath: tmp.Name(),
		VMPath:    target,
	}); err != nil {
		return fmt.Errorf("copying %s: %w", target, err)
	}
	if _, err := r.client.Shell(ctx, ShellOptions{
		Instance: r.instance,
		Command:  "chmod",
		Args:     []string{fmt.Sprintf("%o", mode.Perm()), target},
		Timeout:  30 * time.Second,
	}); err != nil {
		return fmt.Errorf("chmod %s: %w", target, err)
	}
	return nil
}

// Exec runs one command at a time; TerminateCurrent stops it.
func (r *Runtime) Exec(ctx context.Context, req vm.ExecRequest) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	return r.client.Exec(ctx, ExecOptions{
		Instance: r.instance,
		Workdir:  req.Cwd,
		Env:      req.Env,
		Args:     req.Cmdline,
		Stdin:    req.Stdin,
		Stdout:   req.Stdout,
		Stderr:   req.Stderr,
	})
}

func (r *Runtime) TerminateCurrent(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}
