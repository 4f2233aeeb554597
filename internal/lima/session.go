package lima

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mateo/agentbox/internal/runconfig"
)

// ErrBaseMissing is returned by StartSession when the base instance does not
// exist yet.
var ErrBaseMissing = errors.New("base instance missing; run agentbox setup")

// SessionPrefix marks instances created by StartSession.
const SessionPrefix = "agentbox-session-"

// SessionName derives the instance name for a session id.
func SessionName(sessionID string) string {
	id := strings.ReplaceAll(sessionID, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return SessionPrefix + strings.ToLower(id)
}

// ListSessions returns the session instances, sorted by name.
func ListSessions(ctx context.Context, client Client) ([]Instance, error) {
	all, err := client.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Instance
	for _, inst := range all {
		if strings.HasPrefix(inst.Name, SessionPrefix) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// EnsureBase creates, provisions and stops the base instance unless it
// already exists. It reports whether an instance was created.
func EnsureBase(ctx context.Context, client Client, name string, cfg TemplateConfig, templatePath string) (bool, error) {
	if _, err := client.Get(ctx, name); err == nil {
		return false, nil
	} else if !IsNotFound(err) {
		return false, err
	}

	if err := RenderTemplate(cfg, templatePath); err != nil {
		return false, err
	}
	if err := client.Create(ctx, CreateOptions{
		Name:     name,
		Template: templatePath,
		Start:    true,
		Timeout:  20 * time.Minute,
	}); err != nil {
		return false, fmt.Errorf("creating base instance %s: %w", name, err)
	}
	// Clones need a stopped source.
	if err := client.Stop(ctx, name); err != nil {
		return true, fmt.Errorf("stopping base instance %s: %w", name, err)
	}
	return true, nil
}

type SessionOptions struct {
	Base string
	// Name is the ephemeral instance to create.
	Name      string
	Config    runconfig.Config
	ExtraCaps []string
}

// StartSession clones the base instance with the session's sizing, mounts
// and agent forwarding applied, and boots it.
func StartSession(ctx context.Context, client Client, opts SessionOptions) (*Runtime, error) {
	if _, err := client.Get(ctx, opts.Base); err != nil {
		if IsNotFound(err) {
			return nil, ErrBaseMissing
		}
		return nil, err
	}

	set, err := CloneSettings(opts.Config)
	if err != nil {
		return nil, err
	}
	if err := client.Clone(ctx, CloneOptions{
		Source: opts.Base,
		Target: opts.Name,
		Set:    set,
		Start:  true,
	}); err != nil {
		return nil, fmt.Errorf("cloning %s into %s: %w", opts.Base, opts.Name, err)
	}
	return NewRuntime(client, opts.Name, Capabilities(opts.Config, opts.ExtraCaps)), nil
}

// Close deletes the session instance.
func (r *Runtime) Close(ctx context.Context) error {
	return r.client.Delete(ctx, r.instance, true)
}
