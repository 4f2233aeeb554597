// Package executor drives one agent session through its phases on a VM.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mateo/agentbox/internal/agent"
	"github.com/mateo/agentbox/internal/logger"
	"github.com/mateo/agentbox/internal/runconfig"
	"github.com/mateo/agentbox/internal/script"
	"github.com/mateo/agentbox/internal/vm"
)

const (
	DefaultTerminateGrace = 10 * time.Second
	// DefaultScriptDir is where phase scripts are uploaded inside the VM,
	// one subdirectory per session.
	DefaultScriptDir = "/tmp/agentbox"
)

// Timeouts are per-phase wall-clock deadlines.
type Timeouts struct {
	Install        time.Duration
	Authenticate   time.Duration
	Deploy         time.Duration
	RuntimeScripts time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Install:        600 * time.Second,
		Authenticate:   300 * time.Second,
		Deploy:         120 * time.Second,
		RuntimeScripts: 600 * time.Second,
	}
}

// For returns the deadline for p, falling back to the default when unset.
func (t Timeouts) For(p agent.Phase) time.Duration {
	d := DefaultTimeouts()
	pick := func(v, def time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return def
	}
	switch p {
	case agent.PhaseInstall:
		return pick(t.Install, d.Install)
	case agent.PhaseAuthenticate:
		return pick(t.Authenticate, d.Authenticate)
	case agent.PhaseDeploy:
		return pick(t.Deploy, d.Deploy)
	case PhaseRuntime:
		return pick(t.RuntimeScripts, d.RuntimeScripts)
	}
	return 0
}

type Options struct {
	Timeouts Timeouts
	// TerminateGrace bounds the wait for a script to exit after
	// TerminateCurrent.
	TerminateGrace time.Duration
	ScriptDir      string
	Logger         *logger.Logger
	Sink           Sink

	// SessionID is generated when empty.
	SessionID string

	// Stdin is connected to the authenticate script only. Stdout and Stderr
	// receive output from every script.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// LookupEnv reads host variables for inherit_env. Defaults to os.LookupEnv.
	LookupEnv runconfig.LookupFunc
	// TailLines is how much script output phase errors carry.
	TailLines int
	Now       func() time.Time
}

type Executor struct {
	opts Options
	log  *logger.Logger
}

func New(opts Options) *Executor {
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = DefaultTerminateGrace
	}
	if opts.ScriptDir == "" {
		opts.ScriptDir = DefaultScriptDir
	}
	if opts.TailLines <= 0 {
		opts.TailLines = defaultTailLines
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{opts: opts, log: logger.OrNop(opts.Logger)}
}

// Session is the handle returned once an agent is Ready.
type Session struct {
	ID      string
	Agent   agent.Definition
	Runtime vm.Runtime
	// Env is the merged session environment including the AGENT_* variables.
	Env []string
}

// Command builds the request that starts the agent's command in dir.
func (s *Session) Command(dir string, args ...string) vm.ExecRequest {
	cmdline := append([]string{"/bin/sh", "-lc", "exec " + s.Agent.Command + ` "$@"`, s.Agent.ID}, args...)
	return vm.ExecRequest{
		Cmdline: cmdline,
		Env:     append([]string(nil), s.Env...),
		Cwd:     dir,
	}
}

type step struct {
	upload  string
	payload script.Payload
}

type plan struct {
	runtime []step
	phases  map[agent.Phase]step
	env     []string
}

type run struct {
	e     *Executor
	id    string
	def   agent.Definition
	rt    vm.Runtime
	log   *logger.Logger
	start time.Time
}

// Run binds def to rt and drives it to Ready. The returned error is nil only
// when the session is Ready; a final state event has been emitted either way.
// Cancelling ctx terminates the in-flight script and ends in Cancelled.
func (e *Executor) Run(ctx context.Context, def agent.Definition, cfg runconfig.Config, rt vm.Runtime) (*Session, error) {
	id := e.opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	r := &run{
		e:     e,
		id:    id,
		def:   def,
		rt:    rt,
		log:   e.log.WithSessionID(id).WithAgentID(def.ID),
		start: e.opts.Now(),
	}

	p, err := r.bind(ctx, cfg)
	if err != nil {
		r.finish("", err)
		return nil, err
	}
	r.emit(StateBound, "", nil)

	if len(p.runtime) > 0 {
		if err := r.runPhase(ctx, PhaseRuntime, p.runtime, p.env); err != nil {
			r.finish(PhaseRuntime, err)
			return nil, err
		}
	}

	for _, phase := range agent.Phases {
		st, ok := p.phases[phase]
		if !ok {
			continue
		}
		if err := r.runPhase(ctx, phase, []step{st}, p.env); err != nil {
			r.finish(phase, err)
			return nil, err
		}
	}

	r.emit(StateReady, "", nil)
	return &Session{ID: id, Agent: def.Clone(), Runtime: rt, Env: p.env}, nil
}

func (r *run) bind(ctx context.Context, cfg runconfig.Config) (*plan, error) {
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}

	advertised, err := r.rt.Capabilities(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("querying VM capabilities: %w", err)
	}
	if missing := missingCapabilities(r.def.Capabilities, advertised); len(missing) > 0 {
		return nil, &CapabilityMismatchError{Missing: missing}
	}

	if r.def.RequiresAuthentication && r.def.Authenticate == nil {
		return nil, &AuthRequiredButMissingError{AgentID: r.def.ID}
	}

	p := &plan{phases: make(map[agent.Phase]step)}
	for _, phase := range agent.Phases {
		sc := r.def.Script(phase)
		if sc == nil || (phase == agent.PhaseAuthenticate && !r.def.RequiresAuthentication) {
			continue
		}
		payload, err := script.Resolve(sc, r.def.Origin)
		if err != nil {
			return nil, fmt.Errorf("resolving %s script: %w", phase, err)
		}
		p.phases[phase] = step{upload: string(phase) + ".sh", payload: payload}
	}

	for i, hostPath := range cfg.RuntimeScripts {
		payload, err := script.ResolveHostFile(hostPath)
		if err != nil {
			return nil, &runconfig.Error{Field: "runtime-script", Value: hostPath, Reason: err.Error()}
		}
		p.runtime = append(p.runtime, step{upload: fmt.Sprintf("runtime-%02d.sh", i), payload: payload})
	}

	env, err := runconfig.MergeEnv(cfg, r.e.opts.LookupEnv)
	if err != nil {
		return nil, err
	}
	agentVars := r.agentEnv()
	user := env[:0]
	for _, v := range env {
		if _, reserved := agentVars[v.Key]; reserved {
			r.log.Warn("Ignoring reserved variable from session environment", zap.String("key", v.Key))
			continue
		}
		user = append(user, v)
	}
	p.env = runconfig.Environ(user)
	for _, key := range agentEnvKeys {
		p.env = append(p.env, key+"="+agentVars[key])
	}
	return p, nil
}

var agentEnvKeys = []string{"AGENT_ID", "AGENT_COMMAND", "AGENT_CONTEXT_FILE", "AGENT_MCP_CONFIG", "AGENT_CONFIG_DIR"}

func (r *run) agentEnv() map[string]string {
	return map[string]string{
		"AGENT_ID":           r.def.ID,
		"AGENT_COMMAND":      r.def.Command,
		"AGENT_CONTEXT_FILE": r.def.Paths.ContextFile,
		"AGENT_MCP_CONFIG":   r.def.Paths.MCPConfigFile,
		"AGENT_CONFIG_DIR":   r.def.Paths.ConfigDir,
	}
}

// missingCapabilities returns required \ advertised in required's order.
func missingCapabilities(required, advertised []string) []string {
	have := make(map[string]bool, len(advertised))
	for _, c := range advertised {
		have[c] = true
	}
	var missing []string
	for _, c := range required {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

func (r *run) runPhase(ctx context.Context, phase agent.Phase, steps []step, env []string) error {
	r.emit(phaseStates[phase], phase, nil)

	timeout := r.e.opts.Timeouts.For(phase)
	phaseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, st := range steps {
		if err := r.runStep(ctx, phaseCtx, phase, st, env); err != nil {
			return err
		}
	}
	return nil
}

type execResult struct {
	code int
	err  error
}

func (r *run) runStep(ctx, phaseCtx context.Context, phase agent.Phase, st step, env []string) error {
	target := path.Join(r.e.opts.ScriptDir, r.id, st.upload)
	log := r.log.WithFields(
		zap.String("phase", string(phase)),
		zap.String("script", st.payload.Name),
		zap.String("digest", st.payload.Digest),
	)

	if err := r.rt.PutFile(phaseCtx, target, st.payload.Body, 0o700); err != nil {
		if phaseCtx.Err() != nil {
			return r.interrupted(ctx, phase)
		}
		return fmt.Errorf("uploading %s script %s: %w", phase, st.payload.Name, err)
	}
	if phaseCtx.Err() != nil {
		return r.interrupted(ctx, phase)
	}

	tail := &tailBuffer{}
	req := vm.ExecRequest{
		Cmdline: []string{"/bin/sh", "-e", target},
		Env:     env,
		Cwd:     r.def.Paths.ConfigDir,
		Stdout:  teeTo(tail, r.e.opts.Stdout),
		Stderr:  teeTo(tail, r.e.opts.Stderr),
	}
	if phase == PhaseRuntime {
		req.Cwd = ""
	}
	if phase == agent.PhaseAuthenticate {
		req.Stdin = r.e.opts.Stdin
	}

	log.Debug("Running script", zap.String("path", target))
	done := make(chan execResult, 1)
	go func() {
		code, err := r.rt.Exec(context.WithoutCancel(phaseCtx), req)
		done <- execResult{code: code, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("running %s script %s: %w", phase, st.payload.Name, res.err)
		}
		if res.code != 0 {
			log.Warn("Script failed", zap.Int("exit_code", res.code))
			if phase == PhaseRuntime {
				return &RuntimeScriptError{Name: st.payload.Name, ExitCode: res.code, LogTail: tail.Lines(r.e.opts.TailLines)}
			}
			return &PhaseError{Phase: phase, ExitCode: res.code, LogTail: tail.Lines(r.e.opts.TailLines)}
		}
		return nil
	case <-phaseCtx.Done():
	}

	grace := r.e.opts.TerminateGrace
	log.Warn("Terminating script", zap.Error(phaseCtx.Err()), zap.Duration("grace", grace))
	termCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := r.rt.TerminateCurrent(termCtx); err != nil {
		log.Warn("Terminate request failed", zap.Error(err))
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warn("Script did not exit within grace period")
	}
	return r.interrupted(ctx, phase)
}

// interrupted tells a caller cancel apart from a phase deadline.
func (r *run) interrupted(ctx context.Context, phase agent.Phase) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return &PhaseTimeoutError{Phase: phase}
}

func teeTo(tail *tailBuffer, w io.Writer) io.Writer {
	if w == nil {
		return tail
	}
	return io.MultiWriter(tail, w)
}

func terminalState(err error) State {
	var (
		capErr  *CapabilityMismatchError
		authErr *AuthRequiredButMissingError
		cfgErr  *runconfig.Error
		resErr  *script.ResolveError
	)
	switch {
	case errors.Is(err, ErrCancelled):
		return StateCancelled
	case errors.As(err, &capErr), errors.As(err, &authErr),
		errors.As(err, &cfgErr), errors.As(err, &resErr):
		return StateRejected
	}
	return StateFailed
}

func (r *run) finish(phase agent.Phase, err error) {
	r.emit(terminalState(err), phase, err)
}

func (r *run) emit(state State, phase agent.Phase, err error) {
	now := r.e.opts.Now()
	ev := Event{
		SessionID: r.id,
		AgentID:   r.def.ID,
		State:     state,
		Phase:     phase,
		Time:      now,
		Elapsed:   now.Sub(r.start),
		Err:       err,
	}

	fields := []zap.Field{zap.String("state", string(state)), zap.Duration("elapsed", ev.Elapsed)}
	if phase != "" {
		fields = append(fields, zap.String("phase", string(phase)))
	}
	switch {
	case err != nil:
		r.log.Warn("Session ended", append(fields, zap.Error(err))...)
	case state == StateReady:
		r.log.Info("Session ready", fields...)
	default:
		r.log.Info("Session state changed", fields...)
	}

	if r.e.opts.Sink != nil {
		r.e.opts.Sink.Emit(ev)
	}
}
