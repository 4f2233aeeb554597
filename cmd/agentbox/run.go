package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mateo/agentbox/internal/config"
	"github.com/mateo/agentbox/internal/executor"
	"github.com/mateo/agentbox/internal/lima"
	"github.com/mateo/agentbox/internal/metrics"
	"github.com/mateo/agentbox/internal/runconfig"
	"github.com/mateo/agentbox/internal/ws"
)

const (
	cleanupTimeout  = 2 * time.Minute
	shutdownTimeout = 5 * time.Second
)

type runOptions struct {
	flags           runconfig.Flags
	cpus, mem, disk int

	eventsAddr  string
	metricsFile string
	noLaunch    bool
	keep        bool
}

func (a *app) runCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run <agent> [-- agent-args...]",
		Short: "Start a fresh VM, prepare an agent in it and launch the agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := sizingFlags(cmd, o.cpus, o.mem, o.disk)
			o.flags.CPUs, o.flags.MemoryGB, o.flags.DiskGB = f.CPUs, f.MemoryGB, f.DiskGB
			return a.run(cmd.Context(), args[0], args[1:], o)
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&o.disk, "disk", 0, "Disk size in GB (default from the base VM)")
	fl.IntVar(&o.mem, "memory", 0, "Memory in GB (default from the base VM)")
	fl.IntVar(&o.cpus, "cpus", 0, "CPU count (default from the base VM)")
	fl.BoolVarP(&o.flags.ForwardSSHAgent, "forward-ssh-agent", "A", false, "Forward the host SSH agent into the VM")
	fl.StringArrayVar(&o.flags.Mounts, "mount", nil, "Share a host directory: HOST[:VM][:ro|rw] (repeatable)")
	fl.StringArrayVar(&o.flags.Env, "env", nil, "Set a variable in the VM: KEY=VALUE (repeatable)")
	fl.StringArrayVar(&o.flags.EnvFiles, "env-file", nil, "Read KEY=VALUE lines from a file (repeatable)")
	fl.StringArrayVar(&o.flags.InheritEnv, "inherit-env", nil, "Copy a host variable into the VM (repeatable)")
	fl.StringArrayVar(&o.flags.RuntimeScripts, "runtime-script", nil, "Run a host script in the VM before install (repeatable)")
	fl.BoolVar(&o.flags.AutoSetup, "auto-setup", false, "Create the base VM first if it does not exist")
	fl.StringVar(&o.eventsAddr, "events-addr", "", "Serve live session events over WebSocket on host:port")
	fl.StringVar(&o.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	fl.BoolVar(&o.noLaunch, "no-launch", false, "Stop once the agent is ready instead of launching it")
	fl.BoolVar(&o.keep, "keep", false, "Keep the session VM instead of deleting it on exit")
	return cmd
}

func (a *app) run(parent context.Context, agentID string, agentArgs []string, o runOptions) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := a.loadRegistry()
	if err != nil {
		return err
	}
	def, err := reg.Get(agentID)
	if err != nil {
		return err
	}
	rc, err := runconfig.Assemble(o.flags)
	if err != nil {
		return err
	}

	// Bind the event listener before booting anything so a bad address fails
	// fast.
	var ln net.Listener
	if o.eventsAddr != "" {
		if ln, err = net.Listen("tcp", o.eventsAddr); err != nil {
			return fmt.Errorf("listening for events: %w", err)
		}
		defer ln.Close()
	}

	client, err := lima.NewClient()
	if err != nil {
		return err
	}
	if rc.AutoSetup {
		created, err := lima.EnsureBase(ctx, client, a.cfg.VM.Base, a.templateConfig(), config.TemplatePath())
		if err != nil {
			return err
		}
		if created {
			a.log.Info("Base VM created", zap.String("instance", a.cfg.VM.Base))
		}
	}

	sessionID := uuid.NewString()
	log := a.log.WithSessionID(sessionID).WithAgentID(def.ID)
	rt, err := lima.StartSession(ctx, client, lima.SessionOptions{
		Base:      a.cfg.VM.Base,
		Name:      lima.SessionName(sessionID),
		Config:    rc,
		ExtraCaps: a.cfg.VM.Capabilities,
	})
	if err != nil {
		return err
	}
	log.Info("Session VM started", zap.String("instance", rt.Instance()))
	if !o.keep {
		defer func() {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
			defer cancel()
			if err := rt.Close(cctx); err != nil {
				log.WithError(err).Error("Session VM left behind; remove it with 'agentbox prune'", zap.String("instance", rt.Instance()))
			}
		}()
	}

	recorder := metrics.NewRecorder()
	if o.metricsFile != "" {
		defer func() {
			if err := recorder.WriteTextfile(o.metricsFile); err != nil {
				log.Warn("Writing metrics failed", zap.Error(err))
			}
		}()
	}
	sinks := executor.Sinks{recorder}

	var stdout, stderr io.Writer = os.Stdout, os.Stderr
	var hub *ws.Hub
	if ln != nil {
		hub = ws.NewHub(log)
		sinks = append(sinks, hub)
		lw := hub.LogWriter(sessionID)
		defer lw.Flush()
		stdout = io.MultiWriter(os.Stdout, lw)
		stderr = io.MultiWriter(os.Stderr, lw)
	}

	ex := executor.New(executor.Options{
		Timeouts:       a.cfg.Timeouts.Executor(),
		TerminateGrace: a.cfg.Timeouts.TerminateGrace,
		Logger:         log,
		Sink:           sinks,
		SessionID:      sessionID,
		Stdin:          os.Stdin,
		Stdout:         stdout,
		Stderr:         stderr,
	})

	runCtx, done := context.WithCancel(ctx)
	defer done()
	g, gctx := errgroup.WithContext(runCtx)

	if hub != nil {
		srv := &http.Server{Handler: hub.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go hub.Run()
		log.Info("Serving session events", zap.String("url", "ws://"+ln.Addr().String()+ws.Path))
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("event server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			hub.Stop()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer done()
		sess, err := ex.Run(gctx, def, rc, rt)
		if err != nil {
			return err
		}
		if o.noLaunch {
			fmt.Fprintf(os.Stderr, "%s is ready in %s\n", def.Name, rt.Instance())
			return nil
		}
		return launch(gctx, rt, sess, workdir(rc), agentArgs)
	})

	return g.Wait()
}

// launch runs the agent attached to the terminal. A non-zero agent exit
// becomes the process exit code.
func launch(ctx context.Context, rt *lima.Runtime, sess *executor.Session, dir string, args []string) error {
	req := sess.Command(dir, args...)
	req.Stdin = os.Stdin
	req.Stdout = os.Stdout
	req.Stderr = os.Stderr

	code, err := rt.Exec(ctx, req)
	if err != nil {
		return fmt.Errorf("launching %s: %w", sess.Agent.ID, err)
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// workdir is where the agent starts: the first mount, or the VM home.
func workdir(rc runconfig.Config) string {
	if len(rc.Mounts) > 0 {
		return rc.Mounts[0].VMPath
	}
	return ""
}
