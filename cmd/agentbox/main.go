package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mateo/agentbox/internal/config"
	"github.com/mateo/agentbox/internal/executor"
	"github.com/mateo/agentbox/internal/logger"
	"github.com/mateo/agentbox/internal/registry"
)

// Set by the linker.
var version = "dev"

// app carries the state shared by every subcommand.
type app struct {
	cfg config.Config
	log *logger.Logger

	logLevel  string
	logFormat string
}

// exitError ends the process with a specific code. A nil err prints nothing.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	a := &app{}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if a.log != nil {
		_ = a.log.Sync()
	}
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "agentbox: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "agentbox: %v\n", err)
	return executor.ExitCode(err)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentbox",
		Short:         "Run coding agents inside disposable Lima VMs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: console or json (default from config)")

	root.AddCommand(
		a.runCmd(),
		a.setupCmd(),
		a.agentsCmd(),
		a.psCmd(),
		a.pruneCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// loadRegistry refreshes the built-in descriptors and indexes both roots.
// User definitions shadow built-ins with the same id.
func (a *app) loadRegistry() (*registry.Registry, error) {
	if err := config.EnsureDirs(a.cfg); err != nil {
		return nil, err
	}
	if err := registry.EnsureBuiltins(a.cfg.Agents.BuiltinDir); err != nil {
		return nil, fmt.Errorf("installing built-in agents: %w", err)
	}
	return registry.Load([]registry.Root{
		{Name: "user", Dir: a.cfg.Agents.UserDir},
		{Name: "builtin", Dir: a.cfg.Agents.BuiltinDir},
	}, a.log), nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agentbox version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
