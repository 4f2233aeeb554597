package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mateo/agentbox/internal/config"
	"github.com/mateo/agentbox/internal/lima"
	"github.com/mateo/agentbox/internal/registry"
	"github.com/mateo/agentbox/internal/runconfig"
)

func (a *app) setupCmd() *cobra.Command {
	var cpus, memGiB, diskGiB int
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "First-time setup: write config, install built-in agents, create the base VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			sizing, err := runconfig.Assemble(sizingFlags(cmd, cpus, memGiB, diskGiB))
			if err != nil {
				return err
			}
			resized := sizing.CPUs > 0 || sizing.MemoryGB > 0 || sizing.DiskGB > 0
			if sizing.CPUs > 0 {
				a.cfg.VM.CPUs = sizing.CPUs
			}
			if sizing.MemoryGB > 0 {
				a.cfg.VM.MemoryGiB = sizing.MemoryGB
			}
			if sizing.DiskGB > 0 {
				a.cfg.VM.DiskGiB = sizing.DiskGB
			}

			if err := config.EnsureDirs(a.cfg); err != nil {
				return fmt.Errorf("creating directories: %w", err)
			}
			fmt.Fprintf(out, "Using %s\n", config.BaseDir())

			if _, err := os.Stat(config.ConfigPath()); os.IsNotExist(err) || resized {
				if err := config.Save(a.cfg); err != nil {
					return fmt.Errorf("saving config: %w", err)
				}
				fmt.Fprintf(out, "  Wrote %s\n", config.ConfigPath())
			}

			if err := registry.EnsureBuiltins(a.cfg.Agents.BuiltinDir); err != nil {
				return fmt.Errorf("installing built-in agents: %w", err)
			}
			fmt.Fprintf(out, "  Built-in agents in %s\n", a.cfg.Agents.BuiltinDir)

			client, err := lima.NewClient()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Creating base VM %q (this may take several minutes)...\n", a.cfg.VM.Base)
			created, err := lima.EnsureBase(cmd.Context(), client, a.cfg.VM.Base, a.templateConfig(), config.TemplatePath())
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(out, "Base VM %q already exists; delete it with 'limactl delete %s' to rebuild\n", a.cfg.VM.Base, a.cfg.VM.Base)
				return nil
			}
			fmt.Fprintf(out, "\nBase VM %q created. Try 'agentbox run claude'.\n", a.cfg.VM.Base)
			return nil
		},
	}
	cmd.Flags().IntVar(&cpus, "cpus", 0, "CPU count for the base VM (default from config)")
	cmd.Flags().IntVar(&memGiB, "memory", 0, "Memory in GB for the base VM (default from config)")
	cmd.Flags().IntVar(&diskGiB, "disk", 0, "Disk in GB for the base VM (default from config)")
	return cmd
}

// templateConfig sizes the base instance from the config file. Per-session
// sizing and mounts are applied when the base is cloned.
func (a *app) templateConfig() lima.TemplateConfig {
	tc := lima.DefaultTemplateConfig()
	tc.CPUs = a.cfg.VM.CPUs
	tc.MemoryGiB = a.cfg.VM.MemoryGiB
	tc.DiskGiB = a.cfg.VM.DiskGiB
	if len(a.cfg.VM.Packages) > 0 {
		tc.Packages = a.cfg.VM.Packages
	}
	return tc
}

// sizingFlags reports only the sizing flags given on the command line, so an
// explicit zero is rejected instead of meaning "default".
func sizingFlags(cmd *cobra.Command, cpus, memGiB, diskGiB int) runconfig.Flags {
	var f runconfig.Flags
	if cmd.Flags().Changed("cpus") {
		f.CPUs = &cpus
	}
	if cmd.Flags().Changed("memory") {
		f.MemoryGB = &memGiB
	}
	if cmd.Flags().Changed("disk") {
		f.DiskGB = &diskGiB
	}
	return f
}
