package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mateo/agentbox/internal/agent"
	"github.com/mateo/agentbox/internal/executor"
	"github.com/mateo/agentbox/internal/script"
)

func (a *app) agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect the available agent definitions",
	}
	cmd.AddCommand(a.agentsListCmd(), a.agentsShowCmd(), a.agentsDoctorCmd())
	return cmd
}

type agentSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Command      string   `json:"command"`
	Auth         bool     `json:"requiresAuthentication"`
	Capabilities []string `json:"capabilities,omitempty"`
	Origin       string   `json:"origin"`
}

func (a *app) agentsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry()
			if err != nil {
				return err
			}
			defs := reg.List()
			out := cmd.OutOrStdout()

			if jsonOutput {
				summaries := make([]agentSummary, 0, len(defs))
				for _, d := range defs {
					summaries = append(summaries, agentSummary{
						ID:           d.ID,
						Name:         d.Name,
						Description:  d.Description,
						Command:      d.Command,
						Auth:         d.RequiresAuthentication,
						Capabilities: d.Capabilities,
						Origin:       d.Origin,
					})
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tNAME\tCOMMAND\tREQUIRES\n")
			for _, d := range defs {
				requires := strings.Join(d.Capabilities, ",")
				if requires == "" {
					requires = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Command, requires)
			}
			w.Flush()
			if n := len(reg.Diagnostics()); n > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n%d problem(s) found; run 'agentbox agents doctor'\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func (a *app) agentsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Print an agent definition and its resolved scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry()
			if err != nil {
				return err
			}
			def, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			return showAgent(cmd.OutOrStdout(), def)
		},
	}
}

func showAgent(out io.Writer, def agent.Definition) error {
	data, err := agent.Marshal(def)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s\n", def.Origin)
	out.Write(data)

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "PHASE\tSCRIPT\tDIGEST\n")
	for _, phase := range agent.Phases {
		sc := def.Script(phase)
		if sc == nil {
			continue
		}
		var digest string
		if p, err := script.Resolve(sc, def.Origin); err == nil {
			digest = p.Digest[:12]
		} else {
			digest = "error: " + err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", phase, agent.ScriptName(sc), digest)
	}
	return w.Flush()
}

func (a *app) agentsDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report problems found while discovering agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadRegistry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			diags := reg.Diagnostics()
			if len(diags) == 0 {
				fmt.Fprintf(out, "%d agent(s), no problems found\n", len(reg.List()))
				return nil
			}
			for _, d := range diags {
				fmt.Fprintln(out, d.String())
			}
			if reg.HasErrors() {
				return &exitError{code: executor.ExitBadDescriptor}
			}
			return nil
		},
	}
}
