package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fllarpy/uiprobe/config"
	"github.com/fllarpy/uiprobe/counters"
	"github.com/fllarpy/uiprobe/domain"
)

func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "uiprobe",
		Short: "Inspect database counter thresholds of UI tests",
		Long: `uiprobe works with the counter thresholds UI tests are checked against.
It validates counters.yaml files, prints the built-in defaults and reads the
counter report an instrumented application serves.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "uiprobe version %s\n" .Version}}`)

	root.AddCommand(newValidateCmd())
	root.AddCommand(newDefaultsCmd())
	root.AddCommand(newReportCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a threshold file and print the effective configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(args[0])
			if err != nil {
				return err
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s is valid, %d override(s)\n", args[0], len(cfg.Running.Overrides))
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newDefaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Print the default thresholds as counters.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.Marshal(counters.DefaultConfigurations())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newReportCmd() *cobra.Command {
	var (
		timeout        time.Duration
		violationsOnly bool
	)
	cmd := &cobra.Command{
		Use:   "report URL",
		Short: "Print the counter report served by an instrumented application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse report url: %w", err)
			}
			if violationsOnly {
				query := target.Query()
				query.Set("violations_only", "true")
				target.RawQuery = query.Encode()
			}
			client := &http.Client{Timeout: timeout}
			resp, err := client.Get(target.String())
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("report endpoint returned %s", resp.Status)
			}

			var snapshot domain.Snapshot
			if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
				return fmt.Errorf("decode report: %w", err)
			}
			return printSnapshot(cmd, snapshot)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP timeout")
	cmd.Flags().BoolVar(&violationsOnly, "violations-only", false, "only print violations")
	return cmd
}

func printSnapshot(cmd *cobra.Command, snapshot domain.Snapshot) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	scopes := make([]string, 0, len(snapshot.Scopes))
	for scope := range snapshot.Scopes {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	if len(scopes) > 0 {
		fmt.Fprintln(w, "SCOPE\tPROBES\tVIOLATIONS\tPOSTPONED\tMAX VALUE")
		for _, scope := range scopes {
			m := snapshot.Scopes[scope]
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", scope, m.TotalProbes, m.Violations, m.Postponed, m.MaxValue)
		}
		fmt.Fprintln(w)
	}

	for _, v := range snapshot.Violations {
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.Timestamp.Format(time.RFC3339), v.Scope, v.Headline)
		fmt.Fprintf(w, "\t%s\n", v.Message)
	}
	return w.Flush()
}
