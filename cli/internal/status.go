package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the API health (no login needed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := getCliContext(cmd)
			out := cmd.OutOrStdout()

			start := time.Now()
			health, err := cc.Session.API.Health.Check(cmd.Context())
			if err != nil {
				color.New(color.FgRed).Fprintf(out, "✗ %s is unavailable\n", cc.Context.Server.URL)
				return describeError(err)
			}

			status := color.GreenString(health.Status)
			if !health.IsHealthy() {
				status = color.YellowString(health.Status)
			}
			table := uitable.New()
			table.AddRow("API URL:", cc.Context.Server.URL)
			table.AddRow("Status:", status)
			if health.Version != "" {
				table.AddRow("Version:", health.Version)
			}
			table.AddRow("Latency:", time.Since(start).Round(time.Millisecond))
			fmt.Fprintln(out, table)

			if !health.IsHealthy() {
				return fmt.Errorf("API reports status %q", health.Status)
			}
			return nil
		},
	}
}

func newErrorsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect API errors recorded for this context",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recorded errors, newest last",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := getCliContext(cmd)
			entries, err := cc.Services.Reporter.Entries(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read error log: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No errors recorded")
				return nil
			}
			table := uitable.New()
			table.MaxColWidth = 60
			table.AddRow("TIME", "KIND", "CODE", "STATUS", "REQUEST", "MESSAGE")
			for _, e := range entries {
				request := e.Method + " " + e.URL
				table.AddRow(e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Kind, e.Code, e.Status, request, e.Message)
			}
			fmt.Fprintln(out, table)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the error log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := getCliContext(cmd)
			if err := cc.Services.Reporter.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear error log: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Error log cleared")
			return nil
		},
	})

	return cmd
}
