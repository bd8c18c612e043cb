package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gosimple/slug"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/pkg/reportmd"
)

// activeWindow is how recently a host must have reported to count as active
const activeWindow = 24 * time.Hour

func newHostsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "hosts",
		Aliases: []string{"host"},
		Short:   "Browse reporting hosts",
	}

	cmd.AddCommand(newHostsListCommand())
	cmd.AddCommand(newHostsShowCommand())
	cmd.AddCommand(newHostsDeleteCommand())
	cmd.AddCommand(newHostsExportCommand())
	cmd.AddCommand(newHostsWatchCommand())

	return cmd
}

// sortHosts orders hosts by the given key: "last-seen" (newest first) or "hostname"
func sortHosts(hosts []entities.Host, by string) error {
	switch by {
	case "last-seen", "":
		sort.SliceStable(hosts, func(i, j int) bool { return hosts[i].LastSeen.After(hosts[j].LastSeen) })
	case "hostname":
		sort.SliceStable(hosts, func(i, j int) bool {
			return strings.ToLower(hosts[i].Hostname) < strings.ToLower(hosts[j].Hostname)
		})
	default:
		return fmt.Errorf("unknown sort key %q (want last-seen or hostname)", by)
	}
	return nil
}

func printHosts(w io.Writer, list *entities.HostList, now time.Time) {
	if len(list.Hosts) == 0 {
		fmt.Fprintln(w, "No hosts have reported yet")
		return
	}

	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("HOST ID", "HOSTNAME", "OS", "AGENT", "LAST SEEN", "REPORTS")
	for _, h := range list.Hosts {
		seen := formatDuration(now.Sub(h.LastSeen)) + " ago"
		if now.Sub(h.LastSeen) > activeWindow {
			seen = color.HiBlackString(seen)
		}
		table.AddRow(h.HostID, h.Hostname, strings.TrimSpace(h.OSName+" "+h.OSVersion), h.AgentVersion, seen, h.ReportCount)
	}
	fmt.Fprintln(w, table)

	total := max(list.Total, len(list.Hosts))
	fmt.Fprintf(w, "\n%d host(s)\n", total)
}

func newHostsListCommand() *cobra.Command {
	var sortBy string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			list, err := cc.Session.API.Hosts.List(cmd.Context())
			if err != nil {
				return describeError(err)
			}
			if err := sortHosts(list.Hosts, sortBy); err != nil {
				return err
			}
			printHosts(cmd.OutOrStdout(), list, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVar(&sortBy, "sort", "last-seen", "Sort by last-seen or hostname")
	return cmd
}

func newHostsShowCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show HOST_ID",
		Short: "Show the latest report for a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			report, err := cc.Session.API.Hosts.Get(cmd.Context(), args[0])
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("host %q not found", args[0])
				}
				return describeError(err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printMarkdown(cmd.OutOrStdout(), cc.Context, reportmd.Summary(report))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw report as JSON")
	return cmd
}

func newHostsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete HOST_ID",
		Short: "Delete a host and its reports (editor or admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			if err := cc.Session.API.Hosts.Delete(cmd.Context(), args[0]); err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("host %q not found", args[0])
				}
				return describeError(err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Host %s deleted\n", args[0])
			return nil
		},
	}
}

// exportFileName names an export after the host and collection time,
// e.g. "web-01-example-com-20240501T120000Z.json"
func exportFileName(report *entities.Report) string {
	name := report.Meta.Hostname
	if name == "" {
		name = report.Meta.HostID
	}
	ts := report.Meta.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s-%s.json", slug.Make(name), ts.UTC().Format("20060102T150405Z"))
}

func newHostsExportCommand() *cobra.Command {
	var dir, output string

	cmd := &cobra.Command{
		Use:   "export HOST_ID",
		Short: "Save the latest report for a host as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			report, err := cc.Session.API.Hosts.Get(cmd.Context(), args[0])
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("host %q not found", args[0])
				}
				return describeError(err)
			}

			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode report: %w", err)
			}

			path := output
			if path == "" {
				path = filepath.Join(dir, exportFileName(report))
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create export directory: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", args[0], path)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory for the export file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Exact output path (overrides --dir)")
	return cmd
}

func newHostsWatchCommand() *cobra.Command {
	var (
		interval time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:         "watch",
		Short:       "Refresh the host list until interrupted",
		Annotations: map[string]string{annotationLongRunning: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancelCause(ctx)
			defer cancel(nil)

			// the session monitor and scheduled refresh run until we return;
			// polls are not activity, so an unattended watch still idles out
			tokens := cc.Session.Tokens
			tokens.Start(ctx)
			defer tokens.Stop()

			unsubscribe := cc.Session.Events.Subscribe(func(ev client.Event) {
				switch ev.Type {
				case client.EventSessionTimeout, client.EventUnauthorized, client.EventLogout:
					cancel(fmt.Errorf("session ended (%s), please run 'sluggisty auth login'", ev.Reason))
				}
			})
			defer unsubscribe()

			out := cmd.OutOrStdout()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for n := 1; ; n++ {
				cc.Session.Cache.Invalidate("/hosts")
				list, err := cc.Session.API.Hosts.List(ctx)
				switch {
				case err != nil && ctx.Err() != nil:
					// canceled, the cause says why
				case err != nil:
					color.New(color.FgRed).Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), describeError(err))
				default:
					_ = sortHosts(list.Hosts, "last-seen")
					fmt.Fprintln(out, color.CyanString("Updated "+time.Now().Format("15:04:05")))
					printHosts(out, list, time.Now())
				}

				if count > 0 && n >= count {
					return nil
				}
				select {
				case <-ctx.Done():
					if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
						return cause
					}
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "Time between refreshes")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many refreshes (0 runs until interrupted)")
	return cmd
}
