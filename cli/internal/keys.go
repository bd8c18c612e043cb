package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/sluggisty/dashboard/internal/domain/entities"
)

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keys",
		Aliases: []string{"api-keys"},
		Short:   "Manage your API keys",
	}

	cmd.AddCommand(newKeysListCommand())
	cmd.AddCommand(newKeysCreateCommand())
	cmd.AddCommand(newKeysDeleteCommand())

	return cmd
}

func formatOptionalTime(t *time.Time, none string) string {
	if t == nil {
		return none
	}
	return t.Local().Format("2006-01-02 15:04")
}

func newKeysListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			list, err := cc.Session.API.APIKeys.List(cmd.Context())
			if err != nil {
				return describeError(err)
			}

			out := cmd.OutOrStdout()
			if len(list.APIKeys) == 0 {
				fmt.Fprintln(out, "No API keys yet")
				return nil
			}
			now := time.Now()
			table := uitable.New()
			table.AddRow("ID", "NAME", "PREFIX", "CREATED", "LAST USED", "EXPIRES")
			for _, k := range list.APIKeys {
				expires := formatOptionalTime(k.ExpiresAt, "never")
				if k.IsExpired(now) {
					expires = color.RedString("expired")
				}
				table.AddRow(k.ID, k.Name, k.Prefix+"…", k.CreatedAt.Local().Format("2006-01-02 15:04"),
					formatOptionalTime(k.LastUsed, "never"), expires)
			}
			fmt.Fprintln(out, table)
			return nil
		},
	}
}

func newKeysCreateCommand() *cobra.Command {
	var req entities.CreateAPIKeyRequest

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			req.Name = args[0]
			created, err := cc.Session.API.APIKeys.Create(cmd.Context(), req)
			if err != nil {
				return describeError(err)
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "✓ Created API key %q (%s)\n", created.APIKey.Name, created.APIKey.ID)
			fmt.Fprintln(out, created.Key)
			color.New(color.FgYellow).Fprintln(out, "Copy this key now. It will not be shown again.")
			return nil
		},
	}

	cmd.Flags().IntVar(&req.ExpiresInDays, "expires-in-days", 0, "Days until the key expires (0 never expires)")
	return cmd
}

func newKeysDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY_ID",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			if err := cc.Session.API.APIKeys.Delete(cmd.Context(), args[0]); err != nil {
				return describeError(err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ API key %s revoked\n", args[0])
			return nil
		},
	}
}
