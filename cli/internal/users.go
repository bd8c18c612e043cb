package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/sluggisty/dashboard/internal/domain/entities"
)

func newUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "users",
		Aliases: []string{"user"},
		Short:   "Manage users (admin only)",
	}

	cmd.AddCommand(newUsersListCommand())
	cmd.AddCommand(newUsersCreateCommand())
	cmd.AddCommand(newUsersSetRoleCommand())
	cmd.AddCommand(newUsersDeleteCommand())

	return cmd
}

func newUsersListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			list, err := cc.Session.API.Users.List(cmd.Context())
			if err != nil {
				return describeError(err)
			}

			out := cmd.OutOrStdout()
			if len(list.Users) == 0 {
				fmt.Fprintln(out, "No users")
				return nil
			}
			table := uitable.New()
			table.AddRow("ID", "USERNAME", "EMAIL", "ROLE", "ACTIVE", "LAST LOGIN")
			for _, u := range list.Users {
				lastLogin := "never"
				if u.LastLogin != nil {
					lastLogin = u.LastLogin.Local().Format("2006-01-02 15:04")
				}
				table.AddRow(u.ID, u.Username, u.Email, roleColor(u.Role), u.IsActive, lastLogin)
			}
			fmt.Fprintln(out, table)
			return nil
		},
	}
}

func newUsersCreateCommand() *cobra.Command {
	var (
		req  entities.CreateUserRequest
		role string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			if req.Password == "" {
				if req.Password, err = promptPassword(cmd, "Password for new user: "); err != nil {
					return err
				}
			}
			req.Role = entities.Role(role)

			user, err := cc.Session.API.Users.Create(cmd.Context(), req)
			if err != nil {
				return describeError(err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Created %s (%s) with id %s\n", user.Username, user.Role, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "Username")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "Password (if not provided, will prompt)")
	cmd.Flags().StringVar(&role, "role", string(entities.RoleViewer), "Role: admin, editor or viewer")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newUsersSetRoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-role USER_ID ROLE",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			user, err := cc.Session.API.Users.UpdateRole(cmd.Context(), args[0], entities.Role(args[1]))
			if err != nil {
				return describeError(err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ %s is now %s\n", user.Username, user.Role)
			return nil
		},
	}
}

func newUsersDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete USER_ID",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			if err := cc.Session.API.Users.Delete(cmd.Context(), args[0]); err != nil {
				return describeError(err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ User %s deleted\n", args[0])
			return nil
		},
	}
}
