package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sluggisty/dashboard/internal/auth"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/domain/entities"
)

// formatDuration formats a duration in a human-friendly way (e.g., "2 days, 3 hours and 45 minutes")
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, unit(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, unit(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, unit(minutes, "minute"))
	}
	if len(parts) == 0 && seconds > 0 {
		parts = append(parts, unit(seconds, "second"))
	}

	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

func unit(n int, name string) string {
	if n == 1 {
		return "1 " + name
	}
	return fmt.Sprintf("%d %ss", n, name)
}

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
		Long:  `Manage authentication for the Sluggisty CLI`,
	}

	cmd.AddCommand(newAuthLoginCommand())
	cmd.AddCommand(newAuthRegisterCommand())
	cmd.AddCommand(newAuthLogoutCommand())
	cmd.AddCommand(newAuthStatusCommand())
	cmd.AddCommand(newAuthTokenCommand())
	cmd.AddCommand(newAuthWhoamiCommand())

	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to the Sluggisty API",
		Long: `Authenticate with the Sluggisty API using a username and password.
Tokens are stored per context in ~/.config/sluggisty.

Examples:
  # Prompt for username and password
  sluggisty auth login

  # Non-interactive login
  sluggisty auth login --username admin --password "$SLUGGISTY_PASSWORD"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := getCliContext(cmd)
			log := cc.Logger.With("command", "login")

			var err error
			if username == "" || password == "" {
				username, password, err = promptCredentials(cmd, username)
				if err != nil {
					return err
				}
			}

			log.Info("logging in", "username", username, "context", cc.Config.CurrentContext)
			resp, err := cc.Session.Auth.Login(cmd.Context(), username, password)
			if err != nil {
				return describeError(err)
			}

			printLoggedIn(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (if not provided, will prompt)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (if not provided, will prompt)")

	return cmd
}

func newAuthRegisterCommand() *cobra.Command {
	var req entities.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := getCliContext(cmd)

			if req.Password == "" {
				password, err := promptPassword(cmd, "Password: ")
				if err != nil {
					return err
				}
				req.Password = password
			}

			resp, err := cc.Session.Auth.Register(cmd.Context(), req)
			if err != nil {
				return describeError(err)
			}

			printLoggedIn(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "Username (3-64 letters or digits)")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "Password, at least 8 characters (if not provided, will prompt)")
	cmd.Flags().StringVar(&req.OrgName, "org", "", "Organization name")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func printLoggedIn(w io.Writer, resp *entities.AuthResponse) {
	name := "unknown user"
	if resp.User != nil {
		name = fmt.Sprintf("%s (%s)", resp.User.Username, resp.User.Role)
	}
	color.New(color.FgGreen).Fprintf(w, "✓ Successfully logged in as %s\n", name)
	if !resp.TokenInfo.ExpiresAt.IsZero() {
		fmt.Fprintf(w, "  Token expires: %s\n", resp.TokenInfo.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credentials for the current context",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := getCliContext(cmd)
			if err := cc.Session.Auth.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear credentials: %w", err)
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "✓ Successfully logged out")
			return nil
		},
	}
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := getCliContext(cmd)
			out := cmd.OutOrStdout()

			info, ok := cc.Session.Tokens.TokenInfo()
			if !ok {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}

			table := uitable.New()
			table.AddRow("Context:", cc.Config.CurrentContext)
			table.AddRow("API URL:", cc.Context.Server.URL)
			if sess, ok := cc.Session.Tokens.Session(); ok {
				table.AddRow("Logged in as:", valueOr(sess.Username, "unknown"))
				table.AddRow("Session ID:", sess.SessionID)
				table.AddRow("Last activity:", formatDuration(sess.IdleFor(time.Now()))+" ago")
				if !sess.ExpiresAt.IsZero() {
					table.AddRow("Session ends:", sess.ExpiresAt.Local().Format("2006-01-02 15:04:05 MST"))
				}
			}
			if !info.ExpiresAt.IsZero() {
				table.AddRow("Token expires:", info.ExpiresAt.Local().Format("2006-01-02 15:04:05 MST"))
			}
			// opaque API keys carry no claims
			if claims, err := cc.Session.Auth.CurrentClaims(); claims != nil && (err == nil || errors.Is(err, auth.ErrExpiredToken)) {
				table.AddRow("Token subject:", fmt.Sprintf("%s (%s)", claims.Username, claims.Role))
			}
			fmt.Fprintln(out, table)

			duration := time.Until(info.ExpiresAt)
			switch state := cc.Session.Tokens.State(); state {
			case client.StateExpired:
				if info.HasRefreshToken() {
					color.New(color.FgYellow).Fprintf(out, "⚠  Token expired %s ago - automatic refresh will be attempted on next request\n", formatDuration(duration))
				} else {
					color.New(color.FgRed).Fprintf(out, "✗  Token expired %s ago - please log in again\n", formatDuration(duration))
				}
			case client.StateExpiringSoon:
				color.New(color.FgYellow).Fprintf(out, "⚠  Token expires in %s and will be refreshed\n", formatDuration(duration))
			default:
				if info.ExpiresAt.IsZero() {
					color.New(color.FgGreen).Fprintln(out, "✓  Token has no expiry")
				} else {
					color.New(color.FgGreen).Fprintf(out, "✓  Valid for %s\n", formatDuration(duration))
				}
			}
			return nil
		},
	}
}

func newAuthTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the current access token, refreshing it if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			token, err := cc.Session.Tokens.ValidToken(cmd.Context())
			if err != nil {
				return describeError(err)
			}
			if token == "" {
				return describeError(client.ErrTokenExpired)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newAuthWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := requireLogin(cmd)
			if err != nil {
				return err
			}
			user, err := cc.Session.Auth.GetMe(cmd.Context())
			if err != nil {
				return describeError(err)
			}

			table := uitable.New()
			table.AddRow("Username:", user.Username)
			table.AddRow("User ID:", user.ID)
			if user.Email != "" {
				table.AddRow("Email:", user.Email)
			}
			table.AddRow("Role:", roleColor(user.Role))
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

// promptCredentials asks for whatever was not given on the command line
func promptCredentials(cmd *cobra.Command, username string) (string, string, error) {
	in := bufio.NewReader(cmd.InOrStdin())
	if username == "" {
		fmt.Fprint(cmd.OutOrStdout(), "Username: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}

	password, err := readPassword(cmd, in, "Password: ")
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

func promptPassword(cmd *cobra.Command, prompt string) (string, error) {
	return readPassword(cmd, bufio.NewReader(cmd.InOrStdin()), prompt)
}

// readPassword reads without echo when stdin is a terminal
func readPassword(cmd *cobra.Command, in *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	if cmd.InOrStdin() == os.Stdin && term.IsTerminal(int(os.Stdin.Fd())) {
		passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(passwordBytes), nil
	}

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
