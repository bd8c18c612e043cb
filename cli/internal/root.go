package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sluggisty/dashboard/internal/app"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/pkg/logger"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const cliContextKey contextKey = "cliContext"

// CliContext holds shared CLI context
type CliContext struct {
	Config   *Config
	Context  *Context
	Services *app.Services
	Session  *app.Session
	Logger   *slog.Logger
}

// Global logging flags
var (
	logLevel      string
	logFile       string
	logToStderr   bool
	alsoLogStderr bool
	logFormat     string
)

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	var ctx CliContext

	rootCmd := &cobra.Command{
		Use:           "sluggisty",
		Short:         "CLI for the Sluggisty host insight service",
		Long:          `A command line interface for browsing hosts and managing users and API keys via the Sluggisty REST API.`,
		SilenceUsage:  true,
		SilenceErrors: true, // main.go prints the error
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(); err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}

			ctx.Logger = slog.Default().With("component", "cli")
			ctx.Logger.Debug("CLI started", "command", cmd.CommandPath())

			// config commands work without a server
			if isConfigCommand(cmd) {
				return nil
			}

			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			current, err := config.GetCurrentContext()
			if err != nil {
				return err
			}
			clientCfg, err := config.ClientConfig()
			if err != nil {
				return fmt.Errorf("invalid context %q: %w", config.CurrentContext, err)
			}
			// only long-running commands keep tokens fresh in the background
			clientCfg.Session.ScheduleRefresh = cmd.Annotations[annotationLongRunning] == "true"

			st, err := credentialStore(config.CurrentContext)
			if err != nil {
				return err
			}
			services, err := app.New(cmd.Context(), clientCfg, app.WithStore(st), app.WithLogger(slog.Default()))
			if err != nil {
				return fmt.Errorf("failed to initialize client: %w", err)
			}
			session, err := services.Default(cmd.Context())
			if err != nil {
				_ = services.Close()
				return err
			}

			ctx.Config = config
			ctx.Context = current
			ctx.Services = services
			ctx.Session = session
			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, &ctx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if ctx.Services != nil {
				return ctx.Services.Close()
			}
			return nil
		},
	}

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newHostsCommand())
	rootCmd.AddCommand(newUsersCommand())
	rootCmd.AddCommand(newKeysCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newErrorsCommand())

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Log file path (if specified, logs to file instead of stderr)")
	rootCmd.PersistentFlags().BoolVar(&logToStderr, "logtostderr", false,
		"Log to stderr (default behavior unless --log-file specified)")
	rootCmd.PersistentFlags().BoolVar(&alsoLogStderr, "alsologtostderr", false,
		"Log to both file and stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"Log format (text, json)")

	return rootCmd
}

// annotationLongRunning marks commands that run the token refresh timer and
// session monitor
const annotationLongRunning = "long-running"

func isConfigCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" && c.Parent() != nil && c.Parent().Parent() == nil {
			return true
		}
	}
	return false
}

// setupLogging configures the global logger based on CLI flags
func setupLogging() error {
	cfg := logger.Config{
		Level:         logger.ParseLevel(logLevel),
		LogFile:       logFile,
		LogToStderr:   logToStderr || logFile == "",
		AlsoLogStderr: alsoLogStderr,
		Format:        logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	slog.SetDefault(globalLogger)
	return nil
}

// getCliContext extracts the CLI context from the command context
func getCliContext(cmd *cobra.Command) *CliContext {
	return cmd.Context().Value(cliContextKey).(*CliContext)
}

// requireLogin fails with a hint when the context has no usable token
func requireLogin(cmd *cobra.Command) (*CliContext, error) {
	cc := getCliContext(cmd)
	if _, ok := cc.Session.Tokens.TokenInfo(); !ok {
		return nil, fmt.Errorf("not logged in to context %q\nPlease run 'sluggisty auth login' first", cc.Config.CurrentContext)
	}
	// running a command counts as activity, background polling does not
	cc.Session.Tokens.RecordActivity(cmd.Context())
	return cc, nil
}

// describeError turns API failures into the user-facing message, keeping
// validation details
func describeError(err error) error {
	apiErr, ok := client.AsAPIError(err)
	if !ok {
		if errors.Is(err, client.ErrNoToken) || errors.Is(err, client.ErrTokenExpired) {
			return errors.New("your session has expired, please run 'sluggisty auth login'")
		}
		return err
	}
	msg := apiErr.UserMessage()
	if apiErr.Kind == client.KindValidation {
		msg = apiErr.Message
		for _, field := range apiErr.Fields() {
			msg += fmt.Sprintf("\n  %s: %s", field, apiErr.FieldError(field))
		}
	}
	if apiErr.Kind == client.KindClient && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return errors.New(msg)
}
