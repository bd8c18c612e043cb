package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sluggisty/dashboard/internal/app"
	"github.com/sluggisty/dashboard/internal/pkg/logger"
	"github.com/sluggisty/dashboard/web/internal/config"
	"github.com/sluggisty/dashboard/web/internal/handlers"
	"github.com/sluggisty/dashboard/web/internal/middleware"
	"github.com/sluggisty/dashboard/web/internal/render"
	"github.com/sluggisty/dashboard/web/internal/session"
)

// setupWebLogging configures the global logger for the web service
func setupWebLogging(cfg config.LoggingConfig) error {
	globalLogger, err := logger.SetupLogger(logger.Config{
		Level:         logger.ParseLevel(cfg.Level),
		LogFile:       cfg.File,
		LogToStderr:   cfg.File == "",
		AlsoLogStderr: cfg.File != "",
		Format:        cfg.Format,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(globalLogger)
	return nil
}

// sessionSecret picks the cookie signing key: environment, then config, then random
func sessionSecret(cfg *config.WebServerConfig, log *slog.Logger) ([]byte, error) {
	if env := os.Getenv("SESSION_SECRET"); env != "" {
		secret, err := base64.StdEncoding.DecodeString(env)
		if err == nil {
			log.Info("using session secret", slog.String("source", "environment variable"))
			return secret, nil
		}
		log.Warn("failed to decode SESSION_SECRET env var, trying config", slog.Any("error", err))
	}

	if cfg.Session.Secret != "" {
		secret, err := base64.StdEncoding.DecodeString(cfg.Session.Secret)
		if err == nil {
			log.Info("using session secret", slog.String("source", "config file"))
			return secret, nil
		}
		log.Warn("failed to decode session secret from config", slog.Any("error", err))
	}

	log.Warn("no session secret configured, generating random one (sessions won't survive a restart)")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	return secret, nil
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Must happen before any logging calls
	if err = setupWebLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	log := slog.Default().With("component", "web")
	log.Info("starting sluggisty web service", slog.String("version", render.Version))

	if err := run(cfg, log); err != nil {
		log.Error("web service stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.WebServerConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	templates, err := render.LoadTemplates(cfg.Templates.Path)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	render.LogTemplateNames(templates, slog.Default())

	secret, err := sessionSecret(cfg, log)
	if err != nil {
		return err
	}

	// Token managers live for a single request here, so they must not arm refresh timers
	cfg.Client.Session.ScheduleRefresh = false

	services, err := app.New(ctx, &cfg.Client, app.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("failed to initialize client services: %w", err)
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Warn("failed to close client services", slog.Any("error", err))
		}
	}()

	sessionMgr := session.NewManager(secret, cfg.Session.Secure, cfg.Client.Session.MaxAge)
	authMw := middleware.NewAuthMiddleware(sessionMgr, services, log)
	logMw := middleware.NewLogger(slog.Default())
	h := handlers.New(services, sessionMgr, templates, log)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           h.Routes(authMw, logMw),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("address", srv.Addr), slog.String("api_url", cfg.Client.APIURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
