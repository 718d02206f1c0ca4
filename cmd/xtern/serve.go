package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sahmey2004/xtern/internal/server"
	"github.com/Sahmey2004/xtern/internal/server/ratelimit"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes pipeline runs, PO review and run history.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := withSignals(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	jwtCfg, err := cfg.Auth.JWT()
	if err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := server.Deps{
		Runner:   a.runner,
		Review:   a.review,
		Gatherer: a.registry,
		Logger:   a.logger,
	}
	if a.db != nil {
		deps.Runs = a.db
	}

	srv, err := server.New(server.Config{
		Port:            cfg.Server.Port,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimit:       ratelimit.NewConfig(cfg.Server.RateLimit, cfg.Server.RateBurst),
		JWT:             jwtCfg,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		LLMConfigured:   a.llmConfigured,
	}, deps)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start(ctx)
}
