package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/tabula/internal/api"
	"github.com/hazyhaar/tabula/internal/auth"
	"github.com/hazyhaar/tabula/internal/config"
	"github.com/hazyhaar/tabula/internal/db"
	tabmcp "github.com/hazyhaar/tabula/internal/mcp"
	"github.com/hazyhaar/tabula/internal/session"
	"github.com/hazyhaar/tabula/pkg/audit"
	"github.com/hazyhaar/tabula/pkg/kit"
	"github.com/hazyhaar/tabula/pkg/mcprt"
	"github.com/hazyhaar/tabula/pkg/trace"
)

func newServeCmd() *cobra.Command {
	var transport, addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio or streamable HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if transport != "" {
				cfg.Server.Transport = transport
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "", "stdio or http (overrides config)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for http (overrides config)")
	return cmd
}

func serve(cfg *config.Config) error {
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	var (
		auditLog audit.Logger
		tracer   *trace.Store
	)
	if cfg.Audit.Enabled {
		journal, err := db.Open(cfg.Audit.Path, audit.Schema, trace.Schema)
		if err != nil {
			return err
		}
		defer journal.Close()

		sqlLog := audit.NewSQLiteLogger(journal.DB)
		defer sqlLog.Close()
		auditLog = sqlLog
		tracer = trace.NewStore(journal.DB)
		slog.Info("audit journal enabled", "path", cfg.Audit.Path)
	} else {
		tracer = trace.NewStore(nil)
	}
	defer tracer.Close()

	sess, err := session.Open(session.Options{
		BatchSize:   cfg.Session.BatchSize,
		SampleLimit: cfg.Session.SampleLimit,
		Timeout:     cfg.Session.QueryTimeout(),
		Logger:      logger,
		Tracer:      tracer,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	reg := mcprt.NewRegistry(sess, tabmcp.BuiltinTools...)
	if err := reg.Load(mcprt.FromConfig(cfg.Queries)); err != nil {
		return err
	}

	srv := tabmcp.NewServer(sess, auditLog, reg, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Server.Transport {
	case config.TransportHTTP:
		return serveHTTP(ctx, cfg, srv)
	default:
		return serveStdio(ctx, srv)
	}
}

func serveStdio(ctx context.Context, srv *server.MCPServer) error {
	stdio := server.NewStdioServer(srv)
	stdio.SetErrorLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError))
	stdio.SetContextFunc(func(ctx context.Context) context.Context {
		return kit.WithTransport(ctx, config.TransportStdio)
	})

	slog.Info("tabula serving", "version", version, "transport", config.TransportStdio)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		slog.Info("tabula stopped")
		return nil
	}
	return err
}

func serveHTTP(ctx context.Context, cfg *config.Config, srv *server.MCPServer) error {
	a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin, cfg.Auth.APIKeyHash)
	var rl *api.RateLimiter
	if cfg.Server.RateLimitPerMin > 0 {
		rl = api.NewRateLimiter(cfg.Server.RateLimitPerMin, time.Minute)
		rl.TrustForwarded = cfg.Server.TrustForwardedFor
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewHandler(api.NewMCPHandler(srv), a, rl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tabula serving",
			"version", version,
			"transport", config.TransportHTTP,
			"addr", cfg.Server.Addr,
			"path", api.MCPPath,
			"auth", a.Enabled(),
		)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
