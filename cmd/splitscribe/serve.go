package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/splitscribe/internal/auth"
	"github.com/mmynk/splitscribe/internal/images"
	"github.com/mmynk/splitscribe/internal/server"
	"github.com/mmynk/splitscribe/internal/service"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and Connect server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(a.metrics),
		server.WithExpenseService(service.NewExpenseService(a.store, a.provisioner, logger)),
	}
	if cfg.Bucket.Dir != "" {
		opts = append(opts, server.WithBucket(images.NewBucket(cfg.Bucket.Dir, cfg.Server.MaxUploadBytes)))
	}
	if cfg.Auth.JWTSecret != "" {
		opts = append(opts, server.WithAuth(auth.NewJWTManager(cfg.Auth.JWTSecret, time.Hour), cfg.Auth.Required))
	}

	srv := server.New(server.Config{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RequestTimeout: cfg.Server.RequestTimeout.Std(),
		CORSOrigins:    cfg.Server.CORSOrigins,
	}, a.pipeline, opts...)

	// Wrap with h2c for HTTP/2 without TLS (required for Connect streaming clients)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           h2c.NewHandler(srv.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting",
			"address", httpServer.Addr,
			"url", fmt.Sprintf("http://localhost%s", httpServer.Addr),
			"auth_required", cfg.Auth.Required,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
