package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hochat/internal/httpapi"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr     string
		autoload bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon",
		Example: "  hochat serve --addr 127.0.0.1:8080\n" +
			"  hochat --config hochat.yaml serve --load",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Addr = addr
			}
			return a.serve(cmd.Context(), autoload)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().BoolVar(&autoload, "load", false, "Load the selected model on startup")
	return cmd
}

func (a *app) serve(parent context.Context, autoload bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := a.openStack(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.close(context.Background()); err != nil {
			a.log.Warn().Err(err).Msg("shutdown_incomplete")
		}
	}()

	if a.cfg.RetentionDays > 0 {
		if n, err := s.mgr.Prune(ctx, a.cfg.RetentionDays); err != nil {
			a.log.Warn().Err(err).Msg("retention_prune_failed")
		} else if n > 0 {
			a.log.Info().Int("deleted", n).Int("days_to_keep", a.cfg.RetentionDays).Msg("retention_pruned")
		}
	}
	if autoload {
		if err := s.mgr.StartLoad(""); err != nil {
			a.log.Warn().Err(err).Msg("autoload_failed")
		}
	}

	httpapi.SetLogger(a.log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(a.cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(a.cfg.CORS.Enabled, a.cfg.CORS.Origins, nil, nil)

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           httpapi.NewMux(s.mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Str("db", a.cfg.Database.Driver).Str("cache", s.tier.Name()).Msg("hochat listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
