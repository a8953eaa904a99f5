package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/rs/zerolog"

	"example.com/notes-favorites/internal/config"
	"example.com/notes-favorites/internal/db"
	"example.com/notes-favorites/internal/notes"
	"example.com/notes-favorites/internal/session"
)

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	var audit notes.Auditor = notes.NopAuditor{}
	if cfg.AuditEnabled() {
		dbConn, err := db.Open(ctx, cfg.DatabaseURL, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime)
		if err != nil {
			return err
		}
		defer dbConn.Close()

		if err := dbConn.Migrate(ctx); err != nil {
			return err
		}

		repo, err := notes.NewAuditRepository(ctx, dbConn.SQL)
		if err != nil {
			return fmt.Errorf("prepare audit statements: %w", err)
		}
		defer repo.Close()
		audit = repo
		log.Info().Msg("audit log enabled")
	}

	srv, sessions := newServer(cfg, audit, log)
	startSweeper(ctx, sessions, cfg.SessionSweepEvery, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("notes API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func newServer(cfg config.Config, audit notes.Auditor, log zerolog.Logger) (*http.Server, *session.Registry[*notes.Store]) {
	sessions := session.NewRegistry(func() *notes.Store { return notes.NewStore() }, cfg.SessionTTL)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           notes.NewHandlers(sessions, audit, log).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, sessions
}

// startSweeper evicts idle sessions in the background until ctx is done.
func startSweeper(ctx context.Context, sessions *session.Registry[*notes.Store], every time.Duration, log zerolog.Logger) {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		sessions.Run(ctx, every, func(n int) {
			if n > 0 {
				log.Debug().Int("evicted", n).Int("active", sessions.Len()).Msg("session sweep")
			}
		})
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		log.Error().Err(err).Msg("session sweeper failed")
	}))
}
