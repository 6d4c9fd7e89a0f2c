package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/znz-systems/followup/internal/auth"
	"github.com/znz-systems/followup/internal/config"
	"github.com/znz-systems/followup/internal/database"
	"github.com/znz-systems/followup/internal/draft"
	"github.com/znz-systems/followup/internal/gmail"
	"github.com/znz-systems/followup/internal/mail"
	"github.com/znz-systems/followup/internal/ratelimit"
	"github.com/znz-systems/followup/internal/reminder"
	"github.com/znz-systems/followup/internal/store"
	"github.com/znz-systems/followup/internal/store/postgres"
	"github.com/znz-systems/followup/internal/store/sqlite"
	"github.com/znz-systems/followup/internal/tracker"
	"github.com/znz-systems/followup/internal/web"
	"github.com/znz-systems/followup/internal/web/handlers"
	"github.com/znz-systems/followup/migrations"
)

type stores struct {
	db       *sql.DB
	users    store.UserStore
	sessions store.SessionStore
	emails   store.TrackedEmailStore
	settings store.SettingsStore
	drafts   store.DraftStore
	gmail    store.GmailConnectionStore
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreBackend == "sqlite" {
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("using sqlite store", "path", cfg.SQLitePath)
		return &stores{db: st.DB(), users: st, sessions: st, emails: st, settings: st, drafts: st, gmail: st}, nil
	}

	db, err := postgres.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := database.RunMigrations(migrations.FS, cfg.DatabaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &stores{
		db:       db,
		users:    postgres.NewUserStore(db),
		sessions: postgres.NewSessionStore(db),
		emails:   postgres.NewTrackedEmailStore(db),
		settings: postgres.NewSettingsStore(db),
		drafts:   postgres.NewDraftStore(db),
		gmail:    postgres.NewGmailConnectionStore(db),
	}, nil
}

func setupLogger(cfg *config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores
	st, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer st.db.Close()

	// Services
	authService := auth.NewService(st.users, st.sessions, cfg.SessionMaxAge)
	trackerService := tracker.NewService(st.emails, st.settings, st.drafts)
	gmailService := gmail.NewService(gmail.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
	}, st.gmail)
	if !gmailService.Configured() {
		slog.Warn("GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set, gmail integration disabled")
	}
	draftService := draft.NewService(draft.Config{APIKey: cfg.AIAPIKey, BaseURL: cfg.AIBaseURL, Model: cfg.AIModel})
	if !draftService.Configured() {
		slog.Warn("AI_API_KEY not set, draft generation disabled")
	}

	// Rate limiters
	apiLimiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer apiLimiter.Stop()
	gmailLimiter := ratelimit.NewLimiter(cfg.GmailRPS, int(cfg.GmailRPS)+1)
	defer gmailLimiter.Stop()

	connector := gmail.NewConnector(gmailService, gmailLimiter, gmail.FetchOptions{
		MaxResults: int64(cfg.GmailMaxResults),
		DaysBack:   cfg.GmailDaysBack,
	})

	var notifier reminder.Notifier = mail.NoopNotifier{}
	if cfg.SMTPEnabled {
		smtpClient := mail.NewSMTPClient(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
		notifier = mail.NewDigestNotifier(smtpClient, st.users)
	}

	// Handlers
	router := web.NewRouter(web.RouterDeps{
		AuthHandler:     handlers.NewAuthHandler(authService),
		FollowupHandler: handlers.NewFollowupHandler(trackerService),
		SettingsHandler: handlers.NewSettingsHandler(trackerService),
		GmailHandler:    handlers.NewGmailHandler(gmailService, connector, trackerService, callbackRedirect(cfg)),
		DraftHandler:    handlers.NewDraftHandler(draftService, trackerService),
		HealthHandler:   handlers.NewHealthHandler(st.db),
		Sessions:        authService,
		Limiter:         apiLimiter,
		CORSOrigin:      cfg.CORSOrigin,
	})

	// Background work
	go authService.CleanupSessions(ctx, time.Hour)

	if gmailService.Configured() && cfg.ReminderInterval > 0 {
		worker := reminder.NewWorker(trackerService, st.gmail, connector, connector, notifier, draftService, reminder.Options{
			Interval: time.Duration(cfg.ReminderInterval) * time.Minute,
		})
		go worker.Run(ctx)
	}

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Streamed drafts can take longer than a normal response.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("followup starting", "addr", addr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// callbackRedirect sends the browser back to the web client after OAuth when
// CORS_ORIGIN names it.
func callbackRedirect(cfg *config.Config) string {
	if cfg.CORSOrigin == "" || cfg.CORSOrigin == "*" {
		return ""
	}
	return strings.TrimRight(cfg.CORSOrigin, "/") + "/settings"
}
