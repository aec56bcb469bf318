// Package main is the entrypoint for the Selah API server.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/selah/selah/internal/access"
	"github.com/selah/selah/internal/auth"
	"github.com/selah/selah/internal/cache"
	"github.com/selah/selah/internal/config"
	"github.com/selah/selah/internal/handler"
	"github.com/selah/selah/internal/logging"
	"github.com/selah/selah/internal/mail"
	"github.com/selah/selah/internal/metrics"
	"github.com/selah/selah/internal/middleware"
	"github.com/selah/selah/internal/reminder"
	"github.com/selah/selah/internal/repository"
	"github.com/selah/selah/internal/server"
	"github.com/selah/selah/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", logging.SanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", logging.RedactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", logging.SanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", logging.RedactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	sessions, err := auth.NewSessions(cfg.SessionSecret, auth.Issuer, 0)
	if err != nil {
		logger.Error("failed to configure sessions", "error", err)
		os.Exit(1)
	}

	sender, err := mail.New(mail.Config{
		Provider: cfg.MailProvider,
		APIURL:   cfg.MailAPIURL,
		APIKey:   cfg.MailAPIKey,
		From:     cfg.MailFrom,
	}, logger)
	if err != nil {
		logger.Error("failed to configure mail", "error", err)
		os.Exit(1)
	}

	// Services
	recorder := metrics.NewInMemory()
	evaluator := access.NewEvaluator(repo, repo)
	reviewCache := cache.NewReviewCache(cacheClient, cfg.ReviewCacheTTL)
	pauseLinks := reminder.NewLinkSigner(cfg.PauseLinkSecret(), cfg.PauseLinkTTL)

	identities := service.NewIdentityService(sessions, repo, cacheClient, logger)
	experiments := service.NewExperimentService(service.ExperimentServiceConfig{
		Store:   repo,
		Access:  evaluator,
		Reviews: reviewCache,
		Links:   pauseLinks,
		Metrics: recorder,
		Logger:  logger,
	})
	organisations := service.NewOrganisationService(service.OrganisationServiceConfig{
		Store:      repo,
		Access:     evaluator,
		Identities: cacheClient,
		InviteTTL:  cfg.InviteTTL,
		Metrics:    recorder,
		Logger:     logger,
	})
	reviews := service.NewReviewService(repo, evaluator, reviewCache, recorder, logger)
	admin := service.NewAdminService(repo, cacheClient, logger)
	scheduler := reminder.NewScheduler(reminder.Config{
		Store:   repo,
		Sender:  sender,
		Signer:  pauseLinks,
		Locker:  cacheClient,
		BaseURL: cfg.BaseURL,
		LockTTL: cfg.ReminderLockTTL,
		Logger:  logger,
		Metrics: recorder,
	})

	// Handlers
	handlers := routes{
		root:          handler.New(),
		health:        handler.NewHealthHandler(repo, cacheClient),
		metrics:       handler.NewMetricsHandler(recorder),
		experiments:   handler.NewExperimentHandler(experiments, logger),
		reviews:       handler.NewReviewHandler(reviews, logger),
		organisations: handler.NewOrganisationHandler(organisations, logger),
		admin:         handler.NewAdminHandler(admin, logger),
		reminders:     handler.NewReminderHandler(scheduler, experiments, logger),
	}

	r := setupRouter(handlers, identities, cacheClient, cfg, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	srv.OnShutdown("postgres", func(ctx context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(ctx context.Context) error {
		return cacheClient.Close()
	})

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"mail_provider", cfg.MailProvider,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

type routes struct {
	root          *handler.Handler
	health        *handler.HealthHandler
	metrics       *handler.MetricsHandler
	experiments   *handler.ExperimentHandler
	reviews       *handler.ReviewHandler
	organisations *handler.OrganisationHandler
	admin         *handler.AdminHandler
	reminders     *handler.ReminderHandler
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h routes,
	identities middleware.IdentityResolver,
	limiter middleware.Limiter,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:                logger,
		Limiter:               limiter,
		Enabled:               cfg.RateLimitEnabled,
		UserRequestsPerMinute: cfg.RateLimitUserRPM,
		UserBurst:             cfg.RateLimitUserBurst,
		IPRequestsPerSecond:   cfg.RateLimitPublicRPS,
		IPBurst:               cfg.RateLimitPublicBurst,
		CheckInsPerHour:       cfg.RateLimitCheckInPerHour,
		CheckInBurst:          cfg.RateLimitCheckInBurst,
	}

	// Probes and metrics (no auth required)
	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)
	r.Get("/metrics", h.metrics.Metrics)
	r.Get("/", h.root.Hello)

	// Scheduler trigger
	r.With(middleware.CronSecret(cfg.CronSecret, logger)).Post("/api/cron/reminders", h.reminders.Run)

	// Pause link from reminder emails: GET confirms, POST pauses
	r.Route("/reminders/pause", func(r chi.Router) {
		r.Use(middleware.RateLimitIP(rateLimitCfg))
		r.Get("/", h.reminders.ConfirmPause)
		r.Post("/", h.reminders.Pause)
	})

	// API v1 routes (require a session)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Session(middleware.SessionConfig{Logger: logger, Identities: identities}))
		r.Use(middleware.RateLimitUser(rateLimitCfg))

		r.Get("/me", h.organisations.Me)
		r.Post("/me/upgrade", h.organisations.Upgrade)

		r.Route("/experiments", func(r chi.Router) {
			r.Get("/", h.experiments.List)
			r.Post("/", h.experiments.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.experiments.Get)
				r.Patch("/", h.experiments.Update)
				r.Delete("/", h.experiments.Delete)
				r.Post("/start", h.experiments.Start)
				r.Post("/complete", h.experiments.Complete)
				r.Put("/fields", h.experiments.ReplaceFields)

				r.Get("/check-ins", h.experiments.ListCheckIns)
				r.With(middleware.RateLimitCheckIns(rateLimitCfg)).Post("/check-ins", h.experiments.RecordCheckIn)

				r.Post("/reminder/pause", h.experiments.PauseReminders)
				r.Post("/reminder/resume", h.experiments.ResumeReminders)
				r.Post("/reminder/snooze", h.experiments.SnoozeReminders)

				r.Get("/review", h.reviews.Result)
				r.Get("/review/summary", h.reviews.Summary)
				r.Get("/review/trends", h.reviews.Trends)
			})
		})

		r.Route("/organisations", func(r chi.Router) {
			r.Get("/", h.organisations.List)
			r.Post("/", h.organisations.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.organisations.Dashboard)
				r.Get("/members", h.organisations.ListMembers)
				r.Post("/members", h.organisations.AddMember)
				r.Patch("/members/{userId}", h.organisations.ChangeMemberRole)
				r.Delete("/members/{userId}", h.organisations.RemoveMember)
				r.Post("/invites", h.organisations.CreateInvite)
				r.Get("/templates", h.organisations.ListTemplates)
				r.Post("/templates", h.organisations.CreateTemplate)
				r.Post("/templates/{templateId}/use", h.organisations.UseTemplate)
			})
		})

		r.Post("/invites/accept", h.organisations.AcceptInvite)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/users", h.admin.ListUsers)
			r.Patch("/users/{id}/role", h.admin.SetUserRole)
		})
	})

	// 404 and 405 handlers
	r.NotFound(h.root.NotFound)
	r.MethodNotAllowed(h.root.MethodNotAllowed)

	return r
}
