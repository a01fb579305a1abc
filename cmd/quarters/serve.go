package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/quartershq/quarters/internal/api"
	"github.com/quartershq/quarters/internal/auth"
	"github.com/quartershq/quarters/internal/billing"
	"github.com/quartershq/quarters/internal/config"
	"github.com/quartershq/quarters/internal/email"
	"github.com/quartershq/quarters/internal/member"
	"github.com/quartershq/quarters/internal/metrics"
	"github.com/quartershq/quarters/internal/notification"
	"github.com/quartershq/quarters/internal/org"
	"github.com/quartershq/quarters/internal/outbox"
	"github.com/quartershq/quarters/internal/sched"
	"github.com/quartershq/quarters/internal/storage"
	"github.com/quartershq/quarters/internal/user"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Quarters API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// sessionLookup adapts the user store to the auth middleware.
type sessionLookup struct {
	pool  *pgxpool.Pool
	users *user.Store
}

func (s *sessionLookup) LookupSession(ctx context.Context, token string) (*user.User, error) {
	return s.users.GetSessionUser(ctx, s.pool, token)
}

// meteredSender counts deliveries around the Resend client.
type meteredSender struct {
	client  *email.Client
	metrics *metrics.Metrics
}

func (s *meteredSender) Send(ctx context.Context, m email.Message) error {
	if err := s.client.Send(ctx, m); err != nil {
		s.metrics.IncEmailSend("failed")
		return err
	}
	s.metrics.IncEmailSend("sent")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		st := pool.Stat()
		return st.TotalConns(), st.IdleConns(), st.AcquiredConns()
	})

	userStore := user.NewStore()
	orgStore := org.NewStore()
	billingStore := billing.NewStore()
	notificationStore := notification.NewStore()
	storageStore := storage.NewStore()
	outboxStore := outbox.NewStore(pool)

	provider := billing.NewStripeProvider(cfg.Stripe.SecretKey)
	sender := &meteredSender{
		client:  email.NewClient(cfg.Email.APIKey, cfg.Email.From),
		metrics: m,
	}

	orgService := org.NewService(pool, orgStore, userStore, billingStore, storageStore, outboxStore, cfg.SiteURL())
	memberService := member.NewService(pool, userStore, orgStore, notificationStore, outboxStore, cfg.SiteURL())
	billingService := billing.NewService(pool, billingStore, userStore, provider, outboxStore, cfg.SiteURL())

	webhook := billing.NewWebhookProcessor(pool, billingStore, userStore, provider, outboxStore, cfg.Stripe.WebhookSecret)
	webhook.Observe = m.IncWebhookEvent

	worker := outbox.NewWorker(outboxStore, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, cfg.Outbox.MaxAttempts)
	worker.Register(outbox.KindBillingProvision, billingService.ProvisionHandler())
	worker.Register(outbox.KindBillingCancelSubs, billingService.CancelHandler())
	worker.Register(outbox.KindEmailInvitation, email.InvitationHandler(sender))
	worker.Register(outbox.KindEmailSubscriptionNotice, email.SubscriptionNoticeHandler(sender))
	worker.Observe = func(kind, outcome string, d time.Duration) {
		m.IncOutboxTask(kind, outcome)
		m.OutboxRunDuration.Observe(d.Seconds())
	}
	go worker.Start(ctx)

	runner := sched.NewRunner(
		sched.Job{
			Name:    "trial-sweep",
			Every:   cfg.Sched.TrialSweepInterval,
			Timeout: 5 * time.Minute,
			Run:     billingService.SweepExpiredTrials,
		},
		sched.Job{
			Name:    "session-cleanup",
			Every:   cfg.Sched.SessionCleanupInterval,
			Timeout: time.Minute,
			Run: func(ctx context.Context) error {
				if _, err := userStore.CleanExpiredSessions(ctx, pool); err != nil {
					return err
				}
				_, err := userStore.DeleteInactiveSessions(ctx, pool, cfg.Sched.SessionMaxInactiveDays)
				return err
			},
		},
		sched.Job{
			Name:    "gauge-sample",
			Every:   30 * time.Second,
			Timeout: 10 * time.Second,
			Run: func(ctx context.Context) error {
				depth, err := outboxStore.PendingCount(ctx)
				if err != nil {
					return err
				}
				m.OutboxDepth.Set(float64(depth))

				orgs, err := orgStore.Count(ctx, pool)
				if err != nil {
					return err
				}
				m.OrganizationsTotal.Set(float64(orgs))
				return nil
			},
		},
	)
	runner.Start(ctx)

	var sessions auth.SessionLookup = &sessionLookup{pool: pool, users: userStore}
	router := api.NewRouter(api.RouterDeps{
		Pool:           pool,
		Users:          userStore,
		Sessions:       sessions,
		Orgs:           orgService,
		Members:        memberService,
		Billing:        billingService,
		Notifications:  notificationStore,
		Storage:        storageStore,
		Webhook:        webhook,
		Metrics:        m,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	worker.Stop()
	runner.Stop()

	return srv.Shutdown(shutdownCtx)
}
