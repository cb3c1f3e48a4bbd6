package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/luxsuv-signup/pkg/config"
	"github.com/diagnosis/luxsuv-signup/pkg/database"
	"github.com/diagnosis/luxsuv-signup/pkg/events"
	"github.com/diagnosis/luxsuv-signup/pkg/logger"
	mw "github.com/diagnosis/luxsuv-signup/pkg/middleware"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/handlers"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/hasher"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/mailer"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/metrics"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/otp"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/repository"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/service"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/session"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const serviceName = "signup"

func main() {
	if err := run(); err != nil {
		logger.Error("Signup service error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger.SetDefault(logger.New(os.Stdout, cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := repository.NewStore(pool, cfg.Database.TxTimeout)
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	// Workflow store
	var (
		workflows service.WorkflowStore
		locker    service.Locker
		memStore  *session.MemoryStore
		ready     = store.Ping
	)
	switch cfg.Session.Store {
	case "memory":
		memStore = session.NewMemoryStore(cfg.Auth.SessionTTL)
		workflows = memStore
		locker = service.NewLocalLocker()
		logger.Warn("Using in-process workflow store; sessions do not survive restarts")
	default:
		client, err := session.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		workflows = session.NewRedisStore(client, cfg.Auth.SessionTTL)
		locker = session.NewRedisLocker(client, cfg.Session.LockTTL, cfg.Session.LockWait)
		ready = func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return err
			}
			return client.Ping(ctx).Err()
		}
	}

	// Connect to event bus
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.Enabled {
		bus, err := events.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			return err
		}
		publisher = bus
	}
	defer publisher.Close()

	// Initialize services
	m := metrics.New(prometheus.DefaultRegisterer)
	h := hasher.New(cfg.Hasher)
	userRepo := repository.NewUserRepository(store)
	rateLimitRepo := repository.NewRateLimitRepository(pool)

	codeMailer := mailer.NewCodeMailer(
		newSender(cfg.Email),
		mailer.NewRenderer(cfg.Email.TemplateDir),
		mailer.Address{Name: cfg.Email.FromName, Email: cfg.Email.SMTPFrom},
	)
	machine := workflow.NewMachine(otp.NewChallenge(codeMailer), h, userRepo)
	registration := service.NewRegistrationService(machine, workflows, locker, publisher, m)
	accounts := service.NewAccountService(userRepo, h, cfg)

	handler := handlers.New(registration, accounts, rateLimitRepo, cfg)

	// Setup router
	r := chi.NewRouter()
	r.Use(mw.ClientIP(cfg.Server.TrustProxyHeaders))
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName(serviceName))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(mw.CORS(cfg.Server.AllowedOrigins))
	r.Use(mw.Health)
	r.Use(mw.Ready(ready))

	r.Handle("/metrics", promhttp.Handler())
	handler.Routes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting signup service", "port", cfg.Server.Port, "session_store", cfg.Session.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down signup service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		cleanupRateLimits(gctx, rateLimitRepo, 10*time.Minute)
		return nil
	})

	if memStore != nil {
		g.Go(func() error {
			return memStore.RunSweeper(gctx, time.Minute)
		})
	}

	return g.Wait()
}

// newSender picks the mail transport: dev output, MailerSend when an API key
// is configured, SMTP otherwise.
func newSender(cfg config.EmailConfig) mailer.Sender {
	switch {
	case cfg.DevMode:
		return mailer.NewDevMailer()
	case cfg.MailerSendKey != "":
		return mailer.NewMailerSend(cfg.MailerSendKey)
	default:
		return mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
	}
}

func cleanupRateLimits(ctx context.Context, repo repository.RateLimitRepository, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanupExpired(ctx)
			if err != nil {
				logger.Warn("Rate limit cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("Removed expired rate limit windows", "count", n)
			}
		}
	}
}
