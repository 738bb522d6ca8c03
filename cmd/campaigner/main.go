package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/lorantk/campaigner/internal/api"
	"github.com/lorantk/campaigner/internal/bounce"
	"github.com/lorantk/campaigner/internal/cache"
	"github.com/lorantk/campaigner/internal/client"
	"github.com/lorantk/campaigner/internal/config"
	"github.com/lorantk/campaigner/internal/repo"
	"github.com/lorantk/campaigner/internal/scheduler"
	"github.com/lorantk/campaigner/internal/service"
)

func main() {
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		slog.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		slog.Error("failed to reach database", "err", err)
		os.Exit(1)
	}

	var bounceCache cache.BounceCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bounceCache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	campaignRepo := repo.NewPostgresCampaignRepo(db)
	recipientRepo := repo.NewPostgresRecipientRepo(db)
	taskRepo := repo.NewPostgresTaskRepo(db)
	bounceRepo := repo.NewPostgresBounceRepo(db)

	smtpDialer := client.NewSMTPDialer(cfg.SMTP)
	dial := func(ctx context.Context) (service.Mailer, error) {
		return smtpDialer.Dial(ctx)
	}

	resolver := service.NewResolver(campaignRepo, recipientRepo, taskRepo)
	sender := service.NewSender(taskRepo)
	reporter := service.NewReporter(campaignRepo, taskRepo, cfg.Report.AdminEmail)
	dispatcher := service.NewDispatcher(cfg.Delivery, campaignRepo, taskRepo, resolver, sender, reporter, dial)

	correlator := bounce.NewCorrelator(campaignRepo, taskRepo, bounceRepo, bounceCache, cfg.SMTP.From)
	mailboxDial := func(ctx context.Context) (bounce.Mailbox, error) {
		return bounce.DialIMAP(ctx, cfg.IMAP)
	}
	scanner := bounce.NewScanner(mailboxDial, correlator)

	deliverySched, err := scheduler.New("delivery", cfg.Delivery.Interval, dispatcher.Tick)
	if err != nil {
		slog.Error("failed to build delivery scheduler", "err", err)
		os.Exit(1)
	}
	bounceSched, err := scheduler.New("bounces", cfg.Bounce.Interval, scanner.Tick)
	if err != nil {
		slog.Error("failed to build bounce scheduler", "err", err)
		os.Exit(1)
	}

	deliverySched.Start()
	bounceSched.Start()

	h := api.NewHandler(deliverySched, bounceSched, dispatcher, campaignRepo, taskRepo, bounceRepo)
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: api.Router(h),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
	}

	bounceSched.Stop()
	deliverySched.Stop()
	slog.Info("shutdown complete")
}
