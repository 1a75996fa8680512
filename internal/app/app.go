package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ykvlv/checkin-bot/internal/config"
	"github.com/ykvlv/checkin-bot/internal/domain"
	"github.com/ykvlv/checkin-bot/internal/lifecycle"
	"github.com/ykvlv/checkin-bot/internal/metrics"
	"github.com/ykvlv/checkin-bot/internal/scheduler"
	"github.com/ykvlv/checkin-bot/internal/stats"
	"github.com/ykvlv/checkin-bot/internal/store"
	"github.com/ykvlv/checkin-bot/internal/telegram"
	"github.com/ykvlv/checkin-bot/internal/timers"
)

type App struct {
	cfg      config.Config
	log      *zap.Logger
	bot      *tgbotapi.BotAPI
	resolver domain.Resolver
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	offsets, err := cfg.Offsets()
	if err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		cfg:      cfg,
		log:      log,
		bot:      bot,
		resolver: domain.NewResolver(offsets),
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting checkin-bot",
		zap.String("bot", a.bot.Self.UserName),
		zap.String("http", a.cfg.HTTPAddr),
	)

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	defer func() { _ = repo.Close() }()
	a.log.Info("sqlite ready", zap.String("path", a.cfg.DBPath))

	registry := timers.New(a.log.Named("timers"), timers.WithStaleHook(a.metrics.StaleFiring))
	engine := lifecycle.NewEngine(repo, a.log.Named("lifecycle"), a.metrics, nil, lifecycle.Options{
		RemindLimit: a.cfg.RemindLaterMax,
		RetryDelay:  a.cfg.RemindLaterDelay,
	})
	limiter := rate.NewLimiter(rate.Limit(a.cfg.SendRate), a.cfg.SendBurst)
	out := telegram.NewNotifier(a.bot, limiter, a.log.Named("telegram"), a.cfg.RemindLaterMax, a.cfg.RemindLaterDelay)
	coord := scheduler.New(scheduler.Deps{
		Repo:     repo,
		Engine:   engine,
		Timers:   registry,
		Resolver: a.resolver,
		Sender:   out,
		Log:      a.log.Named("scheduler"),
		Metrics:  a.metrics,
	}, scheduler.Options{
		BackoffMin: a.cfg.ReconcileBackoffMin,
		BackoffMax: a.cfg.ReconcileBackoffMax,
	})
	router := telegram.NewRouter(out, a.log.Named("router"), coord, stats.NewAggregator(repo), a.cfg.DefaultTZ)

	httpSrv := &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      newDiagnostics(a.log, repo.Ping, coord, a.registry),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		coord.Run(ctx)
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
			a.bot.StopReceivingUpdates()

			// Create a short-lived shutdown context and cancel it immediately after use.
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := httpSrv.Shutdown(shCtx)
			cancel()
			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}

			<-schedDone
			return nil

		case upd := <-updCh:
			router.HandleUpdate(ctx, upd)
		}
	}
}
