package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	billingmod "github.com/dmitrymomot/billingkit/modules/billing"
	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/billing/pgstore"
	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/metrics"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/scheduler"
)

const (
	jobRenewalSweep = "renewal_sweep"
	jobOverdueSweep = "overdue_sweep"

	sequencePostgres = "postgres"
	sequenceRedis    = "redis"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Name     string `env:"APP_NAME" envDefault:"billingd"`
	LogLevel string `env:"LOG_LEVEL"`

	RedisEnabled    bool          `env:"REDIS_ENABLED" envDefault:"false"`
	InvoiceSequence string        `env:"BILLING_INVOICE_SEQUENCE" envDefault:"postgres"`
	SweepTimeout    time.Duration `env:"BILLING_SWEEP_TIMEOUT" envDefault:"1h"`
}

func (c appConfig) Validate() error {
	switch c.InvoiceSequence {
	case sequencePostgres:
	case sequenceRedis:
		if !c.RedisEnabled {
			return errors.New("BILLING_INVOICE_SEQUENCE=redis requires REDIS_ENABLED=true")
		}
	default:
		return fmt.Errorf("unknown invoice sequence backend %q", c.InvoiceSequence)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("billingd stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		appCfg     appConfig
		billingCfg billing.Config
		pgCfg      pg.Config
		httpCfg    httpserver.Config
	)
	if err := config.Load(&appCfg); err != nil {
		return fmt.Errorf("app config: %w", err)
	}
	if err := config.Load(&billingCfg); err != nil {
		return fmt.Errorf("billing config: %w", err)
	}
	if err := config.Load(&pgCfg); err != nil {
		return fmt.Errorf("postgres config: %w", err)
	}
	if err := config.Load(&httpCfg); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	log := logger.New(
		logger.WithEnvironment(appCfg.Env, appCfg.Name),
		logger.WithLevelName(appCfg.LogLevel),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, pgstore.Migrations(), log); err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	store := pgstore.New(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer := metrics.NewBilling(reg)

	opts, err := billingCfg.Options()
	if err != nil {
		return err
	}
	opts = append(opts,
		billing.WithLogger(log),
		billing.WithInvoiceObserver(observer),
		billing.WithSweepObserver(observer),
	)

	health := map[string]func(context.Context) error{
		"postgres": pg.Healthcheck(pool),
	}

	if appCfg.RedisEnabled {
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer client.Close()

		health["redis"] = redis.Healthcheck(client)
		opts = append(opts, billing.WithSweepLocker(redis.NewLocker(client, redisCfg.KeyPrefix), billingCfg.SweepLockTTL))
		if appCfg.InvoiceSequence == sequenceRedis {
			seq := redis.NewSequence(client, redisCfg.KeyPrefix, store.MaxInvoiceSeq)
			if err := seq.Seed(ctx); err != nil {
				return err
			}
			opts = append(opts, billing.WithInvoiceNumberer(seq))
		}
	}

	taxes, err := billingCfg.TaxTable()
	if err != nil {
		return err
	}

	catalog := billing.NewCatalog(store, opts...)
	if err := catalog.EnsureSeeded(ctx); err != nil {
		return fmt.Errorf("seed plan catalog: %w", err)
	}
	invoicer := billing.NewInvoicer(store, taxes, store, catalog, opts...)
	lifecycle := billing.NewLifecycle(store, catalog, invoicer, opts...)
	sweep := billing.NewRenewalSweep(lifecycle, opts...)

	jobs, err := newScheduler(log, billingCfg, appCfg.SweepTimeout, sweep, invoicer)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CleanPath)
	r.Use(middleware.Recoverer)
	r.Mount("/billing", billingmod.Router(billingmod.RouterOptions{
		Plans:         catalog,
		Subscriptions: lifecycle,
		Invoices:      invoicer,
		Renewal:       sweep,
		Overdue:       invoicer,
		Health:        health,
		Logger:        log,
	}))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, r)
	})
	g.Go(func() error {
		if err := jobs.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	log.InfoContext(ctx, "billingd started",
		slog.String("addr", httpCfg.Addr),
		slog.Bool("redis", appCfg.RedisEnabled))

	return g.Wait()
}

func newScheduler(log *slog.Logger, cfg billing.Config, timeout time.Duration, sweep *billing.RenewalSweep, invoicer *billing.Invoicer) (*scheduler.Scheduler, error) {
	renewalAt, err := scheduler.DailyAt(cfg.SweepHour, cfg.SweepMinute)
	if err != nil {
		return nil, err
	}
	overdueAt, err := scheduler.DailyAt(cfg.OverdueHour, cfg.OverdueMinute)
	if err != nil {
		return nil, err
	}

	s := scheduler.New(
		scheduler.WithLogger(log),
		scheduler.WithClock(func() time.Time { return time.Now().UTC() }),
	)

	err = s.AddJob(jobRenewalSweep, renewalAt, func(ctx context.Context) error {
		_, err := sweep.Run(ctx)
		if errors.Is(err, billing.ErrSweepInProgress) {
			log.InfoContext(ctx, "renewal sweep running on another instance")
			return nil
		}
		return err
	}, scheduler.WithTimeout(timeout))
	if err != nil {
		return nil, err
	}

	err = s.AddJob(jobOverdueSweep, overdueAt, func(ctx context.Context) error {
		_, err := invoicer.MarkOverdue(ctx, time.Now().UTC())
		return err
	}, scheduler.WithTimeout(timeout))
	if err != nil {
		return nil, err
	}

	return s, nil
}
