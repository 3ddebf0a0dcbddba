package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"labwatch/internal/alerts"
	"labwatch/internal/capture"
	"labwatch/internal/collector"
	"labwatch/internal/config"
	"labwatch/internal/db"
	"labwatch/internal/inventory"
	"labwatch/internal/metrics"
	"labwatch/internal/models"
	"labwatch/internal/notifier"
	"labwatch/internal/retention"
	"labwatch/internal/scheduler"
	"labwatch/internal/web"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db *db.Repository

	sampler   *collector.Service
	retention *retention.Service
	notify    *notifier.Notifier
	sink      notifier.Sink
	web       *web.Server

	httpSrv *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialect, err := db.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	sqldb, err := db.Open(dialect, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb, dialect); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	repo := db.NewRepository(sqldb, dialect)

	inv, err := inventory.Load(cfg.Inventory)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	if err := repo.Provision(context.Background(), inv); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	if err := metrics.RegisterOutboxGauge(prometheus.DefaultRegisterer, repo, logger.With("module", "metrics")); err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	sink, err := newSink(cfg)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	if e, ok := sink.(interface{ Enabled() bool }); ok && !e.Enabled() {
		logger.Warn("notification sink has no token, alerts stay pending", "sink", sink.Name())
	}

	var source collector.Source
	if cfg.Simulate != nil {
		logger.Warn("simulation mode: readings are fixed", "values", cfg.Simulate)
		source = collector.Static(cfg.Simulate)
	} else {
		prober := collector.NewTCPProber(cfg.PingAddr, cfg.PingAttempts, 2*time.Second)
		source = collector.NewHostCollector(cfg.DiskPath, prober)
	}

	w := web.NewServer(repo, logger.With("module", "web"))
	app := &App{
		cfg: cfg,
		log: logger,
		db:  repo,
		sampler: collector.NewService(
			source,
			capture.NewWriter(repo, logger.With("module", "capture")),
			alerts.NewEngine(repo, logger.With("module", "alerts")),
			machineSpecs(inv),
			logger.With("module", "collector"),
		),
		retention: retention.NewService(repo, cfg.RetentionDays, logger.With("module", "retention")),
		notify: notifier.NewNotifier(repo, repo, sink, notifier.Options{
			Lease:       cfg.Lease,
			MaxAttempts: cfg.MaxAttempts,
		}, logger.With("module", "notifier")),
		sink: sink,
		web:  w,
	}
	app.httpSrv = &http.Server{Addr: cfg.Addr, Handler: w.Routes(), ReadHeaderTimeout: 5 * time.Second}
	return app, nil
}

func newSink(cfg config.Config) (notifier.Sink, error) {
	switch cfg.Sink {
	case "slack":
		return notifier.NewSlack(cfg.SlackBotToken), nil
	case "telegram":
		return notifier.NewTelegram(cfg.TelegramBotToken), nil
	case "kafka":
		return notifier.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, 10*time.Second)
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}

// machineSpecs maps each inventory machine's component kinds to component ids.
func machineSpecs(inv *inventory.Inventory) []collector.MachineSpec {
	var out []collector.MachineSpec
	for _, m := range inv.Machines() {
		spec := collector.MachineSpec{ID: m.ID, Components: map[models.ComponentKind]int64{}}
		for _, c := range m.Components {
			spec.Components[models.ComponentKind(c.Kind)] = c.ID
		}
		out = append(out, spec)
	}
	return out
}

// loops returns the scheduled loops this process runs for its role.
func (a *App) loops() []*scheduler.Loop {
	var out []*scheduler.Loop
	logger := a.log.With("module", "scheduler")
	if a.cfg.Role == config.RoleAll || a.cfg.Role == config.RoleSampler {
		out = append(out, scheduler.NewLoop("sample", a.cfg.SampleInterval, func(ctx context.Context) error {
			res := a.sampler.Tick(ctx)
			a.log.Debug("sampling cycle done", "machines", res.Machines, "failed", res.Failed, "alerts", res.Alerts)
			return nil
		}, logger))
		if a.retention.Enabled() {
			out = append(out, scheduler.NewLoop("retention", 6*time.Hour, a.retention.Run, logger))
		}
	}
	if a.cfg.Role == config.RoleAll || a.cfg.Role == config.RoleNotifier {
		out = append(out, scheduler.NewLoop("drain", a.cfg.DrainInterval, a.notify.Tick, logger))
	}
	return out
}

func (a *App) Run(ctx context.Context) error {
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("http server failed", "err", err)
		}
	}()

	var wg sync.WaitGroup
	for _, l := range a.loops() {
		wg.Add(1)
		go func(l *scheduler.Loop) {
			defer wg.Done()
			l.Run(ctx)
		}(l)
	}
	<-ctx.Done()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	if c, ok := a.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Error("close sink", "err", err)
		}
	}
	return a.db.DB().Close()
}
