package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/docsync/internal/engine/mutator"
	"go.trai.ch/docsync/internal/engine/scheduler"
	m "go.trai.ch/docsync/internal/metrics"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// DefaultConfigPath is the configuration file read when none is given.
const DefaultConfigPath = "docsync.yaml"

// resumeSchedule is how often the long-running process replays stuck pending mutations.
const resumeSchedule = "@every 1m"

// App represents the main application logic.
type App struct {
	configLoader ports.ConfigLoader
	logger       ports.Logger
	tracer       ports.Tracer
	scheduler    *scheduler.Scheduler
	configPath   string
}

// New creates a new App instance.
func New(loader ports.ConfigLoader, logger ports.Logger, tracer ports.Tracer, sched *scheduler.Scheduler) *App {
	return &App{
		configLoader: loader,
		logger:       logger,
		tracer:       tracer,
		scheduler:    sched,
		configPath:   DefaultConfigPath,
	}
}

// WithConfigPath sets the configuration file to load.
func (a *App) WithConfigPath(path string) *App {
	if path != "" {
		a.configPath = path
	}
	return a
}

// Session is an open Client together with the stores it runs on.
type Session struct {
	Client *Client
	Config *domain.Config
	events ports.EdgeEventSource
	stores *opened
}

// Close closes the client and then its stores.
func (s *Session) Close() error {
	return errors.Join(s.Client.Close(), s.stores.Close())
}

// Open loads the configuration and opens a Client on the configured stores.
func (a *App) Open(_ context.Context) (*Session, error) {
	cfg, err := a.configLoader.Load(a.configPath)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to load configuration")
	}
	if l, ok := a.logger.(interface{ SetJSON(bool) }); ok {
		l.SetJSON(cfg.Logging.JSON)
	}

	stores, err := openStores(*cfg, a.logger)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to open stores")
	}
	client, err := NewClient(*cfg, stores.stores, a.logger, a.tracer)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	return &Session{Client: client, Config: cfg, events: stores.events, stores: stores}, nil
}

// with runs fn on a freshly opened session.
func (a *App) with(ctx context.Context, fn func(*Session) error) (err error) {
	s, err := a.Open(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.Close()) }()
	return fn(s)
}

// Reconcile repairs drifted counters once.
func (a *App) Reconcile(ctx context.Context) ([]domain.ReconciliationReport, error) {
	var reports []domain.ReconciliationReport
	err := a.with(ctx, func(s *Session) error {
		var err error
		reports, err = s.Client.Reconcile(ctx)
		return err
	})
	return reports, err
}

// Recover uploads the local-only items of userID.
func (a *App) Recover(ctx context.Context, userID string) (int, error) {
	var n int
	err := a.with(ctx, func(s *Session) error {
		var err error
		n, err = s.Client.RecoverLocal(ctx, userID)
		return err
	})
	return n, err
}

// Resume replays pending mutations left by a previous run.
func (a *App) Resume(ctx context.Context) (mutator.ResumeResult, error) {
	var res mutator.ResumeResult
	err := a.with(ctx, func(s *Session) error {
		var err error
		res, err = s.Client.ResumePending(ctx)
		return err
	})
	return res, err
}

// Feed returns one page of the home feed of userID.
func (a *App) Feed(ctx context.Context, userID, cursor string, limit int) ([]domain.Post, string, error) {
	var (
		posts []domain.Post
		next  string
	)
	err := a.with(ctx, func(s *Session) error {
		var err error
		posts, next, err = s.Client.HomeFeed(ctx, userID, cursor, limit)
		return err
	})
	return posts, next, err
}

// Serve runs until ctx is done: the counter sync consumes edge events, the scheduler runs
// reconciliation, pending replay and change log pruning, and metrics are served when an
// address is configured. With recovery.user set, that user's local-only items are uploaded
// in the background on start.
func (a *App) Serve(ctx context.Context) error {
	return a.with(ctx, func(s *Session) error {
		client := s.Client
		jobs := []scheduler.Job{
			{
				Name:     "reconcile",
				Schedule: s.Config.Reconcile.Schedule,
				Run: func(ctx context.Context) error {
					_, err := client.Reconcile(ctx)
					return err
				},
			},
			{
				Name:     "resume",
				Schedule: resumeSchedule,
				Run: func(ctx context.Context) error {
					_, err := client.ResumePending(ctx)
					return err
				},
			},
		}
		if changes := s.stores.changes; changes != nil {
			keep := int64(s.Config.Remote.ChangeRetention)
			jobs = append(jobs, scheduler.Job{
				Name:     "prune-changes",
				Schedule: s.Config.Remote.PruneSchedule,
				Run: func(ctx context.Context) error {
					n, err := changes.PruneChanges(ctx, keep)
					if err != nil {
						return err
					}
					if n > 0 {
						a.logger.Info("pruned change log", "removed", n)
					}
					return nil
				},
			})
		}
		for _, job := range jobs {
			if err := a.scheduler.Add(job); err != nil {
				return err
			}
		}
		if err := a.scheduler.RunNow(ctx, jobs[1]); err != nil {
			a.logger.Error(zerr.Wrap(err, "initial pending replay failed"))
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.scheduler.Run(gctx) })
		g.Go(func() error { return client.RunCounters(gctx, s.events) })
		if user := s.Config.Recovery.User; user != "" {
			done := client.StartRecovery(gctx, user)
			g.Go(func() error {
				<-done
				return nil
			})
		}
		if s.Config.MetricsAddr != "" {
			srv, err := a.metricsServer(s.Config.MetricsAddr, client)
			if err != nil {
				return err
			}
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return zerr.With(zerr.Wrap(err, "metrics server failed"), "addr", srv.Addr)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdown, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdown)
			})
		}
		a.logger.Info("docsync serving", "remote", s.Config.Remote.Driver, "local", s.Config.Local.Driver)
		return g.Wait()
	})
}

func (a *App) metricsServer(addr string, client *Client) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := m.Register(reg, client); err != nil {
		return nil, zerr.Wrap(err, "failed to register metrics")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}, nil
}
