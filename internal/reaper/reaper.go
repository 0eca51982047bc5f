// Package reaper reclaims expired shares. The same deletion routine backs
// the periodic sweep and lazy expiry on read.
package reaper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tgdrive/qdrop/internal/blobstore"
	"github.com/tgdrive/qdrop/internal/registry"
	"github.com/tgdrive/qdrop/pkg/models"
)

var (
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qdrop_reaper_sweeps_total",
		Help: "Number of completed expiry sweeps",
	})
	sweepsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qdrop_reaper_sweeps_skipped_total",
		Help: "Sweeps skipped because the previous one was still running",
	})
	reapedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qdrop_reaper_reaped_total",
		Help: "Shares deleted after expiry",
	}, []string{"trigger"})
	orphansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qdrop_reaper_orphans_removed_total",
		Help: "Containers removed because no share owns them",
	})
	errorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qdrop_reaper_errors_total",
		Help: "Failed deletions, retried on the next sweep",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qdrop_reaper_sweep_duration_seconds",
		Help:    "Duration of expiry sweeps",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})
)

type Config struct {
	Interval time.Duration
	Workers  int
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Scanned  int
	Reaped   int
	Orphans  int
	Errors   int
	Skipped  bool
	Duration time.Duration
}

type Reaper struct {
	registry *registry.Registry
	store    blobstore.Store
	cfg      Config
	logger   *zap.Logger

	running atomic.Bool

	// orphan candidates by location, with the time they were first seen
	mu      sync.Mutex
	orphans map[string]time.Time

	cron *cron.Cron
}

func New(reg *registry.Registry, store blobstore.Store, cfg Config, logger *zap.Logger) *Reaper {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		registry: reg,
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("reaper"),
		orphans:  make(map[string]time.Time),
	}
}

// Reap deletes the share's bytes and then its metadata. If the bytes cannot
// be removed the metadata stays so the next sweep retries.
func (r *Reaper) Reap(ctx context.Context, s *models.Share) error {
	if err := r.store.DeleteContainer(ctx, s.StorageLocation); err != nil {
		return errors.Wrapf(err, "delete container %s", s.StorageLocation)
	}
	if err := r.registry.Remove(ctx, s); err != nil {
		return errors.Wrapf(err, "remove share %s", s.Code)
	}
	return nil
}

// Expire is the lazy expiry hook installed on the registry.
func (r *Reaper) Expire(ctx context.Context, s *models.Share) {
	if err := r.Reap(ctx, s); err != nil {
		errorsTotal.Inc()
		r.logger.Warn("reaper.lazy_failed", zap.String("code", s.Code), zap.Error(err))
		return
	}
	reapedTotal.WithLabelValues("lazy").Inc()
	r.logger.Debug("reaper.lazy_reaped", zap.String("code", s.Code))
}

// Sweep deletes every expired share and orphaned container. Errors are
// logged and counted, never returned. A sweep started while another one
// is running returns immediately with Skipped set.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	if !r.running.CompareAndSwap(false, true) {
		sweepsSkippedTotal.Inc()
		r.logger.Debug("reaper.sweep_skipped")
		return SweepResult{Skipped: true}
	}
	defer r.running.Store(false)

	start := time.Now()
	var res SweepResult

	shares, err := r.registry.List(ctx)
	if err != nil {
		errorsTotal.Inc()
		r.logger.Error("reaper.list_failed", zap.Error(err))
		res.Errors++
		return res
	}
	res.Scanned = len(shares)

	owned := make(map[string]struct{}, len(shares))
	var expired []*models.Share
	for _, s := range shares {
		owned[s.StorageLocation] = struct{}{}
		if r.registry.Expired(s) {
			expired = append(expired, s)
		}
	}

	var reaped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, s := range expired {
		g.Go(func() error {
			if err := r.Reap(gctx, s); err != nil {
				failed.Add(1)
				errorsTotal.Inc()
				r.logger.Warn("reaper.reap_failed", zap.String("code", s.Code), zap.Error(err))
				return nil
			}
			reaped.Add(1)
			reapedTotal.WithLabelValues("sweep").Inc()
			return nil
		})
	}
	_ = g.Wait()

	res.Reaped = int(reaped.Load())
	res.Errors = int(failed.Load())

	orphans, errs := r.removeOrphans(ctx, owned)
	res.Orphans = orphans
	res.Errors += errs

	res.Duration = time.Since(start)
	sweepsTotal.Inc()
	sweepDuration.Observe(res.Duration.Seconds())

	if res.Reaped > 0 || res.Orphans > 0 || res.Errors > 0 {
		r.logger.Info("reaper.sweep_done",
			zap.Int("scanned", res.Scanned),
			zap.Int("reaped", res.Reaped),
			zap.Int("orphans", res.Orphans),
			zap.Int("errors", res.Errors),
			zap.Duration("took", res.Duration))
	}
	return res
}

// removeOrphans deletes containers that no share points at once they have
// been seen unowned for a full TTL. Containers of in-flight uploads are
// left alone.
func (r *Reaper) removeOrphans(ctx context.Context, owned map[string]struct{}) (int, int) {
	locations, err := r.store.Containers(ctx)
	if err != nil {
		errorsTotal.Inc()
		r.logger.Warn("reaper.containers_failed", zap.Error(err))
		return 0, 1
	}

	now := r.registry.Now()
	grace := r.registry.TTL()

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(locations))
	removed, failed := 0, 0
	for _, loc := range locations {
		if _, ok := owned[loc]; ok {
			continue
		}
		if r.registry.Reserved(blobstore.CodeOf(loc)) {
			continue
		}
		seen[loc] = struct{}{}
		first, ok := r.orphans[loc]
		if !ok {
			r.orphans[loc] = now
			continue
		}
		if now.Sub(first) < grace {
			continue
		}
		if err := r.store.DeleteContainer(ctx, loc); err != nil {
			failed++
			errorsTotal.Inc()
			r.logger.Warn("reaper.orphan_failed", zap.String("location", loc), zap.Error(err))
			continue
		}
		delete(r.orphans, loc)
		removed++
		orphansTotal.Inc()
		r.logger.Debug("reaper.orphan_removed", zap.String("location", loc))
	}
	for loc := range r.orphans {
		if _, ok := seen[loc]; !ok {
			delete(r.orphans, loc)
		}
	}
	return removed, failed
}

// Start schedules Sweep every Interval until ctx is cancelled or Stop is
// called.
func (r *Reaper) Start(ctx context.Context) {
	logger := cronLogger{r.logger.Sugar()}
	r.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	r.cron.Schedule(cron.Every(r.cfg.Interval), cron.FuncJob(func() {
		r.Sweep(ctx)
	}))
	r.cron.Start()
	r.logger.Info("reaper.started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("workers", r.cfg.Workers))

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw("cron."+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw("cron."+msg, append(keysAndValues, "err", err)...)
}
