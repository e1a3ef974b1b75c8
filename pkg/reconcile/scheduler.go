package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

// Store lists the records the sweep works on. subscription.Store satisfies it.
type Store interface {
	ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error)
	ListStale(ctx context.Context, seenBefore time.Time, after subscription.StaleCursor, limit int) ([]*subscription.Subscription, error)
	MarkChecked(ctx context.Context, orgID uuid.UUID, at time.Time) error
	PruneReceipts(ctx context.Context, receivedBefore time.Time) (int64, error)
}

// Report summarizes one sweep.
type Report struct {
	StartedAt  time.Time
	Duration   time.Duration
	Expired    int   // Trials moved to EXPIRED
	Reconciled int   // Records corrected from a remote snapshot
	InSync     int   // Records whose remote snapshot matched
	Failed     int   // Records that returned an error
	Panics     int   // Records whose processing panicked
	Pruned     int64 // Webhook receipts removed
}

type tally struct {
	expired, reconciled, inSync, failed, panics atomic.Int64
}

// Scheduler periodically expires trials, corrects drift against the gateways and
// prunes old webhook receipts. Every mutation goes through subscription.Service.
type Scheduler struct {
	subs     subscription.Service
	store    Store
	gateways map[subscription.Provider]gateway.Gateway
	cfg      Config
	limiter  *rate.Limiter

	logger     *slog.Logger
	now        func() time.Time
	onSweep    SweepHook
	runOnStart bool

	running sync.Mutex
}

// New creates a Scheduler. Panics if subs or store is nil.
func New(subs subscription.Service, store Store, gateways []gateway.Gateway, cfg Config, opts ...Option) *Scheduler {
	if subs == nil {
		panic("reconcile: subscription.Service is required")
	}
	if store == nil {
		panic("reconcile: Store is required")
	}

	cfg = cfg.normalize()
	s := &Scheduler{
		subs:     subs,
		store:    store,
		gateways: make(map[subscription.Provider]gateway.Gateway, len(gateways)),
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.FetchRate), cfg.Concurrency),
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, g := range gateways {
		if g != nil {
			s.gateways[g.Provider()] = g
		}
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(logger.Component("reconcile"))
	return s
}

// Start runs a sweep every Config.Interval until ctx is cancelled. A tick that
// fires while the previous sweep is still running is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc("@every "+s.cfg.Interval.String(), func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	if s.runOnStart {
		s.tick(ctx)
	}

	c.Start()
	s.logger.InfoContext(ctx, "reconciliation scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("concurrency", s.cfg.Concurrency),
	)

	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("reconciliation scheduler stopped")
	return nil
}

// Run returns Start as a function suitable for errgroup.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		return s.Start(ctx)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "reconciliation sweep failed", logger.Error(err))
	}
}

// Sweep runs trial expiry, drift reconciliation and receipt pruning once.
// Failures of single records are counted in the report; the returned error only
// covers listing and pruning. Returns ErrSweepInProgress if a sweep is running.
func (s *Scheduler) Sweep(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	started := time.Now()
	now := s.now()

	var t tally
	var errs []error
	if err := s.expireTrials(ctx, now, &t); err != nil {
		errs = append(errs, fmt.Errorf("expire trials: %w", err))
	}
	if err := s.reconcileDrift(ctx, now, &t); err != nil {
		errs = append(errs, fmt.Errorf("reconcile drift: %w", err))
	}

	var pruned int64
	if s.cfg.ReceiptRetention > 0 {
		n, err := s.store.PruneReceipts(ctx, now.Add(-s.cfg.ReceiptRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune receipts: %w", err))
		}
		pruned = n
	}

	rep := Report{
		StartedAt:  now,
		Duration:   time.Since(started),
		Expired:    int(t.expired.Load()),
		Reconciled: int(t.reconciled.Load()),
		InSync:     int(t.inSync.Load()),
		Failed:     int(t.failed.Load()),
		Panics:     int(t.panics.Load()),
		Pruned:     pruned,
	}

	s.logger.InfoContext(ctx, "reconciliation sweep finished",
		slog.Int("expired", rep.Expired),
		slog.Int("reconciled", rep.Reconciled),
		slog.Int("in_sync", rep.InSync),
		slog.Int("failed", rep.Failed),
		slog.Int("panics", rep.Panics),
		slog.Int64("pruned", rep.Pruned),
		logger.Duration(rep.Duration),
	)
	if s.onSweep != nil {
		s.onSweep(rep)
	}

	return rep, errors.Join(errs...)
}

// expireTrials pages through expired trials until a page makes no progress.
func (s *Scheduler) expireTrials(ctx context.Context, now time.Time, t *tally) error {
	for {
		batch, err := s.store.ListExpiredTrials(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return err
		}

		before := t.expired.Load()
		s.each(ctx, batch, t, func(ctx context.Context, sub *subscription.Subscription) error {
			return s.expire(ctx, sub, t)
		})

		if len(batch) < s.cfg.BatchSize || t.expired.Load() == before || ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Scheduler) expire(ctx context.Context, sub *subscription.Subscription, t *tally) error {
	if sub.TrialWindow == nil {
		return nil
	}

	res, err := s.subs.ApplyEvent(ctx, sub.OrganizationID, subscription.Event{
		ID:   fmt.Sprintf("trial-expired:%s:%d", sub.OrganizationID, sub.TrialWindow.End.Unix()),
		Kind: subscription.EventTrialExpired,
	}, nil)
	if err != nil {
		return err
	}
	if res.Outcome == subscription.OutcomeApplied {
		t.expired.Add(1)
		s.logger.InfoContext(ctx, "trial expired",
			logger.OrganizationID(sub.OrganizationID),
			slog.Time("trial_end", sub.TrialWindow.End),
		)
	}
	return nil
}

// reconcileDrift walks every record not seen within the drift threshold, a page
// at a time. The cursor moves past failed records so they cannot hold back the
// rest; they are picked up again by the next sweep.
func (s *Scheduler) reconcileDrift(ctx context.Context, now time.Time, t *tally) error {
	var after subscription.StaleCursor
	for {
		batch, err := s.store.ListStale(ctx, now.Add(-s.cfg.DriftThreshold), after, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		s.each(ctx, batch, t, func(ctx context.Context, sub *subscription.Subscription) error {
			return s.reconcile(ctx, sub, now, t)
		})

		if len(batch) < s.cfg.BatchSize || ctx.Err() != nil {
			return nil
		}
		after = subscription.CursorAfter(batch[len(batch)-1])
	}
}

func (s *Scheduler) reconcile(ctx context.Context, sub *subscription.Subscription, now time.Time, t *tally) error {
	g, ok := s.gateways[sub.Refs.Provider]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoGateway, sub.Refs.Provider)
	}

	snap, err := s.fetch(ctx, g, sub.Refs.SubscriptionID)
	if err != nil {
		return err
	}

	events := driftEvents(sub, snap)
	changed := false
	for _, ev := range events {
		res, err := s.subs.ApplyEvent(ctx, sub.OrganizationID, ev, nil)
		if err != nil {
			return err
		}
		if res.Outcome == subscription.OutcomeApplied {
			changed = true
		}
	}

	if err := s.store.MarkChecked(ctx, sub.OrganizationID, now); err != nil {
		return fmt.Errorf("mark checked: %w", err)
	}

	if !changed {
		t.inSync.Add(1)
		return nil
	}

	t.reconciled.Add(1)
	s.logger.InfoContext(ctx, "subscription drift corrected",
		logger.OrganizationID(sub.OrganizationID),
		logger.Provider(snap.Provider),
		slog.String("local_status", sub.Status.String()),
		slog.String("remote_status", snap.Status.String()),
	)
	return nil
}

// fetch retries transient gateway failures with exponential backoff. Every
// attempt waits for the shared rate limiter.
func (s *Scheduler) fetch(ctx context.Context, g gateway.Gateway, ref string) (*gateway.RemoteSnapshot, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.FetchBackoff
	eb.MaxInterval = 10 * s.cfg.FetchBackoff

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.cfg.FetchAttempts-1)), ctx)

	return backoff.RetryWithData(func() (*gateway.RemoteSnapshot, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()

		snap, err := g.FetchRemoteStatus(callCtx, ref)
		if err != nil && !gateway.IsUnavailable(err) {
			return nil, backoff.Permanent(err)
		}
		return snap, err
	}, policy)
}

// each runs fn for every record on a bounded pool. Errors and panics are
// counted and logged, never propagated.
func (s *Scheduler) each(ctx context.Context, subs []*subscription.Subscription, t *tally, fn func(context.Context, *subscription.Subscription) error) {
	p := pool.New().WithMaxGoroutines(s.cfg.Concurrency)
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		p.Go(func() {
			var pc panics.Catcher
			var err error
			pc.Try(func() { err = fn(ctx, sub) })

			if r := pc.Recovered(); r != nil {
				t.panics.Add(1)
				s.logger.ErrorContext(ctx, "reconciliation panicked",
					logger.OrganizationID(sub.OrganizationID),
					slog.Any("panic", r.Value),
					slog.String("stack", string(r.Stack)),
				)
				return
			}
			if err != nil {
				t.failed.Add(1)
				s.logger.WarnContext(ctx, "reconciliation failed",
					logger.OrganizationID(sub.OrganizationID),
					logger.Provider(sub.Refs.Provider),
					logger.Error(err),
				)
			}
		})
	}
	p.Wait()
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, logger.Error(err))...)
}
