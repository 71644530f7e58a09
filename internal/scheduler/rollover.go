package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"flui/internal/metrics"
)

const (
	// DefaultBatchSize is the number of due accounts listed per round.
	DefaultBatchSize = 500
	// DefaultConcurrency is the number of accounts rolled in parallel.
	DefaultConcurrency = 8

	rolloverLockID  = "cycle_rollover"
	rolloverJobType = "cycle_rollover"
)

// DueLister finds accounts whose billing cycle has ended.
type DueLister interface {
	ListDueForRollover(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// CycleService rolls one account over. It must be a no-op for accounts
// whose cycle is still running.
type CycleService interface {
	RolloverIfDue(ctx context.Context, accountID string, now time.Time) (bool, error)
}

// RolloverRecorder receives the totals of one sweep.
type RolloverRecorder interface {
	RecordRollover(ctx context.Context, rolled, failed int)
}

// JobLocker is a lease on a named job. See db.JobLockRepository.
type JobLocker interface {
	Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)
}

// JobHistory records job runs. See db.JobHistoryRepository.
type JobHistory interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// RolloverResult summarizes one sweep.
type RolloverResult struct {
	Rolled  int           `json:"rolled"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Locked  bool          `json:"locked,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// CycleRoller resets the monthly budget of every account whose cycle ended.
type CycleRoller struct {
	lister      DueLister
	svc         CycleService
	recorder    RolloverRecorder
	locker      JobLocker
	workerID    string
	lockTTL     time.Duration
	history     JobHistory
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// RollerOption customises a CycleRoller.
type RollerOption func(*CycleRoller)

// WithBatchSize sets how many due accounts are listed per round.
func WithBatchSize(n int) RollerOption {
	return func(c *CycleRoller) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConcurrency sets how many accounts are rolled in parallel.
func WithConcurrency(n int) RollerOption {
	return func(c *CycleRoller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRecorder reports sweep totals to r.
func WithRecorder(r RolloverRecorder) RollerOption {
	return func(c *CycleRoller) { c.recorder = r }
}

// WithJobLock makes the sweep exclusive across workers for ttl.
func WithJobLock(l JobLocker, workerID string, ttl time.Duration) RollerOption {
	return func(c *CycleRoller) {
		c.locker = l
		c.workerID = workerID
		c.lockTTL = ttl
	}
}

// WithJobHistory records every sweep in h.
func WithJobHistory(h JobHistory) RollerOption {
	return func(c *CycleRoller) { c.history = h }
}

// NewCycleRoller creates a CycleRoller.
func NewCycleRoller(lister DueLister, svc CycleService, logger *slog.Logger, opts ...RollerOption) *CycleRoller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CycleRoller{
		lister:      lister,
		svc:         svc,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		lockTTL:     10 * time.Minute,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RollDue rolls over every account due at now.
//
// Due accounts are listed in batches and rolled concurrently. A failing
// account is logged and left due; it is retried by the next sweep. The sweep
// stops when a round yields no account it has not already tried.
func (c *CycleRoller) RollDue(ctx context.Context, now time.Time) (RolloverResult, error) {
	start := time.Now()
	var result RolloverResult

	if c.locker != nil {
		ok, err := c.locker.Acquire(ctx, rolloverLockID, c.workerID, c.lockTTL)
		if err != nil {
			return result, fmt.Errorf("acquiring rollover lock: %w", err)
		}
		if !ok {
			c.logger.InfoContext(ctx, "rollover already running elsewhere", "worker_id", c.workerID)
			result.Locked = true
			return result, nil
		}
	}

	var historyID int64
	if c.history != nil {
		id, err := c.history.Start(ctx, rolloverJobType)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to record job start", "error", err)
		}
		historyID = id
	}

	runErr := c.sweep(ctx, now, &result)
	result.Elapsed = time.Since(start)

	metrics.RolloverRunDuration.Observe(result.Elapsed.Seconds())
	metrics.RolloversTotal.WithLabelValues("rolled").Add(float64(result.Rolled))
	metrics.RolloversTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
	metrics.RolloversTotal.WithLabelValues("failed").Add(float64(result.Failed))
	if c.recorder != nil {
		c.recorder.RecordRollover(ctx, result.Rolled, result.Failed)
	}

	if historyID != 0 {
		status := "success"
		if runErr != nil {
			status = "failed"
		}
		if err := c.history.Finish(ctx, historyID, status, result.Rolled, runErr); err != nil {
			c.logger.WarnContext(ctx, "failed to record job finish", "error", err)
		}
	}

	c.logger.InfoContext(ctx, "cycle rollover complete",
		"rolled", result.Rolled,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"elapsed", result.Elapsed,
	)
	return result, runErr
}

func (c *CycleRoller) sweep(ctx context.Context, now time.Time, result *RolloverResult) error {
	tried := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ids, err := c.lister.ListDueForRollover(ctx, now, c.batchSize)
		if err != nil {
			return fmt.Errorf("listing due accounts: %w", err)
		}

		fresh := ids[:0:0]
		for _, id := range ids {
			if _, ok := tried[id]; !ok {
				tried[id] = struct{}{}
				fresh = append(fresh, id)
			}
		}
		if len(fresh) == 0 {
			return nil
		}

		c.logger.InfoContext(ctx, "rolling over batch",
			"batch_size", len(fresh),
			"total_so_far", result.Rolled,
		)
		c.rollBatch(ctx, now, fresh, result)
	}
}

func (c *CycleRoller) rollBatch(ctx context.Context, now time.Time, ids []string, result *RolloverResult) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			rolled, err := c.svc.RolloverIfDue(gctx, id, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				c.logger.ErrorContext(gctx, "failed to roll over account",
					"account_id", id,
					"error", err,
				)
			case rolled:
				result.Rolled++
			default:
				result.Skipped++
			}
			// Per-account failures never cancel the rest of the batch.
			return nil
		})
	}
	_ = g.Wait()
}
