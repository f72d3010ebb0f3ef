// Package orchestrator pulls tasks from the task service into the store and
// drains the queue one task at a time through a workflow runner.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/steamok/usmapctl/internal/artifact"
	"github.com/steamok/usmapctl/internal/tasksource"
	"github.com/steamok/usmapctl/internal/taskstore"
	"github.com/steamok/usmapctl/internal/workflow"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTaskLimit     = 5
	DefaultPullInterval  = 60 * time.Second
	DefaultCheckInterval = 30 * time.Second
	DefaultPostBatchWait = 30 * time.Second
	DefaultRetryDelay    = 10 * time.Second
	DefaultPassAttempts  = 3
	DefaultLeaseTTL      = 30 * time.Minute
)

// TaskRunner executes one task. workflow.Runner is the production runner.
type TaskRunner interface {
	Run(ctx context.Context, task taskstore.Task) workflow.Result
}

// Config tunes the loops. Zero values select the defaults.
type Config struct {
	TaskLimit     int
	PullInterval  time.Duration
	CheckInterval time.Duration
	PostBatchWait time.Duration
	RetryDelay    time.Duration
	PassAttempts  int

	LeaseTTL    time.Duration
	LeasePolicy taskstore.RecoveryPolicy
	Holder      taskstore.Holder
}

// Deps are the collaborators of an Orchestrator. Source and Uploader are
// optional: without a source only already stored tasks are drained, without
// an uploader artifacts stay local.
type Deps struct {
	Store    taskstore.Store
	Source   tasksource.Source
	Runner   TaskRunner
	Uploader artifact.Uploader
	// Alive reports whether a lease holder still runs. Defaults to
	// HolderAlive.
	Alive func(taskstore.Lease) bool

	Logger *slog.Logger
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Orchestrator owns the pull and drain loops.
type Orchestrator struct {
	deps Deps
	cfg  Config
}

// New validates deps and fills config defaults.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if deps.Runner == nil {
		return nil, errors.New("orchestrator: runner is required")
	}
	policy, err := taskstore.ParseRecoveryPolicy(string(cfg.LeasePolicy))
	if err != nil {
		return nil, err
	}
	cfg.LeasePolicy = policy

	if cfg.TaskLimit <= 0 {
		cfg.TaskLimit = DefaultTaskLimit
	}
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = DefaultPullInterval
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.PostBatchWait <= 0 {
		cfg.PostBatchWait = DefaultPostBatchWait
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.PassAttempts <= 0 {
		cfg.PassAttempts = DefaultPassAttempts
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}

	if deps.Alive == nil {
		deps.Alive = HolderAlive
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	return &Orchestrator{deps: deps, cfg: cfg}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run recovers abandoned tasks and then runs the pull and drain loops until
// ctx ends. Only an unwritable store stops it early.
func (o *Orchestrator) Run(ctx context.Context) error {
	if _, err := o.Recover(ctx); fatal(err) {
		return err
	}

	o.deps.Logger.Info("orchestrator started",
		slog.Int("task_limit", o.cfg.TaskLimit),
		slog.Duration("pull_interval", o.cfg.PullInterval),
		slog.Duration("check_interval", o.cfg.CheckInterval),
		slog.String("lease_policy", string(o.cfg.LeasePolicy)))

	g, gctx := errgroup.WithContext(ctx)
	if o.deps.Source != nil {
		g.Go(func() error { return o.pullLoop(gctx) })
	}
	g.Go(func() error { return o.drainLoop(gctx) })
	err := g.Wait()

	o.deps.Logger.Info("orchestrator stopped", slog.Any("error", err))
	return err
}

// fatal reports errors that must stop the loops.
func fatal(err error) bool {
	return errors.Is(err, taskstore.ErrStoreUnwritable)
}

func (o *Orchestrator) pullLoop(ctx context.Context) error {
	for {
		if _, err := o.PullOnce(ctx); err != nil {
			if fatal(err) {
				return err
			}
			if ctx.Err() == nil {
				o.deps.Logger.Warn("pulling tasks failed", slog.Any("error", err))
			}
		}
		if err := o.deps.Sleep(ctx, o.cfg.PullInterval); err != nil {
			return nil
		}
	}
}

func (o *Orchestrator) drainLoop(ctx context.Context) error {
	for {
		processed, err := o.DrainOnce(ctx)
		if err != nil {
			if fatal(err) {
				return err
			}
			if ctx.Err() == nil {
				o.deps.Logger.Warn("draining tasks failed", slog.Any("error", err))
			}
		}
		wait := o.cfg.CheckInterval
		if processed > 0 {
			wait = o.cfg.PostBatchWait
		}
		if err := o.deps.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// PullOnce fetches candidates and inserts the new ones. It returns the
// inserted tasks.
func (o *Orchestrator) PullOnce(ctx context.Context) ([]taskstore.Task, error) {
	if o.deps.Source == nil {
		return nil, errors.New("no task source configured")
	}
	candidates, err := o.deps.Source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	inserted, err := o.deps.Store.PullNew(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("insert pulled tasks: %w", err)
	}
	o.deps.Logger.Debug("pull finished",
		slog.Int("fetched", len(candidates)),
		slog.Int("inserted", len(inserted)))
	return inserted, nil
}

// Recover resolves processing tasks abandoned by a dead holder.
func (o *Orchestrator) Recover(ctx context.Context) ([]taskstore.Task, error) {
	recovered, err := o.deps.Store.RecoverExpired(ctx, taskstore.RecoverOptions{
		Policy: o.cfg.LeasePolicy,
		TTL:    o.cfg.LeaseTTL,
		Alive:  o.deps.Alive,
	})
	if err != nil {
		return nil, fmt.Errorf("recover abandoned tasks: %w", err)
	}
	return recovered, nil
}

// DrainOnce processes up to TaskLimit unprocessed tasks in insertion order
// and returns how many it took on.
func (o *Orchestrator) DrainOnce(ctx context.Context) (int, error) {
	if _, err := o.Recover(ctx); err != nil {
		if fatal(err) {
			return 0, err
		}
		o.deps.Logger.Warn("lease recovery failed", slog.Any("error", err))
	}

	tasks, err := o.deps.Store.ListUnprocessed(ctx, o.cfg.TaskLimit)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed tasks: %w", err)
	}

	processed := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return processed, nil
		}
		ok, err := o.Process(ctx, task)
		if err != nil {
			if fatal(err) {
				return processed, err
			}
			o.deps.Logger.Warn("processing task failed",
				slog.String("task_id", task.ID),
				slog.Any("error", err))
		}
		if ok {
			processed++
		}
	}
	return processed, nil
}

// Process claims task, runs it and records the outcome. It reports whether
// the task was taken on; tasks claimed by someone else are skipped.
func (o *Orchestrator) Process(ctx context.Context, task taskstore.Task) (bool, error) {
	logger := o.deps.Logger.With(slog.String("task_id", task.ID))

	lease := taskstore.NewLease(o.cfg.Holder, o.deps.Now(), o.cfg.LeaseTTL)
	claimed, err := o.deps.Store.Claim(ctx, task.ID, lease)
	switch {
	case errors.Is(err, taskstore.ErrBusy), errors.Is(err, taskstore.ErrInvalidTransition):
		logger.Info("task skipped", slog.Any("reason", err))
		return false, nil
	case err != nil:
		return false, fmt.Errorf("claim task %s: %w", task.ID, err)
	}
	logger.Info("task claimed",
		slog.String("display_name", claimed.DisplayName),
		slog.String("lease_id", lease.ID))

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Go(func() { o.heartbeat(hbCtx, claimed.ID, lease.ID, logger) })
	result := o.runPasses(ctx, claimed, logger)
	stopHeartbeat()
	hb.Wait()

	// The outcome is recorded even when shutdown interrupted the run.
	writeCtx := context.WithoutCancel(ctx)
	update := taskstore.Update{LeaseID: lease.ID}
	switch {
	case result.Succeeded:
		update.Status = taskstore.Completed
		update.ArtifactPath = result.ArtifactPath
	case ctx.Err() != nil:
		update.Status = taskstore.Unprocessed
	default:
		update.Status = taskstore.Error
		update.ErrorDetail = result.Detail
		if update.ErrorDetail == "" {
			update.ErrorDetail = "task failed without detail"
		}
	}

	final, err := o.deps.Store.Transition(writeCtx, claimed.ID, update)
	if err != nil {
		return true, fmt.Errorf("record task %s outcome: %w", claimed.ID, err)
	}
	logger.Info("task finished",
		slog.String("status", string(final.Status)),
		slog.String("artifact_path", final.ArtifactPath),
		slog.String("error_detail", final.ErrorDetail),
		slog.Int("attempts", result.Attempts))

	if final.Status == taskstore.Completed && final.HasArtifact() {
		o.upload(writeCtx, final, logger)
	}
	return true, nil
}

// runPasses runs the task up to PassAttempts times, stopping at the first
// success.
func (o *Orchestrator) runPasses(ctx context.Context, task taskstore.Task, logger *slog.Logger) workflow.Result {
	var result workflow.Result
	for pass := 1; pass <= o.cfg.PassAttempts; pass++ {
		result = o.safeRun(ctx, task)
		if result.Succeeded || ctx.Err() != nil {
			return result
		}
		logger.Warn("task pass failed",
			slog.Int("pass", pass),
			slog.String("detail", result.Detail))
		if pass == o.cfg.PassAttempts {
			break
		}
		if err := o.deps.Sleep(ctx, o.cfg.RetryDelay); err != nil {
			return result
		}
	}
	return result
}

func (o *Orchestrator) safeRun(ctx context.Context, task taskstore.Task) (result workflow.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.deps.Logger.Error("task runner panicked",
				slog.String("task_id", task.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = workflow.Result{Detail: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return o.deps.Runner.Run(ctx, task)
}

// heartbeat renews the lease every LeaseTTL/3 until ctx ends or the lease
// is lost.
func (o *Orchestrator) heartbeat(ctx context.Context, id, leaseID string, logger *slog.Logger) {
	interval := o.cfg.LeaseTTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := o.deps.Store.RenewLease(ctx, id, leaseID, o.deps.Now().Add(o.cfg.LeaseTTL))
			switch {
			case err == nil:
			case errors.Is(err, taskstore.ErrLeaseLost):
				logger.Warn("task lease lost", slog.String("lease_id", leaseID))
				return
			case ctx.Err() != nil:
				return
			default:
				logger.Warn("renewing task lease failed", slog.Any("error", err))
			}
		}
	}
}

func (o *Orchestrator) upload(ctx context.Context, task taskstore.Task, logger *slog.Logger) {
	if o.deps.Uploader == nil {
		return
	}
	err := o.deps.Uploader.Upload(ctx, artifact.Upload{TaskID: task.ID, Path: task.ArtifactPath})
	if err != nil {
		logger.Warn("artifact upload failed",
			slog.String("artifact_path", task.ArtifactPath),
			slog.Any("error", err))
		return
	}
	logger.Info("artifact uploaded", slog.String("artifact_path", task.ArtifactPath))
}
