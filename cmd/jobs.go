package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"genrouter/internal/dispatch"
	"genrouter/internal/jobs"
	"genrouter/internal/service"
	"genrouter/pkg/logger"
	mysqlstore "genrouter/pkg/store/mysql"
	redisstore "genrouter/pkg/store/redis"
)

// defaultResetSchedule fires the ledger reset sweep at 02:00 UTC daily.
const defaultResetSchedule = "0 2 * * *"

func (app *Application) initJobs() error {
	if app.resetService == nil || app.reaper == nil {
		logger.WarnCtx(app.ctx, "Service layer not fully initialized yet, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx)

	reaperInterval := time.Duration(app.config.Reaper.CheckInterval) * time.Second
	if reaperInterval <= 0 {
		reaperInterval = time.Minute
	}

	// Create distributed locks to prevent multiple replicas from executing background tasks simultaneously
	// If Redis is unavailable, locks will automatically downgrade to single-instance mode
	var redisClient *redis.Client
	if app.redisClient != nil {
		redisClient = app.redisClient.GetClient()
	}

	ledgerResetLock := redisstore.NewLock(redisClient, "reset:ledger-lock")
	assignmentReaperLock := redisstore.NewLock(redisClient, "reaper:assignment-lock")
	taskRetentionLock := redisstore.NewLock(redisClient, "cleanup:task-retention-lock")

	// Register background tasks with locks
	manager.Register(newLedgerResetJob(app.config.Reset.Schedule, app.resetService, ledgerResetLock))
	manager.Register(newAssignmentReaperJob(reaperInterval, app.reaper, assignmentReaperLock))
	manager.Register(newTaskRetentionJob(24*time.Hour, app.mysqlRepo, taskRetentionLock))

	app.jobsManager = manager
	return nil
}

// ledgerResetJob advances due account reset dates and zeroes their usage,
// on a cron schedule rather than a ticker.
type ledgerResetJob struct {
	schedule        cron.Schedule
	resetService    *service.ResetService
	distributedLock redisstore.DistributedLock
}

func newLedgerResetJob(scheduleExpr string, svc *service.ResetService, lock redisstore.DistributedLock) jobs.ScheduledJob {
	if scheduleExpr == "" {
		scheduleExpr = defaultResetSchedule
	}
	schedule, err := cron.ParseStandard(scheduleExpr)
	if err != nil {
		logger.Warnf("invalid reset schedule %q, falling back to %q: %v", scheduleExpr, defaultResetSchedule, err)
		schedule, _ = cron.ParseStandard(defaultResetSchedule)
	}
	return &ledgerResetJob{
		schedule:        schedule,
		resetService:    svc,
		distributedLock: lock,
	}
}

func (j *ledgerResetJob) Name() string {
	return "ledger-reset"
}

func (j *ledgerResetJob) Interval() time.Duration {
	return 24 * time.Hour
}

func (j *ledgerResetJob) NextRun(after time.Time) time.Time {
	return j.schedule.Next(after)
}

func (j *ledgerResetJob) Run(ctx context.Context) error {
	if j.resetService == nil {
		return fmt.Errorf("reset service not configured")
	}

	// Try to acquire distributed lock
	if j.distributedLock != nil {
		acquired, err := j.distributedLock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running the ledger reset, skipping this cycle")
			return nil
		}
		defer j.distributedLock.Unlock(ctx)
	}

	logger.DebugCtx(ctx, "running ledger reset job")
	_, err := j.resetService.ResetDueLedgers(ctx)
	return err
}

// assignmentReaperJob reclaims tasks and token reservations abandoned by
// crashed workers.
type assignmentReaperJob struct {
	interval        time.Duration
	reaper          *dispatch.Reaper
	distributedLock redisstore.DistributedLock
}

func newAssignmentReaperJob(interval time.Duration, reaper *dispatch.Reaper, lock redisstore.DistributedLock) jobs.Job {
	return &assignmentReaperJob{
		interval:        interval,
		reaper:          reaper,
		distributedLock: lock,
	}
}

func (j *assignmentReaperJob) Name() string {
	return "assignment-reaper"
}

func (j *assignmentReaperJob) Interval() time.Duration {
	return j.interval
}

func (j *assignmentReaperJob) Run(ctx context.Context) error {
	if j.reaper == nil {
		return fmt.Errorf("reaper not configured")
	}

	// Try to acquire distributed lock
	if j.distributedLock != nil {
		acquired, err := j.distributedLock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running the assignment reaper, skipping this cycle")
			return nil
		}
		defer j.distributedLock.Unlock(ctx)
	}

	logger.DebugCtx(ctx, "running assignment reaper job")
	_, err := j.reaper.Sweep(ctx)
	return err
}

// taskRetentionJob removes terminal tasks past the retention window so the
// task table does not grow without bound.
type taskRetentionJob struct {
	interval        time.Duration
	mysqlRepo       *mysqlstore.Repository
	distributedLock redisstore.DistributedLock
}

func newTaskRetentionJob(interval time.Duration, repo *mysqlstore.Repository, lock redisstore.DistributedLock) jobs.Job {
	return &taskRetentionJob{
		interval:        interval,
		mysqlRepo:       repo,
		distributedLock: lock,
	}
}

func (j *taskRetentionJob) Name() string {
	return "task-retention"
}

func (j *taskRetentionJob) Interval() time.Duration {
	return j.interval
}

func (j *taskRetentionJob) Run(ctx context.Context) error {
	if j.mysqlRepo == nil {
		return fmt.Errorf("repository not configured")
	}

	// Try to acquire distributed lock
	if j.distributedLock != nil {
		acquired, err := j.distributedLock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running task retention cleanup, skipping this cycle")
			return nil
		}
		defer j.distributedLock.Unlock(ctx)
	}

	retentionDays := 10
	before := time.Now().AddDate(0, 0, -retentionDays)

	taskRows, err := j.mysqlRepo.Task.CleanupOldTasks(ctx, before)
	if err != nil {
		return fmt.Errorf("failed to clean up old tasks: %w", err)
	}

	if taskRows > 0 {
		logger.InfoCtx(ctx, "cleaned up %d old tasks (older than %d days)", taskRows, retentionDays)
	}

	return nil
}
