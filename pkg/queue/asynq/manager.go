package asynq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"genrouter/internal/scheduler"
	"genrouter/pkg/config"
	"genrouter/pkg/logger"

	"github.com/hibiken/asynq"
)

const (
	TypeTaskDispatch = "task:dispatch"
)

// DispatchPayload is the queue message for one task. Only the ID travels
// through Redis; the handler re-reads the task row so cancellations and
// status changes made while the task waited are honored at pickup.
type DispatchPayload struct {
	TaskID string `json:"task_id"`
}

// Priorities map onto weighted queues: a p5 task gets five processing
// slots for every one a p1 task gets, but low priorities never starve.
var queueWeights = map[string]int{
	"p5": 5,
	"p4": 4,
	"p3": 3,
	"p2": 2,
	"p1": 1,
}

func queueForPriority(priority int) string {
	if priority < 1 {
		priority = 1
	}
	if priority > 5 {
		priority = 5
	}
	return fmt.Sprintf("p%d", priority)
}

// Manager queue manager
type Manager struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector

	taskTimeout time.Duration
	maxRetry    int
}

// NewManager creates queue manager
func NewManager(cfg *config.Config) (*Manager, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	client := asynq.NewClient(redisOpt)

	capacityDelay := time.Duration(cfg.Queue.CapacityDelay) * time.Second

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues:      queueWeights,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Over-budget tasks wait for capacity to free up instead
				// of hammering the ledger with escalating backoff.
				if scheduler.IsNoCapacity(err) {
					return capacityDelay
				}
				return time.Duration(n) * time.Second
			},
		},
	)

	mux := asynq.NewServeMux()

	// The queue-level timeout covers a full handler run, every provider
	// attempt plus routing, not a single connector call.
	taskTimeout := time.Duration(cfg.Queue.DispatchTimeout*(cfg.Scheduler.MaxAttempts+1)) * time.Second

	return &Manager{
		client:      client,
		server:      server,
		mux:         mux,
		inspector:   asynq.NewInspector(redisOpt),
		taskTimeout: taskTimeout,
		maxRetry:    cfg.Queue.MaxRetry,
	}, nil
}

// EnqueueTask enqueues a task for dispatch on its priority queue.
func (m *Manager) EnqueueTask(ctx context.Context, taskID string, priority int) error {
	payload, err := json.Marshal(DispatchPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch payload: %w", err)
	}

	asynqTask := asynq.NewTask(TypeTaskDispatch, payload)

	opts := []asynq.Option{
		asynq.TaskID(taskID),
		asynq.Queue(queueForPriority(priority)),
		asynq.Timeout(m.taskTimeout),
		asynq.MaxRetry(m.maxRetry),
	}

	info, err := m.client.EnqueueContext(ctx, asynqTask, opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	logger.InfoCtx(ctx, "task enqueued, task_id: %s, queue: %s", taskID, info.Queue)

	return nil
}

// GetTaskInfo retrieves queue state for a task.
func (m *Manager) GetTaskInfo(taskID string, priority int) (*asynq.TaskInfo, error) {
	return m.inspector.GetTaskInfo(queueForPriority(priority), taskID)
}

// TaskQueued reports whether a task still has a queue entry in any state
// (pending, active, retry, or archived).
func (m *Manager) TaskQueued(taskID string, priority int) (bool, error) {
	_, err := m.inspector.GetTaskInfo(queueForPriority(priority), taskID)
	if err != nil {
		if IsTaskGone(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CancelTask removes a task's queue entry. Entries already picked up by a
// worker cannot be deleted; the dispatcher notices the cancelled status
// instead.
func (m *Manager) CancelTask(taskID string, priority int) error {
	err := m.inspector.DeleteTask(queueForPriority(priority), taskID)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry: %w", err)
	}

	logger.InfoCtx(context.Background(), "queue entry removed, task_id: %s", taskID)
	return nil
}

// IsTaskGone reports whether an inspector error means the task has no
// queue entry. A queue that has never seen a task also counts.
func IsTaskGone(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}

// IsDuplicateTask reports whether an enqueue failed because the task
// already has a queue entry.
func IsDuplicateTask(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict)
}

// RegisterHandler registers task handler
func (m *Manager) RegisterHandler(pattern string, handler asynq.Handler) {
	m.mux.Handle(pattern, handler)
}

// Start starts queue processor
func (m *Manager) Start() error {
	logger.InfoCtx(context.Background(), "starting queue server")
	return m.server.Start(m.mux)
}

// Stop stops queue processor
func (m *Manager) Stop() {
	logger.InfoCtx(context.Background(), "stopping queue server")
	m.server.Stop()
	m.server.Shutdown()
}

// Close closes client
func (m *Manager) Close() error {
	if err := m.inspector.Close(); err != nil {
		logger.WarnCtx(context.Background(), "failed to close queue inspector: %v", err)
	}
	return m.client.Close()
}

// GetPendingTaskCount sums pending entries across all priority queues.
func (m *Manager) GetPendingTaskCount() (int, error) {
	total := 0
	for queue := range queueWeights {
		stats, err := m.inspector.GetQueueInfo(queue)
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return 0, err
		}
		total += stats.Pending
	}
	return total, nil
}
