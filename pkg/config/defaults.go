package config

// DefaultQueueConfig returns the dispatch queue defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Concurrency:     10,
		MaxRetry:        20,
		DispatchTimeout: 120,
		CapacityDelay:   30,
	}
}

// DefaultSchedulerConfig returns the routing defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxAttempts:  3,
		RouteRetries: 1,
	}
}

// DefaultResetConfig returns the token reset defaults. The schedule
// fires daily at 02:00 UTC.
func DefaultResetConfig() ResetConfig {
	return ResetConfig{
		Schedule: "0 2 * * *",
	}
}

// DefaultReaperConfig returns the stale assignment reaper defaults.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		CheckInterval:     60,
		AssignmentTimeout: 300,
	}
}

// validateAndApplyDefaults replaces missing or invalid values with
// defaults so a partial config file still yields a runnable service.
// Idempotent: valid values are never overwritten.
func validateAndApplyDefaults(cfg *Config) {
	queueDefaults := DefaultQueueConfig()
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = queueDefaults.Concurrency
	}
	if cfg.Queue.MaxRetry <= 0 {
		cfg.Queue.MaxRetry = queueDefaults.MaxRetry
	}
	if cfg.Queue.DispatchTimeout <= 0 {
		cfg.Queue.DispatchTimeout = queueDefaults.DispatchTimeout
	}
	if cfg.Queue.CapacityDelay <= 0 {
		cfg.Queue.CapacityDelay = queueDefaults.CapacityDelay
	}

	schedulerDefaults := DefaultSchedulerConfig()
	if cfg.Scheduler.MaxAttempts <= 0 {
		cfg.Scheduler.MaxAttempts = schedulerDefaults.MaxAttempts
	}
	if cfg.Scheduler.RouteRetries < 0 {
		cfg.Scheduler.RouteRetries = schedulerDefaults.RouteRetries
	}

	if cfg.Reset.Schedule == "" {
		cfg.Reset.Schedule = DefaultResetConfig().Schedule
	}

	reaperDefaults := DefaultReaperConfig()
	if cfg.Reaper.CheckInterval <= 0 {
		cfg.Reaper.CheckInterval = reaperDefaults.CheckInterval
	}
	if cfg.Reaper.AssignmentTimeout <= 0 {
		cfg.Reaper.AssignmentTimeout = reaperDefaults.AssignmentTimeout
	}
}
