// Package config property tests cover the defaults fallback: a config
// file with missing or invalid values must still yield a runnable
// configuration, and valid values must never be overwritten.
package config

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_InvalidValuesFallBackToDefaults verifies that any
// non-positive numeric setting is replaced by its default.
func TestProperty_InvalidValuesFallBackToDefaults(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)
	queueDefaults := DefaultQueueConfig()
	reaperDefaults := DefaultReaperConfig()

	properties.Property("non-positive queue settings fall back to defaults", prop.ForAll(
		func(concurrency, maxRetry, timeout, delay int) bool {
			cfg := &Config{
				Queue: QueueConfig{
					Concurrency:     concurrency,
					MaxRetry:        maxRetry,
					DispatchTimeout: timeout,
					CapacityDelay:   delay,
				},
			}

			validateAndApplyDefaults(cfg)

			return cfg.Queue.Concurrency == queueDefaults.Concurrency &&
				cfg.Queue.MaxRetry == queueDefaults.MaxRetry &&
				cfg.Queue.DispatchTimeout == queueDefaults.DispatchTimeout &&
				cfg.Queue.CapacityDelay == queueDefaults.CapacityDelay
		},
		gen.IntRange(-1000, 0),
		gen.IntRange(-1000, 0),
		gen.IntRange(-1000, 0),
		gen.IntRange(-1000, 0),
	))

	properties.Property("non-positive reaper settings fall back to defaults", prop.ForAll(
		func(interval, timeout int) bool {
			cfg := &Config{
				Reaper: ReaperConfig{
					CheckInterval:     interval,
					AssignmentTimeout: timeout,
				},
			}

			validateAndApplyDefaults(cfg)

			return cfg.Reaper.CheckInterval == reaperDefaults.CheckInterval &&
				cfg.Reaper.AssignmentTimeout == reaperDefaults.AssignmentTimeout
		},
		gen.IntRange(-1000, 0),
		gen.IntRange(-1000, 0),
	))

	properties.Property("empty reset schedule falls back to default", prop.ForAll(
		func(_ int) bool {
			cfg := &Config{}
			validateAndApplyDefaults(cfg)
			return cfg.Reset.Schedule == DefaultResetConfig().Schedule
		},
		gen.Const(0),
	))

	properties.TestingRun(t)
}

// TestProperty_ValidValuesArePreserved verifies that validation never
// overwrites values an operator set deliberately.
func TestProperty_ValidValuesArePreserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("positive queue settings are preserved", prop.ForAll(
		func(concurrency, maxRetry, timeout, delay int) bool {
			cfg := &Config{
				Queue: QueueConfig{
					Concurrency:     concurrency,
					MaxRetry:        maxRetry,
					DispatchTimeout: timeout,
					CapacityDelay:   delay,
				},
			}

			validateAndApplyDefaults(cfg)

			return cfg.Queue.Concurrency == concurrency &&
				cfg.Queue.MaxRetry == maxRetry &&
				cfg.Queue.DispatchTimeout == timeout &&
				cfg.Queue.CapacityDelay == delay
		},
		gen.IntRange(1, 200),
		gen.IntRange(1, 100),
		gen.IntRange(1, 3600),
		gen.IntRange(1, 600),
	))

	properties.Property("custom reset schedule is preserved", prop.ForAll(
		func(hour int) bool {
			schedule := "0 " + string(rune('0'+hour)) + " * * *"
			cfg := &Config{Reset: ResetConfig{Schedule: schedule}}
			validateAndApplyDefaults(cfg)
			return cfg.Reset.Schedule == schedule
		},
		gen.IntRange(0, 9),
	))

	properties.Property("scheduler max attempts is preserved", prop.ForAll(
		func(attempts int) bool {
			cfg := &Config{Scheduler: SchedulerConfig{MaxAttempts: attempts}}
			validateAndApplyDefaults(cfg)
			return cfg.Scheduler.MaxAttempts == attempts
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// TestProperty_ValidationIsIdempotent verifies that applying the
// defaults twice yields the same configuration as applying them once.
func TestProperty_ValidationIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("validation is idempotent", prop.ForAll(
		func(concurrency, maxRetry, timeout, attempts int) bool {
			cfg := &Config{
				Queue: QueueConfig{
					Concurrency:     concurrency,
					MaxRetry:        maxRetry,
					DispatchTimeout: timeout,
				},
				Scheduler: SchedulerConfig{MaxAttempts: attempts},
			}

			validateAndApplyDefaults(cfg)
			first := *cfg
			validateAndApplyDefaults(cfg)

			return cfg.Queue == first.Queue &&
				cfg.Scheduler == first.Scheduler &&
				cfg.Reset == first.Reset &&
				cfg.Reaper == first.Reaper
		},
		gen.IntRange(-100, 100),
		gen.IntRange(-100, 100),
		gen.IntRange(-100, 100),
		gen.IntRange(-100, 100),
	))

	properties.TestingRun(t)
}

// TestProperty_DefaultsAreValid verifies the default constructors only
// hand out values that pass their own validation.
func TestProperty_DefaultsAreValid(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("defaults are positive and survive validation untouched", prop.ForAll(
		func(_ int) bool {
			cfg := &Config{
				Queue:     DefaultQueueConfig(),
				Scheduler: DefaultSchedulerConfig(),
				Reset:     DefaultResetConfig(),
				Reaper:    DefaultReaperConfig(),
			}
			before := *cfg
			validateAndApplyDefaults(cfg)

			return cfg.Queue == before.Queue &&
				cfg.Scheduler == before.Scheduler &&
				cfg.Reset == before.Reset &&
				cfg.Reaper == before.Reaper &&
				cfg.Queue.Concurrency > 0 &&
				cfg.Scheduler.MaxAttempts > 0 &&
				cfg.Reaper.CheckInterval > 0
		},
		gen.Const(0),
	))

	properties.TestingRun(t)
}
