// Package task schedules one Instance's rules: every distinct cron
// schedule the instance's rules carry becomes one registered cron.Job
// that applies the rule names sharing that schedule.
package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"registrywarden/internal/cronexpr"
	"registrywarden/internal/instance"
)

// ErrNotStarted is returned by Stop when called on a Task that was never
// started, or has already been stopped.
var ErrNotStarted = errors.New("task not started")

// Task owns the scheduled jobs for one Instance. It wraps a
// robfig/cron/v3 scheduler registered with the custom 7-field cronexpr
// schedules, started and stopped independently of the controller's own
// event loop.
type Task struct {
	Instance *instance.Instance

	cron *cron.Cron
	log  *zap.Logger
}

// New wraps instance in a Task. The cron scheduler isn't built until
// Start is called.
func New(inst *instance.Instance, log *zap.Logger) *Task {
	return &Task{Instance: inst, log: log}
}

// Start parses every distinct schedule the instance's bundled rules
// carry, registers one job per schedule, and starts the scheduler on its
// own goroutine. Starting an already-started Task is a no-op error-free
// call that leaves the existing scheduler running — callers are expected
// to Stop before Start-ing again.
func (t *Task) Start(ctx context.Context) error {
	if t.cron != nil {
		return nil
	}

	c := cron.New(cron.WithSeconds())
	bundles := t.Instance.GetBundledRules()

	for scheduleSpec, ruleNames := range bundles {
		schedule, err := cronexpr.Parse(scheduleSpec)
		if err != nil {
			return fmt.Errorf("task %q: invalid schedule %q: %w", t.Instance.Name, scheduleSpec, err)
		}

		names := ruleNames
		c.Schedule(schedule, cron.FuncJob(func() {
			t.runRules(ctx, names)
		}))
	}

	c.Start()
	t.cron = c

	if t.log != nil {
		t.log.Info("started task", zap.String("instance", t.Instance.Name), zap.Int("schedules", len(bundles)))
	}
	return nil
}

// runRules applies one schedule bundle's rules, logging success or
// failure the way the controller logs every other per-instance action.
func (t *Task) runRules(ctx context.Context, ruleNames []string) {
	if t.log != nil {
		t.log.Info("applying rules", zap.String("instance", t.Instance.Name), zap.Strings("rules", ruleNames))
	}
	if err := t.Instance.ApplyRules(ctx, ruleNames); err != nil {
		if t.log != nil {
			t.log.Error("failed to apply rules",
				zap.String("instance", t.Instance.Name), zap.Strings("rules", ruleNames), zap.Error(err))
		}
		return
	}
	if t.log != nil {
		t.log.Info("successfully applied rules", zap.String("instance", t.Instance.Name), zap.Strings("rules", ruleNames))
	}
}

// Stop halts the scheduler and blocks until any in-flight job finishes.
// Calling Stop on a Task that was never started, or twice in a row,
// returns ErrNotStarted.
func (t *Task) Stop() error {
	if t.cron == nil {
		return ErrNotStarted
	}

	if t.log != nil {
		t.log.Debug("stopping task", zap.String("instance", t.Instance.Name))
	}

	stopCtx := t.cron.Stop()
	<-stopCtx.Done()
	t.cron = nil

	if t.log != nil {
		t.log.Info("stopped task", zap.String("instance", t.Instance.Name))
	}
	return nil
}

// Running reports whether the Task's scheduler is currently active.
func (t *Task) Running() bool {
	return t.cron != nil
}
