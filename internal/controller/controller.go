// Package controller drives the single event loop: initial discovery of
// labeled registry containers, runtime event subscription, and
// static-config hot-reload reconciliation.
package controller

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"registrywarden/internal/audit"
	"registrywarden/internal/config"
	"registrywarden/internal/instance"
	"registrywarden/internal/labels"
	"registrywarden/internal/runtime"
	"registrywarden/internal/scheduler"
)

// Controller owns the runtime client, the live Scheduler, and the
// currently-applied external config.
type Controller struct {
	runtimeClient runtime.Client
	scheduler     *scheduler.Scheduler
	auditDB       *audit.DB
	log           *zap.Logger

	currentCfg *config.Config
}

// New constructs a Controller. auditDB may be nil, disabling audit
// recording.
func New(rtClient runtime.Client, auditDB *audit.DB, log *zap.Logger) *Controller {
	return &Controller{
		runtimeClient: rtClient,
		scheduler:     scheduler.New(log),
		auditDB:       auditDB,
		log:           log,
		currentCfg:    &config.Config{},
	}
}

// Run connects to the runtime, performs initial discovery, then drives
// the event loop until ctx is canceled. It returns a non-nil error only
// for startup failures (the connectivity check or the initial container
// listing) — a failure there should be treated by the caller as a fatal,
// non-zero-exit condition.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.runtimeClient.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to container runtime: %w", err)
	}

	cfgPath := config.Path()
	c.currentCfg = config.LoadOrEmpty(cfgPath, c.log)

	if err := c.discover(ctx); err != nil {
		return fmt.Errorf("initial discovery: %w", err)
	}

	watcher, err := config.Watch(cfgPath, c.log)
	if err != nil {
		if c.log != nil {
			c.log.Warn("failed to set up configuration file watcher, hot-reload disabled", zap.Error(err))
		}
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
	}

	events, errs := c.runtimeClient.Events(ctx, map[string]string{labels.EnableLabel: "true"})

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if c.log != nil {
				c.log.Error("runtime event stream failed", zap.Error(err))
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ctx, ev)

		case cfg, ok := <-watcherUpdates(watcher):
			if !ok {
				continue
			}
			c.reconcileConfig(ctx, cfg)
		}
	}
}

// watcherUpdates returns w's Updates channel, or a nil channel (which
// blocks forever in a select) when w is nil, so Run's select doesn't
// need a separate nil-watcher branch.
func watcherUpdates(w *config.Watcher) <-chan *config.Config {
	if w == nil {
		return nil
	}
	return w.Updates
}

// discover lists every currently running labeled container and
// schedules it.
func (c *Controller) discover(ctx context.Context) error {
	summaries, err := c.runtimeClient.ListContainers(ctx, map[string]string{labels.EnableLabel: "true"})
	if err != nil {
		return err
	}

	for _, summary := range summaries {
		c.scheduleByID(ctx, summary.ID, summary.Name, scheduler.ReasonRegistryRunning)
	}
	return nil
}

// handleEvent reacts to one runtime lifecycle event.
func (c *Controller) handleEvent(ctx context.Context, ev runtime.Event) {
	switch ev.Action {
	case runtime.EventStart, runtime.EventUnpause:
		details, err := c.runtimeClient.InspectContainer(ctx, ev.ContainerID)
		if err != nil {
			if c.log != nil {
				c.log.Warn("failed to inspect started container", zap.String("id", ev.ContainerID), zap.Error(err))
			}
			return
		}
		c.scheduleByID(ctx, details.ID, details.Name, scheduler.ReasonRegistryStart)

	case runtime.EventStop, runtime.EventPause, runtime.EventKill, runtime.EventDie:
		c.scheduler.DescheduleInstance(ev.ContainerID, scheduler.ReasonRegistryStop)

	default:
	}
}

// scheduleByID inspects a container by id and schedules the Instance it
// describes, merging its labels with any config overlay declared for its
// name. reason is forwarded to the scheduler purely for logging.
func (c *Controller) scheduleByID(ctx context.Context, id, name string, reason scheduler.ScheduleReason) {
	details, err := c.runtimeClient.InspectContainer(ctx, id)
	if err != nil {
		if c.log != nil {
			c.log.Warn("failed to inspect container", zap.String("id", id), zap.Error(err))
		}
		return
	}

	merged := mergeLabels(details.Labels, c.overlayFor(name))
	alwaysRunGC := c.currentCfg.AlwaysRunGC(details.Name)

	inst, err := instance.New(details.ID, details.Name, merged, details.Networks, c.runtimeClient, alwaysRunGC, c.log)
	if err != nil {
		if c.log != nil {
			c.log.Warn("failed to construct instance, skipping it", zap.String("name", details.Name), zap.Error(err))
		}
		return
	}
	inst.SetAuditDB(c.auditDB)

	c.scheduler.ScheduleInstance(ctx, inst, reason)
}

func (c *Controller) overlayFor(name string) map[string]string {
	overlay, _ := c.currentCfg.RegistryLabels(name)
	return overlay
}

func mergeLabels(containerLabels, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(containerLabels)+len(overlay))
	for k, v := range containerLabels {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// reconcileConfig deschedules and reschedules only the instances whose
// label overlay actually changed between the old and new config.
func (c *Controller) reconcileConfig(ctx context.Context, newCfg *config.Config) {
	oldLabels := c.currentCfg.Labels()
	newLabels := newCfg.Labels()
	c.currentCfg = newCfg

	changed := changedRegistryNames(oldLabels, newLabels)
	for _, name := range changed {
		id, ok := c.scheduler.GetInstanceID(name)
		if !ok {
			continue
		}
		removed := c.scheduler.DescheduleInstance(id, scheduler.ReasonDescheduleConfigUpdate)
		if removed == nil {
			continue
		}
		c.scheduleByID(ctx, id, name, scheduler.ReasonScheduleConfigUpdate)
	}

	if c.log != nil {
		c.log.Info("reconciled configuration update", zap.Int("changed", len(changed)))
	}
}

// changedRegistryNames returns every registry name whose overlay map
// differs (or was added/removed) between old and new.
func changedRegistryNames(old, new map[string]map[string]string) []string {
	var changed []string
	seen := make(map[string]bool)

	for name, newOverlay := range new {
		seen[name] = true
		oldOverlay, existed := old[name]
		if !existed || !labelsEqual(oldOverlay, newOverlay) {
			changed = append(changed, name)
		}
	}
	for name := range old {
		if !seen[name] {
			changed = append(changed, name)
		}
	}
	return changed
}

func labelsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
