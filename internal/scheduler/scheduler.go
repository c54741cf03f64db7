// Package scheduler owns the live set of scheduled Tasks, keyed by
// container id, with a secondary name index for lookups from the
// config-reload path.
package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"registrywarden/internal/instance"
	"registrywarden/internal/metrics"
	"registrywarden/internal/task"
)

// ScheduleReason explains why ScheduleInstance was invoked. It is used
// only for logging, never for control flow.
type ScheduleReason int

const (
	ReasonRegistryStart ScheduleReason = iota
	ReasonRegistryRunning
	ReasonScheduleConfigUpdate
)

func (r ScheduleReason) String() string {
	switch r {
	case ReasonRegistryStart:
		return "registry_start"
	case ReasonRegistryRunning:
		return "registry_running"
	case ReasonScheduleConfigUpdate:
		return "config_update"
	default:
		return "unknown"
	}
}

// DescheduleReason explains why DescheduleInstance was invoked. It is
// used only for logging, never for control flow.
type DescheduleReason int

const (
	ReasonRegistryStop DescheduleReason = iota
	ReasonDescheduleConfigUpdate
)

func (r DescheduleReason) String() string {
	switch r {
	case ReasonRegistryStop:
		return "registry_stop"
	case ReasonDescheduleConfigUpdate:
		return "config_update"
	default:
		return "unknown"
	}
}

// Scheduler tracks one Task per scheduled Instance. All mutating
// operations are serialized by a mutex since the controller's event loop
// and the config-reload path can both call into it.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*task.Task // container id -> Task
	names map[string]string     // instance name -> container id

	log *zap.Logger
}

// New returns an empty Scheduler.
func New(log *zap.Logger) *Scheduler {
	return &Scheduler{
		tasks: make(map[string]*task.Task),
		names: make(map[string]string),
		log:   log,
	}
}

// ScheduleInstance starts a Task for inst and tracks it under its
// container id. A duplicate request for an id already scheduled is
// logged and ignored. If the Task fails to start, the name index entry
// is rolled back so a later lookup by name doesn't resolve to an id that
// was never actually scheduled. reason is logged only.
func (s *Scheduler) ScheduleInstance(ctx context.Context, inst *instance.Instance, reason ScheduleReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[inst.ID]; exists {
		if s.log != nil {
			s.log.Warn("received duplicate schedule request, ignoring it",
				zap.String("instance", inst.Name), zap.Stringer("reason", reason))
		}
		return
	}

	t := task.New(inst, s.log)
	s.names[inst.Name] = inst.ID

	if err := t.Start(ctx); err != nil {
		delete(s.names, inst.Name)
		if s.log != nil {
			s.log.Error("unable to add registry to scheduler",
				zap.String("instance", inst.Name), zap.Stringer("reason", reason), zap.Error(err))
		}
		return
	}

	s.tasks[inst.ID] = t
	metrics.ScheduledTasks.Set(float64(len(s.tasks)))
	if s.log != nil {
		s.log.Info("added registry to scheduler",
			zap.String("instance", inst.Name), zap.Stringer("reason", reason))
	}
}

// DescheduleInstance stops and removes the Task tracked under id,
// returning the Instance it was running. A request for an id that isn't
// scheduled is logged and ignored, returning nil. If the Task fails to
// stop, both maps are left unchanged and nil is returned so the caller
// doesn't treat a failed stop as a successful deschedule. reason is
// logged only.
func (s *Scheduler) DescheduleInstance(id string, reason DescheduleReason) *instance.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		if s.log != nil {
			s.log.Warn("received deschedule request for unscheduled registry",
				zap.String("id", id), zap.Stringer("reason", reason))
		}
		return nil
	}

	inst := t.Instance
	if err := t.Stop(); err != nil {
		if s.log != nil {
			s.log.Error("unable to remove registry from scheduler",
				zap.String("instance", inst.Name), zap.Stringer("reason", reason), zap.Error(err))
		}
		return nil
	}

	delete(s.tasks, id)
	delete(s.names, inst.Name)
	metrics.ScheduledTasks.Set(float64(len(s.tasks)))
	if s.log != nil {
		s.log.Info("removed registry from scheduler",
			zap.String("instance", inst.Name), zap.Stringer("reason", reason))
	}
	return inst
}

// GetInstanceID resolves an instance's container id by name, for callers
// (the config-reload path) that only have the instance's display name.
func (s *Scheduler) GetInstanceID(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.names[name]
	return id, ok
}

// IsScheduled reports whether id currently has a running Task.
func (s *Scheduler) IsScheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tasks[id]
	return ok
}
