// Package metrics exposes a Prometheus /metrics endpoint reporting
// deletion and scheduling activity across every instance.
package metrics

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAddr is used when METRICS_ADDR isn't set.
const DefaultAddr = ":9420"

var (
	// TagsDeleted counts every tag manifest successfully deleted, labeled
	// by instance and rule name.
	TagsDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrywarden_tags_deleted_total",
		Help: "Total number of tags deleted across all registries.",
	}, []string{"instance", "rule"})

	// BytesReclaimed accumulates the Size of every deleted tag, labeled by
	// instance.
	BytesReclaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrywarden_bytes_reclaimed_total",
		Help: "Total bytes reclaimed by deleted tags across all registries.",
	}, []string{"instance"})

	// RuleApplications counts ApplyRules invocations, labeled by instance
	// and outcome ("success" or "error"). An invocation against a registry
	// with no repositories is not counted.
	RuleApplications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrywarden_rule_applications_total",
		Help: "Total number of rule applications, by outcome.",
	}, []string{"instance", "outcome"})

	// GCInvocations counts every garbage-collector exec, labeled by
	// instance and outcome.
	GCInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrywarden_gc_invocations_total",
		Help: "Total number of garbage collector invocations, by outcome.",
	}, []string{"instance", "outcome"})

	// ScheduledTasks reports the current number of actively scheduled
	// instances.
	ScheduledTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registrywarden_scheduled_tasks",
		Help: "Current number of instances with an active scheduled task.",
	})
)

func init() {
	prometheus.MustRegister(TagsDeleted, BytesReclaimed, RuleApplications, GCInvocations, ScheduledTasks)
}

// Addr resolves the metrics listen address: $METRICS_ADDR, or
// DefaultAddr if unset.
func Addr() string {
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		return addr
	}
	return DefaultAddr
}

// Serve starts the /metrics HTTP server on addr and blocks until ctx is
// canceled, then shuts the server down gracefully.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
