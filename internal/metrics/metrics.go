// Package metrics exposes the operator's Prometheus instrumentation:
// job/function/endpoint lifecycle counters, durations, queue-time,
// cold starts, errors, webhook requests, and host-resource gauges fed
// from gopsutil for cost/utilization estimation.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	// JobsTotal counts CR lifecycle transitions by status/gpuType/replicas.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modal_operator_jobs_total",
			Help: "Total number of ModalJob lifecycle events",
		},
		[]string{"status", "gpu_type", "replicas"},
	)

	ActiveJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modal_operator_active_jobs",
			Help: "Number of ModalJob CRs currently active",
		},
		[]string{"kind"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modal_operator_job_duration_seconds",
			Help:    "Time from job creation to terminal state",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	QueueTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modal_operator_queue_time_seconds",
			Help:    "Time a CR spent pending before the reconciler picked it up",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	ColdStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modal_operator_cold_starts_total",
			Help: "Total number of remote backend cold starts observed",
		},
		[]string{"kind"},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modal_operator_errors_total",
			Help: "Total number of errors by kind and originating component",
		},
		[]string{"error_type", "component"},
	)

	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modal_operator_webhook_requests_total",
			Help: "Total number of admission webhook requests",
		},
		[]string{"method", "status"},
	)

	GPUUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modal_operator_gpu_utilization_ratio",
			Help: "Observed GPU utilization ratio for active jobs, by gpu type",
		},
		[]string{"gpu_type"},
	)

	CostEstimate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modal_operator_cost_estimate_dollars",
			Help: "Estimated dollar cost of active workloads, by kind and gpu type",
		},
		[]string{"kind", "gpu_type"},
	)

	// HostCPUPercent and HostMemoryBytes are sidecar-host resource
	// gauges, fed from gopsutil, used to cross-check backend-reported
	// GPU utilization against actual sidecar overhead.
	HostCPUPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modal_operator_host_cpu_percent",
			Help: "Current CPU usage percentage of the sidecar host",
		},
		[]string{"component"},
	)

	HostMemoryBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modal_operator_host_memory_bytes",
			Help: "Current memory usage in bytes of the sidecar host",
		},
		[]string{"component"},
	)

	StatusUpdateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modal_operator_status_update_failures_total",
			Help: "Total number of status subresource patch failures (log-only, non-user-visible)",
		},
		[]string{"kind"},
	)
)

// Handler returns the Prometheus metrics HTTP handler, served at :8081.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordJobEvent(status, gpuType string, replicas int) {
	JobsTotal.WithLabelValues(status, gpuType, replicasLabel(replicas)).Inc()
}

func replicasLabel(replicas int) string {
	if replicas <= 0 {
		replicas = 1
	}
	switch {
	case replicas == 1:
		return "1"
	case replicas <= 4:
		return "2-4"
	default:
		return "5+"
	}
}

func SetActiveJobs(kind string, count float64) {
	ActiveJobs.WithLabelValues(kind).Set(count)
}

func RecordJobDuration(status string, seconds float64) {
	JobDuration.WithLabelValues(status).Observe(seconds)
}

func RecordQueueTime(kind string, seconds float64) {
	QueueTime.WithLabelValues(kind).Observe(seconds)
}

func RecordColdStart(kind string) {
	ColdStarts.WithLabelValues(kind).Inc()
}

func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

func RecordWebhookRequest(method string, statusCode int) {
	WebhookRequests.WithLabelValues(method, http.StatusText(statusCode)).Inc()
}

func SetGPUUtilization(gpuType string, ratio float64) {
	GPUUtilization.WithLabelValues(gpuType).Set(ratio)
}

func SetCostEstimate(kind, gpuType string, dollars float64) {
	CostEstimate.WithLabelValues(kind, gpuType).Set(dollars)
}

func SetHostResourceUsage(component string, cpuPercent, memoryBytes float64) {
	HostCPUPercent.WithLabelValues(component).Set(cpuPercent)
	HostMemoryBytes.WithLabelValues(component).Set(memoryBytes)
}

func RecordStatusUpdateFailure(kind string) {
	StatusUpdateFailures.WithLabelValues(kind).Inc()
}

// StartHostResourceSampler polls CPU and memory usage on interval and
// feeds it into the host-resource gauges under the given component
// label, until ctx is cancelled. Intended to run in its own goroutine
// for the life of a sidecar process (the proxy and logger commands).
func StartHostResourceSampler(ctx context.Context, component string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampleHostResourceUsage(component)
		}
	}
}

func sampleHostResourceUsage(component string) {
	var cpuPercent float64
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	var memoryBytes float64
	if vm, err := mem.VirtualMemory(); err == nil {
		memoryBytes = float64(vm.Used)
	}

	SetHostResourceUsage(component, cpuPercent, memoryBytes)
}
