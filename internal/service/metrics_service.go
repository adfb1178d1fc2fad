package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	applicationsCreated  *prometheus.CounterVec
	statusTransitions    *prometheus.CounterVec
	notificationFailures prometheus.Counter
	automationRuns       *prometheus.CounterVec
}

// NewMetricsService registers the core collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	applicationsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "applications_created_total",
		Help: "Applications created, by type",
	}, []string{"type"})

	statusTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "application_status_transitions_total",
		Help: "Application status transitions, by target status",
	}, []string{"to"})

	notificationFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Notification deliveries that exhausted their retries",
	})

	automationRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_runs_total",
		Help: "Automation routine executions, by routine and outcome",
	}, []string{"routine", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, applicationsCreated,
		statusTransitions, notificationFailures, automationRuns, goroutines)

	return &MetricsService{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		applicationsCreated:  applicationsCreated,
		statusTransitions:    statusTransitions,
		notificationFailures: notificationFailures,
		automationRuns:       automationRuns,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordApplicationCreated counts a new application by type.
func (m *MetricsService) RecordApplicationCreated(appType string) {
	if m == nil {
		return
	}
	m.applicationsCreated.WithLabelValues(appType).Inc()
}

// RecordStatusTransition counts a workflow move into the target status.
func (m *MetricsService) RecordStatusTransition(to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(to).Inc()
}

// RecordNotificationFailure counts a dropped notification.
func (m *MetricsService) RecordNotificationFailure() {
	if m == nil {
		return
	}
	m.notificationFailures.Inc()
}

// RecordAutomationRun counts one routine execution.
func (m *MetricsService) RecordAutomationRun(routine string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.automationRuns.WithLabelValues(routine, outcome).Inc()
}
