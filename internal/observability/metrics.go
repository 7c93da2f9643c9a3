// Package observability wires Prometheus metrics and OpenTelemetry tracing.
// Both are opt-in via environment flags; every exported method on Metrics is
// safe to call on a nil receiver so call sites never have to guard.
package observability

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/queue"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	providerTokens   *prometheus.CounterVec
	providerCost     *prometheus.CounterVec

	stageDuration *prometheus.HistogramVec

	jobsTotal   *prometheus.CounterVec
	jobDuration prometheus.Histogram

	queueDepth *prometheus.GaugeVec
	redisUp    prometheus.Gauge
	redisPing  prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

// Current returns the process-wide instance, nil until Init runs (or forever
// when metrics are disabled).
func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		factory := promauto.With(reg)
		instance = &Metrics{
			registry: reg,
			apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "inkpress_api_requests_total",
				Help: "API requests by method/route/status.",
			}, []string{"method", "route", "status"}),
			apiLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "inkpress_api_request_duration_seconds",
				Help:    "API request latency in seconds by method/route.",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			}, []string{"method", "route"}),
			apiInflight: factory.NewGauge(prometheus.GaugeOpts{
				Name: "inkpress_api_inflight_requests",
				Help: "In-flight API requests.",
			}),
			providerRequests: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "inkpress_provider_requests_total",
				Help: "Model provider requests by model/operation/status.",
			}, []string{"model", "operation", "status"}),
			providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "inkpress_provider_request_duration_seconds",
				Help:    "Model provider request latency in seconds by model/operation.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			}, []string{"model", "operation"}),
			providerTokens: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "inkpress_provider_tokens_total",
				Help: "Model provider tokens by model/direction.",
			}, []string{"model", "direction"}),
			providerCost: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "inkpress_provider_cost_usd_total",
				Help: "Estimated provider spend (USD) by model/feature.",
			}, []string{"model", "feature"}),
			stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "inkpress_analysis_stage_duration_seconds",
				Help:    "Analysis pipeline stage duration in seconds.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			}, []string{"stage", "status"}),
			jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "inkpress_worker_jobs_total",
				Help: "Worker job settlements by outcome.",
			}, []string{"outcome"}),
			jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Name:    "inkpress_worker_job_duration_seconds",
				Help:    "End-to-end analysis job duration in seconds.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
			}),
			queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: "inkpress_queue_depth",
				Help: "Queue depth by queue/state.",
			}, []string{"queue", "state"}),
			redisUp: factory.NewGauge(prometheus.GaugeOpts{
				Name: "inkpress_redis_up",
				Help: "Whether the Redis ping succeeds (1) or not (0).",
			}),
			redisPing: factory.NewGauge(prometheus.GaugeOpts{
				Name: "inkpress_redis_ping_seconds",
				Help: "Latency of the most recent Redis ping.",
			}),
		}
		if log != nil {
			log.Info("Metrics registry initialized")
		}
	})
	return instance
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveProviderCall records one chat or image request, token counts
// included so spend dashboards do not depend on the cost ledger.
func (m *Metrics) ObserveProviderCall(model, operation, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	if model == "" {
		model = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if status == "" {
		status = "ok"
	}
	m.providerRequests.WithLabelValues(model, operation, status).Inc()
	m.providerLatency.WithLabelValues(model, operation).Observe(dur.Seconds())
	if inputTokens > 0 {
		m.providerTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.providerTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

func (m *Metrics) AddProviderCost(model, feature string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	if model == "" {
		model = "unknown"
	}
	if feature == "" {
		feature = "unknown"
	}
	m.providerCost.WithLabelValues(model, feature).Add(usd)
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "unknown"
	}
	if status == "" {
		status = "ok"
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(dur.Seconds())
}

func (m *Metrics) ObserveJob(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(dur.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer exposes /metrics on its own listener. Worker processes use
// this; ingress mounts Handler on the API router instead.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("Metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

// StartQueueCollector polls queue depths into gauges until ctx ends.
func (m *Metrics) StartQueueCollector(ctx context.Context, log *logger.Logger, q queue.Queue, names ...string) {
	if m == nil || q == nil || len(names) == 0 {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, name := range names {
					stats, err := q.Stats(ctx, name)
					if err != nil {
						if log != nil {
							log.Warn("Queue stats scrape failed", "queue", name, "error", err)
						}
						continue
					}
					m.queueDepth.WithLabelValues(name, "pending").Set(float64(stats.Pending))
					m.queueDepth.WithLabelValues(name, "processing").Set(float64(stats.Processing))
					m.queueDepth.WithLabelValues(name, "delayed").Set(float64(stats.Delayed))
					m.queueDepth.WithLabelValues(name, "dead").Set(float64(stats.Dead))
				}
			}
		}
	}()
}

// StartRedisCollector pings the shared client on the scrape interval.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *goredis.Client) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("Redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}
