package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/kidslab-backend/internal/platform/envutil"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge
	apiErrors   *Counter

	backendCalls   *CounterVec
	backendLatency *HistogramVec

	pipelineStage *HistogramVec
	pipelineRuns  *CounterVec
	stepMedia     *CounterVec

	schedulerQueue *GaugeVec
	schedulerWait  *HistogramVec

	sseClients *Gauge
	dbStats    *GaugeVec
	redisUp    *Gauge
	redisPing  *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Current is nil when metrics are disabled; every method tolerates a nil receiver.
func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

func newMetrics() *Metrics {
	secs := []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 60}
	return &Metrics{
		apiRequests: NewCounterVec("kl_api_requests_total", "API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency:  NewHistogramVec("kl_api_request_duration_seconds", "API latency by method/route/status.", []string{"method", "route", "status"}, secs),
		apiInflight: NewGauge("kl_api_inflight_requests", "In-flight API requests."),
		apiErrors:   NewCounter("kl_api_server_errors_total", "API responses with a 5xx status."),

		backendCalls:   NewCounterVec("kl_backend_calls_total", "Generative backend calls by provider/kind/status.", []string{"provider", "kind", "status"}),
		backendLatency: NewHistogramVec("kl_backend_call_duration_seconds", "Generative backend latency.", []string{"provider", "kind", "status"}, secs),

		pipelineStage: NewHistogramVec("kl_pipeline_stage_duration_seconds", "Pipeline stage duration by flow/stage/status.", []string{"flow", "stage", "status"}, secs),
		pipelineRuns:  NewCounterVec("kl_pipeline_runs_total", "Pipeline runs by flow/status.", []string{"flow", "status"}),
		stepMedia:     NewCounterVec("kl_step_media_total", "On-demand step media results by kind/status.", []string{"kind", "status"}),

		schedulerQueue: NewGaugeVec("kl_scheduler_queue_depth", "Pending scheduler tasks by priority.", []string{"priority"}),
		schedulerWait:  NewHistogramVec("kl_scheduler_wait_seconds", "Time tasks wait before running.", []string{"priority"}, secs),

		sseClients: NewGauge("kl_sse_clients", "Connected SSE clients."),
		dbStats:    NewGaugeVec("kl_db_pool", "Database pool stats.", []string{"stat"}),
		redisUp:    NewGauge("kl_redis_up", "Redis reachability (1/0)."),
		redisPing:  NewGauge("kl_redis_ping_seconds", "Redis ping latency."),
	}
}

func scrapeInterval() time.Duration {
	return envutil.Duration("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
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
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	families := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiErrors,
		m.backendCalls, m.backendLatency,
		m.pipelineStage, m.pipelineRuns, m.stepMedia,
		m.schedulerQueue, m.schedulerWait,
		m.sseClients, m.dbStats, m.redisUp, m.redisPing,
	}
	for _, f := range families {
		if err := f.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	method = orUnknown(method)
	route = orUnknown(route)
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	if isServerErrorStatus(status) {
		m.apiErrors.Inc()
	}
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

// ObserveBackendCall records one text/image/speech call. status is ok, empty,
// error or canceled.
func (m *Metrics) ObserveBackendCall(provider, kind, status string, dur time.Duration) {
	if m == nil {
		return
	}
	provider, kind, status = orUnknown(provider), orUnknown(kind), orUnknown(status)
	m.backendCalls.Inc(provider, kind, status)
	m.backendLatency.Observe(dur.Seconds(), provider, kind, status)
}

func (m *Metrics) ObservePipelineStage(flow, stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	flow, stage, status = orUnknown(flow), orUnknown(stage), orUnknown(status)
	if dur > 0 {
		m.pipelineStage.Observe(dur.Seconds(), flow, stage, status)
	}
}

func (m *Metrics) IncPipelineRun(flow, status string) {
	if m == nil {
		return
	}
	m.pipelineRuns.Inc(orUnknown(flow), orUnknown(status))
}

func (m *Metrics) IncStepMedia(kind, status string) {
	if m == nil {
		return
	}
	m.stepMedia.Inc(orUnknown(kind), orUnknown(status))
}

func (m *Metrics) SetSchedulerQueue(priority string, depth int) {
	if m == nil {
		return
	}
	m.schedulerQueue.Set(float64(depth), orUnknown(priority))
}

func (m *Metrics) ObserveSchedulerWait(priority string, dur time.Duration) {
	if m == nil {
		return
	}
	m.schedulerWait.Observe(dur.Seconds(), orUnknown(priority))
}

func (m *Metrics) SSEClientsInc() {
	if m == nil {
		return
	}
	m.sseClients.Inc()
}

func (m *Metrics) SSEClientsDec() {
	if m == nil {
		return
	}
	m.sseClients.Dec()
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
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
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.dbStats.Set(float64(stats.OpenConnections), "open_connections")
				m.dbStats.Set(float64(stats.InUse), "in_use")
				m.dbStats.Set(float64(stats.Idle), "idle")
				m.dbStats.Set(float64(stats.WaitCount), "wait_count")
				m.dbStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	interval := scrapeInterval()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}

func isServerErrorStatus(status string) bool {
	status = strings.TrimSpace(status)
	return len(status) == 3 && status[0] == '5'
}
