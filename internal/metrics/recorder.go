// Package metrics exports scheduler activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warpdl/warppkg/pkg/distlib"
)

const namespace = "warppkg"

// PrometheusRecorder implements distlib.Recorder.
type PrometheusRecorder struct {
	reg          *prom.Registry
	once         sync.Once
	tasksStarted *prom.CounterVec
	taskResults  *prom.CounterVec
	taskDuration *prom.HistogramVec
	activeTasks  prom.Gauge
	installs     *prom.CounterVec
}

var _ distlib.Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs and registers the scheduler metrics on
// reg. A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{reg: reg}
	pr.once.Do(func() {
		pr.tasksStarted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Install tasks picked up by a worker, by priority",
		}, []string{"priority"})
		pr.taskResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_results_total",
			Help:      "Finished install tasks by priority and result",
		}, []string{"priority", "result"})
		pr.taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time spent fetching and committing one task",
			Buckets:   prom.DefBuckets,
		}, []string{"priority"})
		pr.activeTasks = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Install tasks currently running",
		})
		pr.installs = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Package installs by final result",
		}, []string{"result"})
		reg.MustRegister(pr.tasksStarted, pr.taskResults, pr.taskDuration, pr.activeTasks, pr.installs)
	})
	return pr
}

// RegisterProcessCollectors adds the Go runtime and process collectors.
func (p *PrometheusRecorder) RegisterProcessCollectors() {
	p.reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
}

// QueueSource is the part of a dispatcher exposed as gauges.
type QueueSource interface {
	ActiveCount() int
	WaitingCount() int
}

// RegisterQueue exposes the dispatcher's running and waiting counts,
// sampled at scrape time.
func (p *PrometheusRecorder) RegisterQueue(q QueueSource) {
	p.reg.MustRegister(
		prom.NewGaugeFunc(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_running",
			Help:      "Jobs running in the dispatcher",
		}, func() float64 { return float64(q.ActiveCount()) }),
		prom.NewGaugeFunc(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_waiting",
			Help:      "Jobs queued in the dispatcher",
		}, func() float64 { return float64(q.WaitingCount()) }),
	)
}

func (p *PrometheusRecorder) TaskStarted(priority distlib.Priority) {
	if p == nil {
		return
	}
	p.tasksStarted.WithLabelValues(priority.String()).Inc()
	p.activeTasks.Inc()
}

func (p *PrometheusRecorder) TaskFinished(priority distlib.Priority, result distlib.ResultCode, d time.Duration) {
	if p == nil {
		return
	}
	p.activeTasks.Dec()
	p.taskResults.WithLabelValues(priority.String(), result.String()).Inc()
	p.taskDuration.WithLabelValues(priority.String()).Observe(d.Seconds())
}

func (p *PrometheusRecorder) InstallFinished(result distlib.ResultCode) {
	if p == nil {
		return
	}
	p.installs.WithLabelValues(result.String()).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
