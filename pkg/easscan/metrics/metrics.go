// Package metrics exposes the worker pool to Prometheus. Collectors live in
// their own registry so tests and repeated runs never collide with the
// default one.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jamesainslie/easscan/pkg/easscan/guard"
	"github.com/jamesainslie/easscan/pkg/easscan/scheduler"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// Compile-time interface check.
var _ scheduler.Observer = (*Collector)(nil)

const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Collector records scheduler events as Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	running   prometheus.Gauge
	effective prometheus.Gauge
	cpu       prometheus.Gauge
	mem       prometheus.Gauge
	freeRAM   prometheus.Gauge
	tasks     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	decisions *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "easscan_tasks_running",
			Help: "Number of scans currently running",
		}),
		effective: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "easscan_effective_workers",
			Help: "Worker bound applied by the overload guard",
		}),
		cpu: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "easscan_host_cpu_percent",
			Help: "CPU utilisation at the last guard check",
		}),
		mem: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "easscan_host_memory_percent",
			Help: "Memory utilisation at the last guard check",
		}),
		freeRAM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "easscan_host_available_ram_gigabytes",
			Help: "Available RAM at the last guard check",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "easscan_tasks_total",
			Help: "Terminal scans by state",
		}, []string{"state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "easscan_task_duration_seconds",
			Help:    "Scan duration by terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"state"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "easscan_guard_decisions_total",
			Help: "Overload guard checks by verdict",
		}, []string{"decision"}),
	}
	c.registry.MustRegister(c.running, c.effective, c.cpu, c.mem, c.freeRAM, c.tasks, c.duration, c.decisions)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Dispatched implements scheduler.Observer.
func (c *Collector) Dispatched(_ types.Target, running, bound int) {
	c.running.Set(float64(running))
	c.effective.Set(float64(bound))
}

// Finished implements scheduler.Observer.
func (c *Collector) Finished(res types.ScanResult, running int) {
	c.running.Set(float64(running))
	state := res.State.String()
	c.tasks.WithLabelValues(state).Inc()
	if res.Duration > 0 {
		c.duration.WithLabelValues(state).Observe(res.Duration.Seconds())
	}
}

// Decided implements scheduler.Observer.
func (c *Collector) Decided(d guard.Decision, effective int) {
	c.effective.Set(float64(effective))
	c.decisions.WithLabelValues(d.Verdict.String()).Inc()
	if d.Err == nil {
		c.cpu.Set(d.Snapshot.CPUPercent)
		c.mem.Set(d.Snapshot.MemPercent)
		c.freeRAM.Set(d.Snapshot.AvailableRAMGB)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve listens on addr and serves /metrics until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return c.serve(ctx, ln)
}

func (c *Collector) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
