// Package metrics exports benchmark samples as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"TaskBench/internal/bench"
)

const namespace = "taskbench"

// Recorder collects iteration samples into a private registry.
type Recorder struct {
	registry      *prometheus.Registry
	duration      *prometheus.HistogramVec
	throughput    *prometheus.GaugeVec
	iterations    *prometheus.CounterVec
	pushErrors    *prometheus.CounterVec
	handlerErrors *prometheus.CounterVec
}

// NewRecorder registers the benchmark collectors on a fresh registry.
func NewRecorder() *Recorder {
	labels := []string{"backend", "mode"}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Wall-clock time of successful benchmark iterations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18),
		}, labels),
		throughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_per_second",
			Help:      "Throughput of the most recent successful iteration.",
		}, labels),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Benchmark iterations by outcome.",
		}, append(labels, "result")),
		pushErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_errors_total",
			Help:      "Failed task insertions.",
		}, labels),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Failed task handler invocations.",
		}, labels),
	}
	r.registry.MustRegister(r.duration, r.throughput, r.iterations, r.pushErrors, r.handlerErrors)
	return r
}

// ObserveSample implements bench.Observer.
func (r *Recorder) ObserveSample(s bench.Sample) {
	backend, mode := s.Backend, string(s.Mode)
	r.pushErrors.WithLabelValues(backend, mode).Add(float64(s.PushErrors))
	r.handlerErrors.WithLabelValues(backend, mode).Add(float64(s.HandlerErrors))
	if !s.OK() {
		r.iterations.WithLabelValues(backend, mode, "failed").Inc()
		return
	}
	r.iterations.WithLabelValues(backend, mode, "ok").Inc()
	r.duration.WithLabelValues(backend, mode).Observe(s.Elapsed.Seconds())
	r.throughput.WithLabelValues(backend, mode).Set(s.Throughput())
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the metrics in the Prometheus text exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteFile writes the current metrics to path for the node exporter
// textfile collector.
func (r *Recorder) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

var _ bench.Observer = (*Recorder)(nil)
