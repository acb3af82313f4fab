// Package metrics exports evolution progress as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"markovbrains/internal/evo"
)

const namespace = "markovbrains"

// Recorder observes a run and updates its metrics. Metrics are labelled by
// task so several runs can share one registry.
type Recorder struct {
	registry *prometheus.Registry

	generations      *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	checkpoints      *prometheus.CounterVec
	maxFitness       *prometheus.GaugeVec
	meanFitness      *prometheus.GaugeVec
	meanGenomeLength *prometheus.GaugeVec
	meanGates        *prometheus.GaugeVec
	generationTime   *prometheus.HistogramVec
}

// NewRecorder registers the run metrics on reg. A nil reg gets a fresh
// registry.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "generations_total",
			Help:      "Generations evaluated and replaced",
		}, []string{"task"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "uniform_fallbacks_total",
			Help:      "Parent selections that fell back to a uniform draw",
		}, []string{"task"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "checkpoints_total",
			Help:      "Checkpoint genomes written",
		}, []string{"task"}),
		maxFitness: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "population",
			Name:      "max_fitness",
			Help:      "Highest fitness of the last evaluated generation",
		}, []string{"task"}),
		meanFitness: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "population",
			Name:      "mean_fitness",
			Help:      "Mean fitness of the last evaluated generation",
		}, []string{"task"}),
		meanGenomeLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "population",
			Name:      "mean_genome_length",
			Help:      "Mean genome length in bytes",
		}, []string{"task"}),
		meanGates: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "population",
			Name:      "mean_gates",
			Help:      "Mean number of decoded gates per agent",
		}, []string{"task"}),
		generationTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "generation_duration_seconds",
			Help:      "Wall time to evaluate and breed one generation",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"task"}),
	}
}

// Observer binds the recorder to one task label.
func (r *Recorder) Observer(task string) evo.Observer {
	return taskObserver{r: r, task: task}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

type taskObserver struct {
	r    *Recorder
	task string
}

func (o taskObserver) ObserveGeneration(_ context.Context, report evo.GenerationReport) error {
	r := o.r
	r.generations.WithLabelValues(o.task).Inc()
	r.fallbacks.WithLabelValues(o.task).Add(float64(report.Fallbacks))
	r.maxFitness.WithLabelValues(o.task).Set(report.Stats.MaxFitness)
	r.meanFitness.WithLabelValues(o.task).Set(report.Stats.MeanFitness)
	r.meanGenomeLength.WithLabelValues(o.task).Set(report.Stats.MeanGenomeLength)
	r.meanGates.WithLabelValues(o.task).Set(report.Stats.MeanGates)
	r.generationTime.WithLabelValues(o.task).Observe(report.Elapsed.Seconds())
	return nil
}

func (o taskObserver) ObserveCheckpoint(context.Context, evo.Checkpoint) error {
	o.r.checkpoints.WithLabelValues(o.task).Inc()
	return nil
}
