package adapters

import (
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"modkeeper/internal/ports"
	"modkeeper/internal/types"
)

// PrometheusMetricsAdapter records installer metrics in its own registry
// and, when TextfilePath is set, writes them in the node_exporter
// textfile format on Flush.
type PrometheusMetricsAdapter struct {
	Registry     *prometheus.Registry
	TextfilePath string

	operations       *prometheus.CounterVec
	operationSeconds *prometheus.HistogramVec
	fetches          *prometheus.CounterVec
	fetchedBytes     *prometheus.CounterVec
	commits          *prometheus.CounterVec
	commitSeconds    prometheus.Histogram
}

var _ ports.InstallMetricsPort = (*PrometheusMetricsAdapter)(nil)

func NewPrometheusMetricsAdapter(textfilePath string) *PrometheusMetricsAdapter {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &PrometheusMetricsAdapter{
		Registry:     registry,
		TextfilePath: strings.TrimSpace(textfilePath),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modkeeper",
			Subsystem: "installer",
			Name:      "operations_total",
			Help:      "Change set operations applied, by kind and outcome",
		}, []string{"kind", "outcome"}),
		operationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modkeeper",
			Subsystem: "installer",
			Name:      "operation_duration_seconds",
			Help:      "Duration of a single change set operation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modkeeper",
			Subsystem: "fetch",
			Name:      "archives_total",
			Help:      "Archive fetches, by source and outcome",
		}, []string{"source", "outcome"}),
		fetchedBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modkeeper",
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Archive bytes fetched, by source",
		}, []string{"source"}),
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modkeeper",
			Subsystem: "service",
			Name:      "commits_total",
			Help:      "Commit attempts, by outcome",
		}, []string{"outcome"}),
		commitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "modkeeper",
			Subsystem: "service",
			Name:      "commit_duration_seconds",
			Help:      "Duration of a commit",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (a *PrometheusMetricsAdapter) ObserveOperation(kind types.OperationKind, outcome string, duration time.Duration) {
	a.operations.WithLabelValues(string(kind), outcome).Inc()
	a.operationSeconds.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

func (a *PrometheusMetricsAdapter) ObserveFetch(source string, outcome string, bytes int) {
	a.fetches.WithLabelValues(source, outcome).Inc()
	if bytes > 0 {
		a.fetchedBytes.WithLabelValues(source).Add(float64(bytes))
	}
}

func (a *PrometheusMetricsAdapter) ObserveCommit(outcome string, duration time.Duration) {
	a.commits.WithLabelValues(outcome).Inc()
	a.commitSeconds.Observe(duration.Seconds())
}

func (a *PrometheusMetricsAdapter) Flush() error {
	if a.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.TextfilePath, a.Registry); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write metrics textfile").
			WithCause(err)
	}
	return nil
}
