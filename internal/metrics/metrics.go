package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels of a visited node.
const (
	OutcomeProcessed    = "processed"
	OutcomeSkipped      = "skipped"
	OutcomeLocked       = "locked"
	OutcomeFailed       = "failed"
	OutcomeUnrecognized = "unrecognized"
	OutcomeDamaged      = "damaged"
	OutcomeEnumerated   = "enumerated"
)

// Metrics provides observability for ingestion runs.
// Collectors live on a private registry so a CLI run can export exactly
// its own numbers. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	NodesDiscovered  *prometheus.CounterVec
	NodesVisited     *prometheus.CounterVec
	Records          *prometheus.CounterVec
	LeasesReclaimed  prometheus.Counter
	ExtractDuration  prometheus.Histogram
	WorkspacesPurged prometheus.Counter
}

// New creates a new Metrics instance with all ingestion metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		NodesDiscovered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_nodes_discovered_total",
			Help: "Entries discovered during a walk, by kind",
		}, []string{"kind"}),
		NodesVisited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_nodes_visited_total",
			Help: "Visited nodes by outcome",
		}, []string{"kind", "outcome"}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_records_total",
			Help: "Records handed to the record parser, by result",
		}, []string{"result"}),
		LeasesReclaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "corpus_leases_reclaimed_total",
			Help: "Stale leases cleared by the sweeper",
		}),
		ExtractDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpus_archive_extract_duration_seconds",
			Help:    "Duration of archive extraction into a workspace",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		WorkspacesPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "corpus_workspaces_removed_total",
			Help: "Extraction workspaces removed by clean",
		}),
	}
}

// Registry exposes the private registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Discovered(kind string) {
	if m == nil {
		return
	}
	m.NodesDiscovered.WithLabelValues(kind).Inc()
}

func (m *Metrics) Visited(kind, outcome string) {
	if m == nil {
		return
	}
	m.NodesVisited.WithLabelValues(kind, outcome).Inc()
}

// Record counts one record result: "ok", "ignored" or "failed".
func (m *Metrics) Record(result string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(result).Inc()
}

func (m *Metrics) Reclaimed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.LeasesReclaimed.Add(float64(n))
}

// ObserveExtract records the duration of an extraction.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveExtract(start time.Time) {
	if m == nil {
		return
	}
	m.ExtractDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) WorkspaceRemoved() {
	if m == nil {
		return
	}
	m.WorkspacesPurged.Inc()
}

// WriteTextfile exports the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
