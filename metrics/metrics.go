package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the collectors for sst writing and reading.
type Registry struct {
	registry *prometheus.Registry

	RecordsWrittenTotal *prometheus.CounterVec
	FilesFinishedTotal  *prometheus.CounterVec
	FileSizeBytes       *prometheus.HistogramVec
	ChecksumChecksTotal *prometheus.CounterVec
	FilesIngestedTotal  prometheus.Counter
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process wide registry.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.RecordsWrittenTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstkit_records_written_total",
			Help: "Records appended to sst writers",
		},
		[]string{"kind"},
	)

	r.FilesFinishedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstkit_files_finished_total",
			Help: "Finished sst files",
		},
		[]string{"mode", "compression"},
	)

	r.FileSizeBytes = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sstkit_file_size_bytes",
			Help:    "Size of finished sst files",
			Buckets: prometheus.ExponentialBuckets(4096, 4, 10),
		},
		[]string{"mode"},
	)

	r.ChecksumChecksTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstkit_checksum_checks_total",
			Help: "Checksum verifications of sst files",
		},
		[]string{"result"},
	)

	r.FilesIngestedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "sstkit_files_ingested_total",
			Help: "Sst files bulk loaded into a database",
		},
	)

	return r
}

// Gatherer exposes the registry, for an HTTP handler or a one-off dump.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Registry) RecordWrite(deletion bool) {
	kind := "put"
	if deletion {
		kind = "delete"
	}
	r.RecordsWrittenTotal.WithLabelValues(kind).Inc()
}

func (r *Registry) RecordFinish(inMemory bool, compression string, size uint64) {
	mode := "disk"
	if inMemory {
		mode = "memory"
	}
	r.FilesFinishedTotal.WithLabelValues(mode, compression).Inc()
	r.FileSizeBytes.WithLabelValues(mode).Observe(float64(size))
}

func (r *Registry) RecordChecksum(err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	r.ChecksumChecksTotal.WithLabelValues(result).Inc()
}
