package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RecordSource is the subset of the image store the collector reads at scrape time.
type RecordSource interface {
	Count(ctx context.Context) (int64, error)
	Health(ctx context.Context) error
}

type storageCollector struct {
	src     RecordSource
	backend string
	logger  *slog.Logger

	recordsDesc *prometheus.Desc
	upDesc      *prometheus.Desc
}

func newStorageCollector(src RecordSource, backend string, logger *slog.Logger) *storageCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &storageCollector{
		src:     src,
		backend: backend,
		logger:  logger,
		recordsDesc: prometheus.NewDesc(
			namespace+"_image_records",
			"Current number of image records in the configured store.",
			[]string{"backend"},
			nil,
		),
		upDesc: prometheus.NewDesc(
			namespace+"_storage_up",
			"Whether the image record store answered its health check (1) or not (0).",
			[]string{"backend"},
			nil,
		),
	}
}

func (c *storageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.recordsDesc
	ch <- c.upDesc
}

func (c *storageCollector) Collect(ch chan<- prometheus.Metric) {
	if c.src == nil {
		return
	}

	// Keep store reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	up := 1.0
	if err := c.src.Health(ctx); err != nil {
		c.logger.Warn("prometheus storage collector health failed", "backend", c.backend, "err", err)
		up = 0
	}
	emitGauge(ch, c.upDesc, up, c.backend)
	if up == 0 {
		return
	}

	n, err := c.src.Count(ctx)
	if err != nil {
		c.logger.Warn("prometheus storage collector count failed", "backend", c.backend, "err", err)
		return
	}
	emitGauge(ch, c.recordsDesc, float64(n), c.backend)
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerStorageCollectorOnce sync.Once

func RegisterStorageCollector(src RecordSource, backend string, logger *slog.Logger) {
	registerStorageCollectorOnce.Do(func() {
		prometheus.MustRegister(newStorageCollector(src, backend, logger))
	})
}
