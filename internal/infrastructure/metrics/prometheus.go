package metrics

import (
	"sync"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"github.com/prometheus/client_golang/prometheus"
)

var runStates = []domain.RunState{
	domain.StateIdle,
	domain.StateRunning,
	domain.StateCompleted,
	domain.StateFailed,
	domain.StateStopped,
}

// Collector exports run progress as Prometheus series. It observes the
// progress tracker and counts downloaded bytes.
type Collector struct {
	state           *prometheus.GaugeVec
	percent         prometheus.Gauge
	filesTotal      prometheus.Gauge
	filesCompleted  prometheus.Gauge
	rowsCopied      prometheus.Gauge
	tableRows       *prometheus.GaugeVec
	errors          prometheus.Gauge
	downloadedBytes prometheus.Counter

	mu sync.Mutex
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cnpj_import_run_state",
			Help: "1 for the current state of the ingestion run",
		}, []string{"state"}),
		percent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cnpj_import_progress_percent",
			Help: "Weighted progress of the current run",
		}),
		filesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cnpj_import_files_total",
			Help: "Archives selected for the current run",
		}),
		filesCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cnpj_import_files_completed",
			Help: "Archives completed in the current run",
		}),
		rowsCopied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cnpj_import_current_file_rows_copied",
			Help: "Rows copied so far from the file being loaded",
		}),
		tableRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cnpj_import_table_live_rows",
			Help: "Estimated live rows per target table",
		}, []string{"table"}),
		errors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cnpj_import_run_errors",
			Help: "Errors recorded in the current run",
		}),
		downloadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cnpj_import_downloaded_bytes_total",
			Help: "Bytes written to the download directory",
		}),
	}

	reg.MustRegister(
		c.state,
		c.percent,
		c.filesTotal,
		c.filesCompleted,
		c.rowsCopied,
		c.tableRows,
		c.errors,
		c.downloadedBytes,
	)
	c.setState(domain.StateIdle)
	return c
}

func (c *Collector) OnProgress(p domain.Progress) {
	c.setState(p.State)
	c.percent.Set(p.Percent)
	c.filesTotal.Set(float64(p.TotalFiles))
	c.filesCompleted.Set(float64(p.CompletedFiles))
	c.errors.Set(float64(len(p.Errors)))

	if p.CurrentFile != nil {
		c.rowsCopied.Set(float64(p.CurrentFile.RowsCopied))
	} else {
		c.rowsCopied.Set(0)
	}
	for table, n := range p.TableCounts {
		c.tableRows.WithLabelValues(table).Set(float64(n))
	}
}

// Add implements the downloader's byte counter.
func (c *Collector) Add(n float64) {
	c.downloadedBytes.Add(n)
}

func (c *Collector) setState(current domain.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range runStates {
		v := 0.0
		if s == current {
			v = 1
		}
		c.state.WithLabelValues(string(s)).Set(v)
	}
}
