package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// JobName is the Pushgateway job the archiver reports under.
const JobName = "airqo_archiver"

// Run collects the metrics of a single archiver run. Each run gets its own
// registry since the process exits after pushing.
type Run struct {
	Registry *prometheus.Registry

	fetchAttempts *prometheus.CounterVec
	rows          *prometheus.CounterVec
	archiveRows   prometheus.Gauge
	runs          *prometheus.CounterVec
	duration      prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

func New() *Run {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Run{
		Registry: reg,
		fetchAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airqo_fetch_requests_total",
				Help: "HTTP requests made to the AirQo API by auth mode and status code",
			},
			[]string{"auth_mode", "code"},
		),
		rows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airqo_rows_total",
				Help: "Rows seen by the reconciler by outcome",
			},
			[]string{"outcome"}, // fetched, invalid, duplicate, superseded, appended
		),
		archiveRows: f.NewGauge(prometheus.GaugeOpts{
			Name: "airqo_archive_rows",
			Help: "Rows in the archive after the run",
		}),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airqo_runs_total",
				Help: "Archiver runs by status",
			},
			[]string{"status"}, // success, fetch_failed, skipped, error
		),
		duration: f.NewGauge(prometheus.GaugeOpts{
			Name: "airqo_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "airqo_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
	}
}

// ObserveRequest matches airqo.Options.OnAttempt. A zero status means the
// request never got a response.
func (r *Run) ObserveRequest(authMode string, status int, _ error) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	r.fetchAttempts.WithLabelValues(authMode, code).Inc()
}

func (r *Run) AddRows(outcome string, n int) {
	if n > 0 {
		r.rows.WithLabelValues(outcome).Add(float64(n))
	}
}

func (r *Run) SetArchiveRows(n int) {
	r.archiveRows.Set(float64(n))
}

// Finish records the run outcome.
func (r *Run) Finish(status string, elapsed time.Duration, now time.Time) {
	r.runs.WithLabelValues(status).Inc()
	r.duration.Set(elapsed.Seconds())
	if status == "success" {
		r.lastSuccess.Set(float64(now.Unix()))
	}
}

// Push sends the registry to a Pushgateway, grouped by cohort.
func (r *Run) Push(ctx context.Context, url, cohort string) error {
	err := push.New(url, JobName).
		Gatherer(r.Registry).
		Grouping("cohort", cohort).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}
