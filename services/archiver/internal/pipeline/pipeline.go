package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/airqo"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/archive"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/config"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/metrics"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/models"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/normalize"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/publish"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/reconcile"
)

// Run outcomes.
const (
	StatusSuccess     = "success"
	StatusFetchFailed = "fetch_failed"
	StatusError       = "error"
)

// Fetcher is the subset of airqo.Client a run needs.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (*airqo.Response, error)
	FetchWindow(ctx context.Context, start, end time.Time) (*airqo.Response, error)
}

// Mirror receives the fresh rows a run accepted.
type Mirror interface {
	UpsertRows(ctx context.Context, runID string, rows []models.Row) (int, error)
}

// Uploader copies the run's files somewhere else.
type Uploader interface {
	Upload(ctx context.Context, ev *publish.RunEvent) error
}

// Notifier announces a finished run.
type Notifier interface {
	Notify(ctx context.Context, ev publish.RunEvent) error
}

// Deps are the collaborators of a run. Fetcher and Logger are required; the
// rest are optional sinks.
type Deps struct {
	Fetcher  Fetcher
	Logger   *log.Logger
	Metrics  *metrics.Run
	Mirror   Mirror
	Uploader Uploader
	Notifier Notifier

	Now      func() time.Time
	NewRunID func() string
}

// Summary reports what a run did.
type Summary struct {
	RunID       string
	Status      string
	Strategy    string
	AuthMode    string
	Attempts    int
	Pages       int
	Skipped     int
	Stats       reconcile.Stats
	ArchiveRows int
	Mirrored    int
	DryRun      bool
	FetchErr    *airqo.FetchError
}

// Run performs one fetch, reconcile and persist cycle.
//
// A fetch that exhausts its retries replaces the recent snapshot with a
// diagnostic and leaves the archive untouched; it is an error only under
// the fail policy. Storage errors are always returned. Sink errors are
// logged and never fail the run.
func Run(ctx context.Context, cfg config.Config, deps Deps) (Summary, error) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newRunID := deps.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}

	if len(cfg.Schema) == 0 {
		cfg.Schema = models.FullSchema
	}

	started := now()
	sum := Summary{RunID: newRunID(), Strategy: cfg.Strategy, DryRun: cfg.DryRun}
	logger := deps.Logger.WithFields(log.Fields{
		"run_id":   sum.RunID,
		"cohort":   cfg.CohortID,
		"strategy": cfg.Strategy,
	})

	resp, err := fetch(ctx, cfg, deps.Fetcher, started)
	if err != nil {
		var fe *airqo.FetchError
		if !errors.As(err, &fe) {
			sum.Status = StatusError
			finish(ctx, cfg, deps, logger, &sum, started, now())
			return sum, err
		}
		sum.Status = StatusFetchFailed
		sum.FetchErr = fe
		sum.AuthMode = fe.AuthMode
		sum.Attempts = fe.Attempts
		logger.WithFields(log.Fields{
			"status_code": fe.StatusCode,
			"auth_mode":   fe.AuthMode,
			"attempts":    fe.Attempts,
		}).WithError(fe.Err).Error("fetch failed")

		if !cfg.DryRun {
			diag := archive.Diagnostic{
				Error:           StatusFetchFailed,
				StatusCode:      fe.StatusCode,
				AuthMode:        fe.AuthMode,
				Attempts:        fe.Attempts,
				ResponsePreview: fe.BodyPreview,
				CohortID:        cfg.CohortID,
				RunID:           sum.RunID,
				FetchedAt:       normalize.FormatTimestamp(started),
			}
			if fe.Err != nil {
				diag.Message = fe.Err.Error()
			}
			if werr := archive.WriteDiagnostic(cfg.RecentPath, diag); werr != nil {
				sum.Status = StatusError
				finish(ctx, cfg, deps, logger, &sum, started, now())
				return sum, werr
			}
			logger.Infof("Wrote recent JSON: %s", cfg.RecentPath)
		}
		finish(ctx, cfg, deps, logger, &sum, started, now())

		if cfg.OnFetchFailure == config.PolicyFail {
			return sum, err
		}
		logger.Warn("fetch failure skipped by ON_FETCH_FAILURE=skip")
		return sum, nil
	}

	sum.AuthMode = resp.AuthMode
	sum.Attempts = resp.Attempts
	sum.Pages = resp.Pages
	logger.WithFields(log.Fields{
		"auth_mode": resp.AuthMode,
		"attempts":  resp.Attempts,
		"pages":     resp.Pages,
		"items":     len(resp.Items),
	}).Info("fetched measurements")

	if !cfg.DryRun {
		if err := archive.WriteSnapshot(cfg.RecentPath, resp.Body); err != nil {
			sum.Status = StatusError
			finish(ctx, cfg, deps, logger, &sum, started, now())
			return sum, err
		}
		logger.Infof("Wrote recent JSON: %s", cfg.RecentPath)
	}

	store := archive.NewStore(cfg.ArchivePath, cfg.Schema)
	table, err := store.Load()
	if err != nil {
		sum.Status = StatusError
		finish(ctx, cfg, deps, logger, &sum, started, now())
		return sum, err
	}

	fresh, skipped := normalize.NormalizeAll(resp.Items, cfg.Schema)
	sum.Skipped = skipped
	res := reconcile.Reconcile(table.Rows, fresh, reconcile.Options{
		Mode:           modeFor(cfg.Strategy),
		Columns:        table.Header,
		KeyWithNetwork: cfg.KeyWithNetwork,
	})
	sum.Stats = res.Stats
	sum.ArchiveRows = len(res.Rows)

	if cfg.DryRun {
		logger.Infof("dry-run: would write %d archive rows (%d new) to %s", len(res.Rows), res.Stats.Appended, cfg.ArchivePath)
		sum.Status = StatusSuccess
		finish(ctx, cfg, deps, logger, &sum, started, now())
		return sum, nil
	}

	if err := store.Save(table.Header, res.Rows); err != nil {
		sum.Status = StatusError
		finish(ctx, cfg, deps, logger, &sum, started, now())
		return sum, err
	}
	logger.Infof("Appended %d new archive rows to: %s", res.Stats.Appended, cfg.ArchivePath)
	if res.Stats.Superseded > 0 {
		logger.Infof("Replaced %d archive rows with calibrated values", res.Stats.Superseded)
	}

	if deps.Mirror != nil && len(res.Accepted) > 0 {
		n, err := deps.Mirror.UpsertRows(ctx, sum.RunID, res.Accepted)
		sum.Mirrored = n
		if err != nil {
			logger.WithError(err).Warn("postgres mirror failed")
		}
	}

	sum.Status = StatusSuccess
	finish(ctx, cfg, deps, logger, &sum, started, now())
	return sum, nil
}

func fetch(ctx context.Context, cfg config.Config, f Fetcher, now time.Time) (*airqo.Response, error) {
	switch cfg.Strategy {
	case config.StrategyWindow:
		end := now.UTC()
		return f.FetchWindow(ctx, end.Add(-cfg.Window), end)
	case config.StrategySnapshot, "":
		return f.FetchSnapshot(ctx)
	default:
		return nil, fmt.Errorf("pipeline: unknown strategy %q", cfg.Strategy)
	}
}

func modeFor(strategy string) reconcile.Mode {
	if strategy == config.StrategyWindow {
		return reconcile.ModeMerge
	}
	return reconcile.ModeAppend
}

// finish records metrics, runs the object and queue sinks and logs the
// summary line.
func finish(ctx context.Context, cfg config.Config, deps Deps, logger *log.Entry, sum *Summary, started, ended time.Time) {
	elapsed := ended.Sub(started)

	if !cfg.DryRun && sum.Status != StatusError {
		ev := publish.RunEvent{
			RunID:       sum.RunID,
			CohortID:    cfg.CohortID,
			Strategy:    cfg.Strategy,
			Status:      sum.Status,
			AuthMode:    sum.AuthMode,
			Fetched:     sum.Stats.Fetched,
			Appended:    sum.Stats.Appended,
			Superseded:  sum.Stats.Superseded,
			Invalid:     sum.Stats.Invalid,
			ArchiveRows: sum.ArchiveRows,
			ArchivePath: cfg.ArchivePath,
			RecentPath:  cfg.RecentPath,
			StartedAt:   started.UTC(),
			FinishedAt:  ended.UTC(),
		}
		if deps.Uploader != nil && sum.Status == StatusSuccess {
			if err := deps.Uploader.Upload(ctx, &ev); err != nil {
				logger.WithError(err).Warn("object upload failed")
			}
		}
		if deps.Notifier != nil {
			if err := deps.Notifier.Notify(ctx, ev); err != nil {
				logger.WithError(err).Warn("run notification failed")
			}
		}
	}

	if deps.Metrics != nil {
		deps.Metrics.AddRows("fetched", sum.Stats.Fetched)
		deps.Metrics.AddRows("invalid", sum.Stats.Invalid)
		deps.Metrics.AddRows("duplicate", sum.Stats.Duplicates)
		deps.Metrics.AddRows("superseded", sum.Stats.Superseded)
		deps.Metrics.AddRows("appended", sum.Stats.Appended)
		deps.Metrics.SetArchiveRows(sum.ArchiveRows)
		deps.Metrics.Finish(sum.Status, elapsed, ended)
		if cfg.PushgatewayURL != "" {
			if err := deps.Metrics.Push(ctx, cfg.PushgatewayURL, cfg.CohortID); err != nil {
				logger.WithError(err).Warn("metrics push failed")
			}
		}
	}

	logger.WithFields(log.Fields{
		"status":       sum.Status,
		"auth_mode":    sum.AuthMode,
		"attempts":     sum.Attempts,
		"fetched":      sum.Stats.Fetched,
		"skipped":      sum.Skipped,
		"invalid":      sum.Stats.Invalid,
		"duplicates":   sum.Stats.Duplicates,
		"superseded":   sum.Stats.Superseded,
		"appended":     sum.Stats.Appended,
		"archive_rows": sum.ArchiveRows,
		"mirrored":     sum.Mirrored,
		"dry_run":      cfg.DryRun,
		"elapsed":      elapsed.Round(time.Millisecond).String(),
	}).Info("run finished")
}
