package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/airqo"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/config"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/db"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/logging"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/metrics"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/pipeline"
	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/publish"
)

var (
	sha1ver   string // sha1 revision used to build the program
	buildTime string // when the executable was built
	version   string // custom version number of the program
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("archiver failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if cfg.ShowVersion {
		fmt.Printf("airqo-archiver version=%s buildTime=%s sha1=%s\n", version, buildTime, sha1ver)
		return nil
	}
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if errors.Is(err, config.ErrMissingCredentials) && cfg.OnMissingConfig == config.PolicySkip {
		log.Warnf("skipping run: %v", err)
		return nil
	}
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	client := airqo.New(&http.Client{Timeout: cfg.RequestTimeout}, airqo.Options{
		BaseURL:     cfg.BaseURL,
		Token:       cfg.Token,
		CohortID:    cfg.CohortID,
		MaxAttempts: cfg.MaxAttempts,
		BackoffUnit: cfg.BackoffUnit,
		PageDelay:   cfg.PageDelay,
		UserAgent:   "airqo-archiver/" + versionString(),
		OnAttempt:   m.ObserveRequest,
	})

	deps := pipeline.Deps{
		Fetcher: client,
		Logger:  logger,
		Metrics: m,
	}

	if !cfg.DryRun {
		if cfg.DatabaseURL != "" {
			mirror, err := openMirror(ctx, cfg.DatabaseURL)
			if err != nil {
				logger.WithError(err).Warn("postgres mirror disabled")
			} else {
				defer mirror.Close()
				deps.Mirror = mirror
			}
		}
		if cfg.MinIO.Endpoint != "" {
			uploader, err := publish.NewObjectPublisher(ctx, publish.ObjectConfig{
				Endpoint:  cfg.MinIO.Endpoint,
				AccessKey: cfg.MinIO.AccessKey,
				SecretKey: cfg.MinIO.SecretKey,
				Bucket:    cfg.MinIO.Bucket,
				Prefix:    cfg.MinIO.Prefix,
				UseSSL:    cfg.MinIO.UseSSL,
			})
			if err != nil {
				logger.WithError(err).Warn("object upload disabled")
			} else {
				deps.Uploader = uploader
			}
		}
		if cfg.RabbitMQURL != "" {
			notifier, err := publish.NewQueueNotifier(cfg.RabbitMQURL, cfg.RabbitMQQueue)
			if err != nil {
				logger.WithError(err).Warn("run notifications disabled")
			} else {
				defer notifier.Close()
				deps.Notifier = notifier
			}
		}
	}

	logger.WithFields(log.Fields{
		"version":  versionString(),
		"strategy": cfg.Strategy,
		"schema":   cfg.SchemaName,
		"archive":  cfg.ArchivePath,
		"dry_run":  cfg.DryRun,
	}).Info("starting archiver run")

	_, err = pipeline.Run(ctx, cfg, deps)
	return err
}

func openMirror(ctx context.Context, url string) (*db.Mirror, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	mirror, err := db.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := mirror.EnsureSchema(ctx); err != nil {
		mirror.Close()
		return nil, err
	}
	return mirror, nil
}

func versionString() string {
	if version == "" {
		return "dev"
	}
	return version
}
