package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filebridge/internal/pipeline"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// JobCreator registers a newly discovered file for processing.
type JobCreator interface {
	Create(ctx context.Context, job *pipeline.FileJob) error
}

// LedgerPruner removes ledger entries older than a cutoff.
type LedgerPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CronConfig carries the two schedules and the retention window.
type CronConfig struct {
	InboxDir      string
	SpoolDir      string
	InboxScanSpec string
	PruneSpec     string
	RetentionDays int
}

// Cron owns the scheduled background jobs: the inbox scan that turns dropped
// files into jobs, and the ledger retention prune.
type Cron struct {
	cfg    CronConfig
	jobs   JobCreator
	ledger LedgerPruner
	log    *slog.Logger
	sched  *cron.Cron
}

func NewCron(cfg CronConfig, jobs JobCreator, ledger LedgerPruner, log *slog.Logger) *Cron {
	return &Cron{
		cfg:    cfg,
		jobs:   jobs,
		ledger: ledger,
		log:    log,
		sched:  cron.New(),
	}
}

// Start registers the schedules and starts the scheduler goroutine.
func (c *Cron) Start(ctx context.Context) error {
	if c.cfg.InboxDir != "" {
		if _, err := c.sched.AddFunc(c.cfg.InboxScanSpec, func() {
			if err := c.ScanInbox(ctx); err != nil {
				c.log.Error("inbox scan failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule inbox scan: %w", err)
		}
	}

	if _, err := c.sched.AddFunc(c.cfg.PruneSpec, func() {
		c.pruneLedger(ctx)
	}); err != nil {
		return fmt.Errorf("schedule ledger prune: %w", err)
	}

	c.sched.Start()
	c.log.Info("cron started",
		"inbox_dir", c.cfg.InboxDir,
		"inbox_scan", c.cfg.InboxScanSpec,
		"ledger_prune", c.cfg.PruneSpec,
	)
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (c *Cron) Stop() {
	<-c.sched.Stop().Done()
	c.log.Info("cron stopped")
}

// ScanInbox walks <inbox>/<client_code>/*.csv, moves each file into the
// spool and registers a job for it. Client directories are scanned
// concurrently; a failure in one does not stop the others from being
// reported, but the scan as a whole returns the first error.
func (c *Cron) ScanInbox(ctx context.Context) error {
	entries, err := os.ReadDir(c.cfg.InboxDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read inbox: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		clientCode := entry.Name()
		g.Go(func() error {
			return c.scanClientDir(ctx, clientCode)
		})
	}
	return g.Wait()
}

func (c *Cron) scanClientDir(ctx context.Context, clientCode string) error {
	dir := filepath.Join(c.cfg.InboxDir, clientCode)
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}

	for _, path := range matches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.intake(ctx, clientCode, path); err != nil {
			c.log.Error("inbox file intake failed",
				"client_code", clientCode,
				"path", path,
				"error", err,
			)
			continue
		}
	}
	return nil
}

// intake moves one inbox file into the spool and creates its job. The move
// happens first so a crash between the two steps leaves an orphaned spool
// file rather than a job pointing at a vanished inbox path.
func (c *Cron) intake(ctx context.Context, clientCode, path string) error {
	fileName := filepath.Base(path)
	id := uuid.New()
	spoolPath := filepath.Join(c.cfg.SpoolDir, id.String()+"_"+sanitizeFileName(fileName))

	if err := os.MkdirAll(c.cfg.SpoolDir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}
	if err := os.Rename(path, spoolPath); err != nil {
		return fmt.Errorf("move to spool: %w", err)
	}

	job := &pipeline.FileJob{
		ID:         id,
		ClientCode: clientCode,
		FileName:   fileName,
		SpoolPath:  spoolPath,
	}
	if err := c.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	c.log.Info("inbox file registered",
		"file_id", job.ID,
		"client_code", clientCode,
		"file_name", fileName,
	)
	return nil
}

func (c *Cron) pruneLedger(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -c.cfg.RetentionDays)
	pruned, err := c.ledger.PruneOlderThan(ctx, cutoff)
	if err != nil {
		c.log.Error("ledger prune failed", "error", err)
		return
	}
	c.log.Info("ledger pruned", "entries", pruned, "cutoff", cutoff)
}

// sanitizeFileName strips path separators and whitespace runs from an
// uploaded file name before it is used in a spool path.
func sanitizeFileName(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		default:
			return r
		}
	}, name)
	return strings.Join(strings.Fields(name), "_")
}
