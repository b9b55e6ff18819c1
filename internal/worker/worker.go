// Package worker consumes extraction tasks and drives the browser-backed
// scrape lifecycle.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hirewire/jobscraper/internal/scrape"
	"github.com/hirewire/jobscraper/internal/telemetry"
)

// CompletionEvent is the message published when a task reaches a terminal
// state.
type CompletionEvent struct {
	Fingerprint  string `json:"fingerprint"`
	CanonicalURL string `json:"canonical_url"`
	Status       string `json:"status"`
	SnapshotURI  string `json:"snapshot_uri,omitempty"`
	CompletedAt  int64  `json:"completed_at"`
}

// Config collects the worker collaborators. Publisher and Snapshots are
// optional; when nil those side effects are skipped.
type Config struct {
	Ledger              scrape.Ledger
	Queue               scrape.Queue
	Browser             scrape.Browser
	Resolver            scrape.Resolver
	Publisher           scrape.Publisher
	Snapshots           scrape.BlobStore
	Clock               scrape.Clock
	Logger              *zap.Logger
	Topic               string
	SnapshotPrefix      string
	SnapshotContentType string
	Retry               scrape.RetryPolicy
}

// Worker processes queued scrape tasks until its context ends.
type Worker struct {
	cfg    Config
	logger *zap.Logger
}

// New validates the required collaborators and returns a Worker.
func New(cfg Config) (*Worker, error) {
	switch {
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("ledger is required")
	case cfg.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case cfg.Browser == nil:
		return nil, fmt.Errorf("browser is required")
	case cfg.Resolver == nil:
		return nil, fmt.Errorf("resolver is required")
	case cfg.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = scrape.TaskRetryPolicy()
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	if cfg.SnapshotContentType == "" {
		cfg.SnapshotContentType = "text/html"
	}
	return &Worker{cfg: cfg, logger: cfg.Logger}, nil
}

// Run consumes tasks until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.cfg.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("dequeue failed", zap.Error(err))
			continue
		}
		w.processTask(ctx, task)
	}
}

// attemptResult carries one attempt's outcome through the retry loop.
type attemptResult struct {
	posting  *scrape.Posting
	html     string
	archived bool
}

func (w *Worker) processTask(ctx context.Context, task scrape.Task) {
	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()

	logger := w.logger.With(
		zap.String("fingerprint", task.Fingerprint),
		zap.String("canonical_url", task.CanonicalURL))

	if err := w.cfg.Ledger.MarkScraping(ctx, task.Fingerprint); err != nil {
		logger.Error("mark scraping failed", zap.Error(err))
		return
	}

	start := time.Now()
	result, err := w.runWithRetry(ctx, task, logger)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		if markErr := w.cfg.Ledger.MarkFailed(ctx, task.Fingerprint); markErr != nil {
			logger.Error("mark failed errored", zap.Error(markErr))
		}
		logger.Error("task failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		telemetry.ObserveScrape(task.Host, "failed", elapsed)
		w.publish(ctx, task, "failed", "", logger)

	case result.archived:
		if markErr := w.cfg.Ledger.MarkArchived(ctx, task.Fingerprint); markErr != nil {
			logger.Error("mark archived failed", zap.Error(markErr))
			return
		}
		logger.Info("posting gone upstream, archived", zap.Duration("elapsed", elapsed))
		telemetry.ObserveScrape(task.Host, "archived", elapsed)
		w.publish(ctx, task, "archived", "", logger)

	default:
		if markErr := w.cfg.Ledger.MarkScraped(ctx, task.Fingerprint, result.posting); markErr != nil {
			logger.Error("mark scraped failed", zap.Error(markErr))
			return
		}
		uri := w.storeSnapshot(ctx, task, result.html, logger)
		logger.Info("posting scraped",
			zap.String("title", result.posting.Title),
			zap.Duration("elapsed", elapsed))
		telemetry.ObserveScrape(task.Host, "scraped", elapsed)
		w.publish(ctx, task, "scraped", uri, logger)
	}
}

func (w *Worker) runWithRetry(ctx context.Context, task scrape.Task, logger *zap.Logger) (attemptResult, error) {
	var (
		result attemptResult
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = w.attempt(ctx, task)
		if err == nil || result.archived {
			return result, nil
		}
		if !w.cfg.Retry.ShouldRetry(err, attempt) {
			return attemptResult{}, err
		}
		delay := w.cfg.Retry.Backoff(attempt)
		logger.Warn("scrape attempt failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return attemptResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (w *Worker) attempt(ctx context.Context, task scrape.Task) (attemptResult, error) {
	strategy, _, err := w.cfg.Resolver.Resolve(task.CanonicalURL)
	if err != nil {
		return attemptResult{}, fmt.Errorf("resolve strategy: %w", err)
	}

	session, err := w.cfg.Browser.NewSession(ctx)
	if err != nil {
		return attemptResult{}, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	status, err := session.Navigate(ctx, task.CanonicalURL)
	if err != nil {
		return attemptResult{}, err
	}
	if status == http.StatusNotFound {
		return attemptResult{archived: true}, nil
	}
	if status >= 400 {
		return attemptResult{}, fmt.Errorf("document response status %d", status)
	}

	posting, err := strategy.Scrape(ctx, session)
	if err != nil {
		return attemptResult{}, err
	}

	// Snapshot reads are best effort; a miss never fails the task.
	html, err := session.HTML(ctx)
	if err != nil {
		w.logger.Warn("snapshot read failed",
			zap.String("fingerprint", task.Fingerprint), zap.Error(err))
		html = ""
	}

	return attemptResult{posting: posting, html: html}, nil
}

func (w *Worker) storeSnapshot(ctx context.Context, task scrape.Task, html string, logger *zap.Logger) string {
	if w.cfg.Snapshots == nil || html == "" {
		return ""
	}
	path := fmt.Sprintf("%s/%s/%d.html", w.cfg.SnapshotPrefix, task.Fingerprint, w.cfg.Clock.Now().Unix())
	uri, err := w.cfg.Snapshots.PutObject(ctx, path, w.cfg.SnapshotContentType, []byte(html))
	if err != nil {
		logger.Warn("snapshot upload failed", zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) publish(ctx context.Context, task scrape.Task, status, snapshotURI string, logger *zap.Logger) {
	if w.cfg.Publisher == nil {
		return
	}
	event := CompletionEvent{
		Fingerprint:  task.Fingerprint,
		CanonicalURL: task.CanonicalURL,
		Status:       status,
		SnapshotURI:  snapshotURI,
		CompletedAt:  w.cfg.Clock.Now().Unix(),
	}
	if _, err := w.cfg.Publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		logger.Warn("completion event publish failed", zap.Error(err))
	}
}
