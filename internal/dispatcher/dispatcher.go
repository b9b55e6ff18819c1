// Package dispatcher implements the admission pipeline: canonicalize,
// fingerprint, dedup, conditionally enqueue.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hirewire/jobscraper/internal/scrape"
	"github.com/hirewire/jobscraper/internal/telemetry"
)

// Dispatcher routes submitted URLs through canonicalization, dedup, and
// the ledger's conditional write, then enqueues admitted work.
type Dispatcher struct {
	resolver scrape.Resolver
	finger   scrape.Fingerprinter
	cache    scrape.DedupCache
	ledger   scrape.Ledger
	queue    scrape.Queue
	idGen    scrape.IDGenerator
	clock    scrape.Clock
	logger   *zap.Logger
}

// Config collects the dispatcher collaborators.
type Config struct {
	Resolver      scrape.Resolver
	Fingerprinter scrape.Fingerprinter
	Cache         scrape.DedupCache
	Ledger        scrape.Ledger
	Queue         scrape.Queue
	IDGenerator   scrape.IDGenerator
	Clock         scrape.Clock
	Logger        *zap.Logger
}

// New wires a Dispatcher from its collaborators.
func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Resolver == nil:
		return nil, fmt.Errorf("resolver is required")
	case cfg.Fingerprinter == nil:
		return nil, fmt.Errorf("fingerprinter is required")
	case cfg.Cache == nil:
		return nil, fmt.Errorf("dedup cache is required")
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("ledger is required")
	case cfg.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case cfg.IDGenerator == nil:
		return nil, fmt.Errorf("id generator is required")
	case cfg.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		resolver: cfg.Resolver,
		finger:   cfg.Fingerprinter,
		cache:    cfg.Cache,
		ledger:   cfg.Ledger,
		queue:    cfg.Queue,
		idGen:    cfg.IDGenerator,
		clock:    cfg.Clock,
		logger:   logger,
	}, nil
}

// Admit canonicalizes the URL, fingerprints it, and attempts the
// conditional enqueue. The returned Admission reports whether new work
// was queued; a false Queued with a nil error is the duplicate case.
func (d *Dispatcher) Admit(ctx context.Context, rawURL string) (scrape.Admission, error) {
	strategy, host, err := d.resolver.Resolve(rawURL)
	if err != nil {
		return scrape.Admission{}, err
	}

	canonical, err := strategy.Normalize(rawURL)
	if err != nil {
		return scrape.Admission{}, err
	}

	fingerprint, err := d.finger.Fingerprint(canonical)
	if err != nil {
		return scrape.Admission{}, fmt.Errorf("fingerprint %s: %w", canonical, err)
	}

	admission := scrape.Admission{Fingerprint: fingerprint, CanonicalURL: canonical}

	// Cache errors degrade to the ledger check instead of failing the
	// request; the conditional write below is the correctness boundary.
	seen, err := d.cache.Seen(ctx, fingerprint)
	if err != nil {
		d.logger.Warn("dedup cache read failed, falling through to ledger",
			zap.String("fingerprint", fingerprint), zap.Error(err))
	} else if seen {
		telemetry.ObserveAdmission("duplicate")
		return admission, nil
	}

	id, err := d.idGen.NewID()
	if err != nil {
		return scrape.Admission{}, fmt.Errorf("generate job id: %w", err)
	}

	queued, err := d.ledger.Admit(ctx, id, canonical, fingerprint)
	if err != nil {
		return scrape.Admission{}, fmt.Errorf("admit %s: %w", fingerprint, err)
	}
	if !queued {
		telemetry.ObserveAdmission("duplicate")
		return admission, nil
	}

	// Marked only after a real write so the cache TTL never outlives the
	// ledger's own eligibility window.
	if err := d.cache.Mark(ctx, fingerprint); err != nil {
		d.logger.Warn("dedup cache mark failed",
			zap.String("fingerprint", fingerprint), zap.Error(err))
	}

	task := scrape.Task{
		Fingerprint:  fingerprint,
		CanonicalURL: canonical,
		Host:         host,
		Submitted:    d.clock.Now().Unix(),
	}
	if err := d.queue.Enqueue(ctx, task); err != nil {
		// The row is queued but no task made it onto the queue; the
		// cooldown window will let a later submission requeue it.
		if markErr := d.ledger.MarkFailed(ctx, fingerprint); markErr != nil {
			d.logger.Error("failed to mark orphaned admission",
				zap.String("fingerprint", fingerprint), zap.Error(markErr))
		}
		return scrape.Admission{}, fmt.Errorf("enqueue %s: %w", fingerprint, err)
	}

	d.logger.Info("job admitted",
		zap.String("fingerprint", fingerprint),
		zap.String("canonical_url", canonical),
		zap.String("host", host))
	telemetry.ObserveAdmission("queued")

	admission.Queued = true
	return admission, nil
}

// GetJob reads the tracked job for a fingerprint from the ledger.
func (d *Dispatcher) GetJob(ctx context.Context, fingerprint string) (scrape.TrackedJob, error) {
	return d.ledger.GetJob(ctx, fingerprint)
}
