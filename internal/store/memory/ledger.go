// Package memory provides an in-memory job ledger used for local
// development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hirewire/jobscraper/internal/scrape"
)

// Ledger tracks jobs in a mutex-guarded map keyed by fingerprint. It
// applies the same admission guard as the Postgres ledger: in-flight,
// archived, and recently scraped jobs are rejected.
type Ledger struct {
	mu       sync.Mutex
	cooldown time.Duration
	clock    scrape.Clock
	jobs     map[string]*scrape.TrackedJob
}

// NewLedger returns an empty ledger. A non-positive cooldown falls back
// to 24 hours.
func NewLedger(cooldown time.Duration, clock scrape.Clock) *Ledger {
	if cooldown <= 0 {
		cooldown = 24 * time.Hour
	}
	return &Ledger{
		cooldown: cooldown,
		clock:    clock,
		jobs:     make(map[string]*scrape.TrackedJob),
	}
}

// Admit registers the URL for scraping unless the fingerprint is already
// in flight, archived, or inside the cooldown window. Exactly one of any
// set of concurrent calls for the same fingerprint wins.
func (l *Ledger) Admit(_ context.Context, id, normalizedURL, fingerprint string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	job, ok := l.jobs[fingerprint]
	if !ok {
		l.jobs[fingerprint] = &scrape.TrackedJob{
			ID:            id,
			NormalizedURL: normalizedURL,
			Fingerprint:   fingerprint,
			Status:        scrape.StatusQueued,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return true, nil
	}

	if job.IsArchived {
		return false, nil
	}
	if job.Status == scrape.StatusQueued || job.Status == scrape.StatusScraping {
		return false, nil
	}
	if job.LastScrapedAt != nil && now.Sub(*job.LastScrapedAt) < l.cooldown {
		return false, nil
	}

	// Re-admission keeps the original row identity.
	job.NormalizedURL = normalizedURL
	job.Status = scrape.StatusQueued
	job.UpdatedAt = now
	return true, nil
}

// MarkScraping transitions the job to the scraping state.
func (l *Ledger) MarkScraping(_ context.Context, fingerprint string) error {
	return l.update(fingerprint, func(job *scrape.TrackedJob, _ time.Time) {
		job.Status = scrape.StatusScraping
	})
}

// MarkScraped records a successful extraction together with its payload.
func (l *Ledger) MarkScraped(_ context.Context, fingerprint string, payload *scrape.Posting) error {
	return l.update(fingerprint, func(job *scrape.TrackedJob, now time.Time) {
		job.Status = scrape.StatusScraped
		job.Payload = payload
		job.LastScrapedAt = &now
	})
}

// MarkArchived records that the posting no longer exists upstream. The
// job is excluded from all future admissions.
func (l *Ledger) MarkArchived(_ context.Context, fingerprint string) error {
	return l.update(fingerprint, func(job *scrape.TrackedJob, now time.Time) {
		job.Status = scrape.StatusScraped
		job.IsArchived = true
		job.LastScrapedAt = &now
	})
}

// MarkFailed records a terminal scrape failure. The timestamp still
// advances so the cooldown gates re-admission.
func (l *Ledger) MarkFailed(_ context.Context, fingerprint string) error {
	return l.update(fingerprint, func(job *scrape.TrackedJob, now time.Time) {
		job.Status = scrape.StatusFailed
		job.LastScrapedAt = &now
	})
}

// GetJob returns a copy of the tracked job for the fingerprint.
func (l *Ledger) GetJob(_ context.Context, fingerprint string) (scrape.TrackedJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[fingerprint]
	if !ok {
		return scrape.TrackedJob{}, scrape.ErrJobNotFound
	}
	return *job, nil
}

// Close satisfies the ledger interface; there is nothing to release.
func (l *Ledger) Close() {}

func (l *Ledger) update(fingerprint string, fn func(*scrape.TrackedJob, time.Time)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[fingerprint]
	if !ok {
		return scrape.ErrJobNotFound
	}
	now := l.clock.Now()
	fn(job, now)
	job.UpdatedAt = now
	return nil
}
