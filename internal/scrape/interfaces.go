package scrape

import (
	"context"
	"time"
)

// Ledger persists tracked jobs and serializes admission via a conditional
// write keyed by fingerprint.
type Ledger interface {
	// Admit inserts a queued row for the fingerprint, or re-queues an
	// existing one when it is not archived, not already in flight, and its
	// cooldown window has elapsed. It reports whether a write happened.
	Admit(ctx context.Context, id, normalizedURL, fingerprint string) (bool, error)
	MarkScraping(ctx context.Context, fingerprint string) error
	MarkScraped(ctx context.Context, fingerprint string, payload *Posting) error
	MarkArchived(ctx context.Context, fingerprint string) error
	MarkFailed(ctx context.Context, fingerprint string) error
	GetJob(ctx context.Context, fingerprint string) (TrackedJob, error)
}

// DedupCache is the fast-path idempotency marker in front of the ledger.
// It is an optimization only; the ledger's conditional write is the
// correctness boundary.
type DedupCache interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
	Mark(ctx context.Context, fingerprint string) error
}

// Queue provides enqueue/dequeue semantics for extraction tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Strategy is one site's extraction behavior: canonicalization of its URLs
// and field extraction against a live page.
type Strategy interface {
	Normalize(rawURL string) (string, error)
	Scrape(ctx context.Context, page Session) (*Posting, error)
}

// Resolver maps a raw URL to the strategy registered for its hostname.
type Resolver interface {
	Resolve(rawURL string) (Strategy, string, error)
}

// Browser opens page sessions against the automation backend.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is one live browser page. Navigate returns the document response
// status; DOM reads are bounded by the backend's field-read timeout and
// surface ErrRenderTimeout when it elapses.
type Session interface {
	Navigate(ctx context.Context, url string) (int, error)
	InnerText(ctx context.Context, selector string) (string, error)
	AllTextContents(ctx context.Context, selector string) ([]string, error)
	HTML(ctx context.Context) (string, error)
	Close()
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Fingerprinter derives the stable content-addressable key for a canonical
// URL. The output doubles as the database unique key and the cache key.
type Fingerprinter interface {
	Fingerprint(canonicalURL string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
