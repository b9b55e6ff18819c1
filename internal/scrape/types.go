// Package scrape defines the core domain types and interfaces for the
// job-posting scrape service: the tracked-job ledger model, the dedup
// cache contract, the extraction task, and the browser session surface.
package scrape

import "time"

// Status reflects where a tracked job sits in its lifecycle.
type Status string

// Lifecycle states. A job moves queued -> scraping -> {scraped | failed};
// failed jobs may be re-queued, scraped jobs only after the cooldown window.
const (
	StatusQueued   Status = "queued"
	StatusScraping Status = "scraping"
	StatusScraped  Status = "scraped"
	StatusFailed   Status = "failed"
)

// Posting is the structured payload extracted from a job page.
type Posting struct {
	Title    string   `json:"title"`
	Company  string   `json:"company"`
	Location string   `json:"location"`
	Details  []string `json:"details"`
}

// TrackedJob is the durable ledger row for one canonical URL. The
// fingerprint is the natural key; at most one row exists per fingerprint.
type TrackedJob struct {
	ID            string     `json:"id"`
	NormalizedURL string     `json:"normalized_url"`
	Fingerprint   string     `json:"fingerprint"`
	Status        Status     `json:"status"`
	Payload       *Posting   `json:"scraped_payload,omitempty"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
	IsArchived    bool       `json:"is_archived"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Task is one unit of extraction work. It carries the hostname rather than
// a strategy so the worker re-resolves and re-derives state from the ledger
// instead of trusting whatever the enqueuer captured.
type Task struct {
	Fingerprint  string `json:"fingerprint"`
	CanonicalURL string `json:"canonical_url"`
	Host         string `json:"host"`
	Submitted    int64  `json:"submitted"`
}

// Admission is the dispatcher's decision for one scrape request.
type Admission struct {
	Queued       bool   `json:"queued"`
	Fingerprint  string `json:"fingerprint"`
	CanonicalURL string `json:"canonical_url"`
}
