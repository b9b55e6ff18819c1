// Package main hosts the job scrape service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and the job endpoints. A submitted URL is resolved to
//     its site strategy, canonicalized, fingerprinted with SHA-256, and pushed through the admission pipeline; the
//     caller always gets a fast 202 and reads results back via GET /jobs/{fingerprint}.
//   - Admission: internal/dispatcher checks the Redis (or in-memory) dedup cache first, then performs the
//     ledger's conditional write; the database upsert is the single correctness boundary, so a cache outage only
//     costs a round trip. Admitted fingerprints become tasks on a bounded in-memory queue.
//   - Extraction: a fixed worker pool drains the queue. Each task opens a fresh Chromedp page session (local
//     headless or remote DevTools endpoint), navigates with image/stylesheet/font requests blocked, and runs the
//     site strategy's selector reads. Selector reads retry on render timeouts while the page hydrates; the whole
//     task has its own retry budget on top. A 404 document marks the posting archived rather than failed.
//   - Persistence & fanout: job rows live in Postgres (pgx) keyed by fingerprint with queued/scraping/scraped/failed
//     states and a cooldown window gating re-scrapes. Rendered HTML snapshots are archived best-effort to the
//     configured blob store (memory/GCS) and a completion event is published to Pub/Sub when configured.
//   - Configuration & plumbing: Viper populates config from env/files (SCRAPER_ prefix); zap provides structured
//     logging; Prometheus metrics are exported via the telemetry middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: bounded queue + fixed worker pool sized by SCRAPER_QUEUE_WORKERS. Shutdown is coordinated
//     via context cancellation from main through the workers; the HTTP server drains before the queue closes.
//   - Dedup: the cache TTL and the database cooldown share one window (SCRAPER_DB_COOLDOWN_HOURS), so the fast path
//     and the authoritative path expire together. Archived postings never re-queue regardless of age.
//   - Observability: zap logs carry fingerprints and canonical URLs at every transition; Prometheus counters track
//     admission decisions and scrape outcomes, with duration histograms labeled by site.
//
// Quick checklist:
//   - Configure env vars: SCRAPER_SERVER_PORT, SCRAPER_DB_PROVIDER=postgres + SCRAPER_DB_DSN, SCRAPER_CACHE_PROVIDER=redis
//     + SCRAPER_CACHE_REDIS_ADDR, SCRAPER_BROWSER_WS_ENDPOINT for a remote Chrome, and pubsub/storage settings when
//     event fanout and snapshot archival are wanted.
//   - Run locally: go run ./cmd/jobscraper -config config.yaml (or rely solely on env overrides); the memory
//     providers need no external services.
//   - The process reacts to SIGTERM with a graceful drain: in-flight scrapes finish inside their navigation and
//     field-read timeouts before the pool exits.
package main
