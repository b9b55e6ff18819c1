package scrape

import "errors"

// Sentinel errors shared across the admission and extraction paths.
var (
	// ErrInvalidURL means no hostname could be extracted from the input.
	ErrInvalidURL = errors.New("url has no valid hostname")

	// ErrUnknownHost means no scraper strategy is registered for the host.
	ErrUnknownHost = errors.New("no registered scraper for host")

	// ErrJobNotFound means the ledger holds no row for the fingerprint.
	ErrJobNotFound = errors.New("job not found")

	// ErrRenderTimeout marks a bounded navigation or DOM-read timeout.
	// Field-read retries key off this error.
	ErrRenderTimeout = errors.New("render timeout")
)
