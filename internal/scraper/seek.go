package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hirewire/jobscraper/internal/scrape"
)

// SeekHost is the registry key for seek job postings.
const SeekHost = "seek.com"

const (
	seekTitleSelector    = `h1[data-automation="job-detail-title"]`
	seekCompanySelector  = `span[data-automation="advertiser-name"]`
	seekLocationSelector = `span[data-automation="job-detail-location"]`
	seekDetailsSelector  = `div[data-automation="jobAdDetails"]`
)

var seekJobPath = regexp.MustCompile(`^/job/(\d+)(?:/|$)`)

// Seek extracts job postings from seek.com pages. Field reads are retried
// on render timeouts because the posting body hydrates client-side.
type Seek struct {
	retry scrape.RetryPolicy
}

// NewSeek returns the seek.com strategy.
func NewSeek() *Seek {
	return &Seek{retry: scrape.FieldReadRetryPolicy()}
}

// Normalize reduces a seek URL to its canonical job form when a job ID can
// be recovered from the path or the jobId query parameter. URLs without a
// job ID fall back to generic canonicalization.
func (s *Seek) Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", scrape.ErrInvalidURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing hostname", scrape.ErrInvalidURL)
	}

	if id := seekJobID(u); id != "" {
		return fmt.Sprintf("https://%s/job/%s", SeekHost, id), nil
	}
	return scrape.NormalizeURL(rawURL)
}

// The path form wins over the query parameter when both are present.
func seekJobID(u *url.URL) string {
	if m := seekJobPath.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	if id := u.Query().Get("jobId"); isDigits(id) {
		return id
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Scrape reads the four posting fields from a rendered seek page.
func (s *Seek) Scrape(ctx context.Context, page scrape.Session) (*scrape.Posting, error) {
	title, err := s.readText(ctx, page, seekTitleSelector)
	if err != nil {
		return nil, fmt.Errorf("title: %w", err)
	}
	company, err := s.readText(ctx, page, seekCompanySelector)
	if err != nil {
		return nil, fmt.Errorf("company: %w", err)
	}
	location, err := s.readText(ctx, page, seekLocationSelector)
	if err != nil {
		return nil, fmt.Errorf("location: %w", err)
	}
	details, err := s.readAllText(ctx, page, seekDetailsSelector)
	if err != nil {
		return nil, fmt.Errorf("details: %w", err)
	}

	return &scrape.Posting{
		Title:    title,
		Company:  company,
		Location: location,
		Details:  details,
	}, nil
}

func (s *Seek) readText(ctx context.Context, page scrape.Session, selector string) (string, error) {
	var text string
	err := scrape.Retry(ctx, s.retry, func() error {
		var readErr error
		text, readErr = page.InnerText(ctx, selector)
		return readErr
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (s *Seek) readAllText(ctx context.Context, page scrape.Session, selector string) ([]string, error) {
	var texts []string
	err := scrape.Retry(ctx, s.retry, func() error {
		var readErr error
		texts, readErr = page.AllTextContents(ctx, selector)
		return readErr
	})
	if err != nil {
		return nil, err
	}

	cleaned := make([]string, 0, len(texts))
	for _, text := range texts {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned, nil
}
