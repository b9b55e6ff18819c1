// Package scraper contains the per-site extraction strategies and the
// registry that routes URLs to them.
package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hirewire/jobscraper/internal/scrape"
)

// Registry maps hostnames to extraction strategies.
type Registry struct {
	strategies map[string]scrape.Strategy
}

// NewRegistry builds a registry from a host -> strategy map. Hosts are
// matched case-insensitively with any "www." prefix removed.
func NewRegistry(strategies map[string]scrape.Strategy) *Registry {
	normalized := make(map[string]scrape.Strategy, len(strategies))
	for host, strategy := range strategies {
		normalized[canonicalHost(host)] = strategy
	}
	return &Registry{strategies: normalized}
}

// Resolve returns the strategy registered for the URL's hostname, along
// with the host key it resolved to.
func (r *Registry) Resolve(rawURL string) (scrape.Strategy, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", scrape.ErrInvalidURL, err)
	}
	host := canonicalHost(u.Hostname())
	if host == "" {
		return nil, "", fmt.Errorf("%w: missing hostname", scrape.ErrInvalidURL)
	}
	strategy, ok := r.strategies[host]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", scrape.ErrUnknownHost, host)
	}
	return strategy, host, nil
}

// Hosts returns the registered host keys.
func (r *Registry) Hosts() []string {
	hosts := make([]string, 0, len(r.strategies))
	for host := range r.strategies {
		hosts = append(hosts, host)
	}
	return hosts
}

func canonicalHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
}
