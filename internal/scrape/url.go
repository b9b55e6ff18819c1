package scrape

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// noiseParams are tracking/session/campaign query parameters dropped during
// normalization. Matching is case-insensitive.
var noiseParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
	"sessionid":    {},
	"phpsessid":    {},
}

// NormalizeURL canonicalizes a raw URL into a stable comparison form:
// lowercased scheme and host, leading www stripped, a single trailing slash
// removed unless the path is exactly "/", noise query parameters dropped,
// remaining parameters sorted by key then value, fragment removed.
// It returns ErrInvalidURL when no hostname can be extracted.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Hostname() == "" {
		return "", ErrInvalidURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}

	u.RawQuery = normalizeQuery(u.Query())
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

func normalizeQuery(q url.Values) string {
	type pair struct {
		key   string
		value string
	}
	var pairs []pair
	for key, values := range q {
		if _, noisy := noiseParams[strings.ToLower(key)]; noisy {
			continue
		}
		for _, value := range values {
			pairs = append(pairs, pair{key: key, value: value})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}
