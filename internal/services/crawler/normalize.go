package crawler

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/ternarybob/messor/internal/models"
)

// Normalize returns the canonical form of a URL used for frontier equality:
// scheme and host lowercased, https preferred over http, a leading www.
// stripped, trailing slashes stripped. Query strings and fragments are left
// alone so distinct queries stay distinct URLs. Idempotent.
func Normalize(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)

	u, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if u.Host == "" {
		if u.Scheme != "" {
			// mailto:, tel: and friends; nothing to fold
			return trimmed
		}
		// Schemeless input like "example.com/page" parses as a bare path;
		// retry with a scheme so the host comes out.
		reparsed, rerr := url.Parse("https://" + trimmed)
		if rerr != nil || reparsed.Host == "" {
			return trimmed
		}
		u = reparsed
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return u.String()
}

// DedupKey is the frontier identity of a URL: the normalized form with the
// crawl's optional folds applied. IgnoreQueryParameters drops the query
// string and fragment; DeduplicateSimilarURLs folds path case, duplicate
// slashes and trailing index pages. The folds are independent and compose
// when both are set.
func DedupKey(rawURL string, opts models.CrawlOptions) string {
	normalized := Normalize(rawURL)
	if !opts.IgnoreQueryParameters && !opts.DeduplicateSimilarURLs {
		return normalized
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return normalized
	}

	if opts.IgnoreQueryParameters {
		u.RawQuery = ""
		u.Fragment = ""
	}
	if opts.DeduplicateSimilarURLs {
		u.Path = foldSimilarPath(u.Path)
	}

	return u.String()
}

var duplicateSlashes = regexp.MustCompile(`/{2,}`)

var indexSuffixes = []string{"/index.html", "/index.htm", "/index.php"}

// foldSimilarPath treats near-duplicate paths as equal: case-insensitive,
// duplicate slashes collapsed, a trailing index page stripped.
func foldSimilarPath(path string) string {
	folded := strings.ToLower(path)
	folded = duplicateSlashes.ReplaceAllString(folded, "/")
	for _, suffix := range indexSuffixes {
		if strings.HasSuffix(folded, suffix) {
			folded = strings.TrimSuffix(folded, suffix)
			break
		}
	}
	return strings.TrimRight(folded, "/")
}
