package crawler

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/temoto/robotstxt"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// RejectReason identifies why the policy refused a link.
type RejectReason string

const (
	ReasonMalformed      RejectReason = "malformed_url"
	ReasonFileType       RejectReason = "file_type"
	ReasonExternalDomain RejectReason = "external_domain"
	ReasonOutsidePath    RejectReason = "outside_origin_path"
	ReasonExcludePattern RejectReason = "exclude_pattern"
	ReasonIncludePattern RejectReason = "include_pattern"
	ReasonDepthLimit     RejectReason = "depth_limit"
	ReasonRobotsTxt      RejectReason = "robots_txt"
	ReasonDuplicate      RejectReason = "duplicate"
	ReasonPageLimit      RejectReason = "page_limit"
)

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Accept bool
	Reason RejectReason
	Detail string // the pattern, host or key behind a rejection
}

func accepted() Decision { return Decision{Accept: true} }

func rejected(reason RejectReason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Asset extensions that are never worth a page job. PDF and Office documents
// stay crawlable; the pipeline has engines for them.
var assetExtensions = []string{
	".css", ".js", ".ico", ".svg", ".png", ".jpg", ".jpeg", ".gif", ".webp",
	".tiff", ".mp3", ".mp4", ".wav", ".avi", ".flv", ".mov",
	".woff", ".woff2", ".ttf", ".eot",
	".zip", ".tar", ".gz", ".rar", ".7z", ".exe", ".dmg", ".iso",
}

func isAssetPath(path string) bool {
	lowered := strings.ToLower(path)
	for _, ext := range assetExtensions {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}

// Policy evaluates discovered links against one crawl's configuration. The
// path patterns and robots rules compile once at construction; Evaluate
// reads only its arguments, so rejections have no side effects and the same
// Policy is safe for concurrent workers.
type Policy struct {
	origin    *url.URL
	opts      models.CrawlOptions
	includes  []*regexp.Regexp
	excludes  []*regexp.Regexp
	robots    *robotstxt.RobotsData
	userAgent string
}

// NewPolicy compiles one crawl's expansion rules. A bad path pattern fails
// here so the crawl is rejected at submission rather than link by link.
// robotsTxt may be empty, meaning every path is allowed.
func NewPolicy(originURL string, opts models.CrawlOptions, robotsTxt, userAgent string) (*Policy, error) {
	origin, err := url.Parse(Normalize(originURL))
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin url %q", originURL)
	}

	p := &Policy{
		origin:    origin,
		opts:      opts,
		userAgent: userAgent,
	}

	for _, pattern := range opts.IncludePaths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		p.includes = append(p.includes, re)
	}
	for _, pattern := range opts.ExcludePaths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		p.excludes = append(p.excludes, re)
	}

	if robotsTxt != "" && !opts.IgnoreRobotsTxt {
		robots, err := robotstxt.FromString(robotsTxt)
		if err == nil {
			p.robots = robots
		}
		// An unparseable robots.txt is treated as absent, like a 404 would be
	}

	return p, nil
}

// Evaluate applies the frontier-independent rules in order: origin scope,
// exclude then include patterns, depth, robots.txt. Pure; the dedup and
// page-limit rules need the frontier and live in Admit.
func (p *Policy) Evaluate(link string, depth int) Decision {
	u, err := url.Parse(Normalize(link))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return rejected(ReasonMalformed, link)
	}

	if isAssetPath(u.Path) {
		return rejected(ReasonFileType, u.Path)
	}

	if d := p.scopeDecision(u); !d.Accept {
		return d
	}

	target := u.Path
	if p.opts.RegexOnFullURL {
		target = u.String()
	}
	for _, re := range p.excludes {
		if re.MatchString(target) {
			return rejected(ReasonExcludePattern, re.String())
		}
	}
	if len(p.includes) > 0 {
		matched := false
		for _, re := range p.includes {
			if re.MatchString(target) {
				matched = true
				break
			}
		}
		if !matched {
			return rejected(ReasonIncludePattern, "")
		}
	}

	if p.opts.MaxDepth > 0 && depth > p.opts.MaxDepth {
		return rejected(ReasonDepthLimit, fmt.Sprintf("depth %d > %d", depth, p.opts.MaxDepth))
	}

	if p.robots != nil && !p.robots.TestAgent(u.RequestURI(), p.userAgent) {
		return rejected(ReasonRobotsTxt, u.Path)
	}

	return accepted()
}

// scopeDecision applies the domain rule: links stay on the origin host (or
// its subdomains when allowed) unless external links are explicitly on, and
// under the origin's path prefix unless the whole domain is opened up.
func (p *Policy) scopeDecision(u *url.URL) Decision {
	if p.opts.AllowExternalLinks {
		return accepted()
	}

	sameHost := u.Host == p.origin.Host
	if !sameHost && p.opts.AllowSubdomains && strings.HasSuffix(u.Host, "."+p.origin.Host) {
		sameHost = true
	}
	if !sameHost {
		return rejected(ReasonExternalDomain, u.Host)
	}

	if !p.opts.CrawlEntireDomain && u.Host == p.origin.Host {
		if !strings.HasPrefix(u.Path, p.origin.Path) {
			return rejected(ReasonOutsidePath, u.Path)
		}
	}

	return accepted()
}

// Admit runs the full rule chain for one discovered link: the static rules,
// then the frontier-backed dedup probe, then the atomic page-limit
// reservation. Concurrent admissions cannot jointly pass Limit because the
// slot counter is reserved inside the frontier store, and a rejection at any
// rule leaves the frontier untouched.
func (p *Policy) Admit(ctx context.Context, frontier interfaces.FrontierStore, crawlID, link string, depth int) (Decision, error) {
	decision := p.Evaluate(link, depth)
	if !decision.Accept {
		return decision, nil
	}

	key := DedupKey(link, p.opts)
	seen, err := frontier.Seen(ctx, crawlID, key)
	if err != nil {
		return Decision{}, err
	}
	if seen {
		return rejected(ReasonDuplicate, key), nil
	}

	granted, err := frontier.ReserveSlot(ctx, crawlID, p.opts.Limit)
	if err != nil {
		return Decision{}, err
	}
	if !granted {
		return rejected(ReasonPageLimit, fmt.Sprintf("limit %d", p.opts.Limit)), nil
	}

	return accepted(), nil
}
