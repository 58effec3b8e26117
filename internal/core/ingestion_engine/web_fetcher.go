package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

const maxFetchBytes = 25 << 20

var browserUAs = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0 Safari/537.36",
}

// FetchResult is a downloaded web resource.
type FetchResult struct {
	Body        []byte
	ContentType string
	// Name is the file name the resource is stored under.
	Name string
}

// Fetcher downloads a url with optional extra request headers.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, headers map[string]string) (*FetchResult, error)
}

type FetcherConfig struct {
	UserAgent  string
	ScraperURL string
	Timeout    time.Duration
	// RPS and Burst limit requests per host; RPS <= 0 disables the limit.
	RPS   float64
	Burst int
}

// WebFetcher fetches pages with browser-like headers. It tries the url
// twice directly, the second time with a rotated user agent, and then
// through the optional scraper service. Wikipedia articles are read from
// the plain-text REST endpoint instead.
type WebFetcher struct {
	client *http.Client
	cfg    FetcherConfig
	log    *logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ Fetcher = (*WebFetcher)(nil)

func NewWebFetcher(cfg FetcherConfig, log *logger.Logger) *WebFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &WebFetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *WebFetcher) Fetch(ctx context.Context, rawURL string, headers map[string]string) (*FetchResult, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	if api, title, ok := wikipediaPlainURL(u); ok {
		res, err := f.get(ctx, api, map[string]string{
			"User-Agent": f.userAgent(),
			"Accept":     "text/plain; charset=utf-8",
		})
		if err == nil {
			return &FetchResult{Body: res.body, ContentType: "text/plain", Name: title + ".txt"}, nil
		}
		f.log.Debug("wikipedia plain endpoint failed, falling back", "url", rawURL, "err", err)
	}

	name := pageName(u)
	var lastErr error
	attempts := []map[string]string{
		browserHeaders(f.userAgent(), headers),
		browserHeaders(randomUA(), nil),
	}
	for _, h := range attempts {
		res, err := f.get(ctx, u.String(), h)
		if err == nil {
			return &FetchResult{Body: res.body, ContentType: res.contentType("text/html"), Name: name}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if f.cfg.ScraperURL != "" {
		su, err := url.Parse(f.cfg.ScraperURL)
		if err == nil {
			q := su.Query()
			q.Set("url", u.String())
			su.RawQuery = q.Encode()
			res, err := f.get(ctx, su.String(), nil)
			if err == nil {
				return &FetchResult{Body: res.body, ContentType: res.contentType("text/html"), Name: name}, nil
			}
			f.log.Warn("scraper fetch failed", "url", rawURL, "err", err)
		}
	}
	return nil, lastErr
}

type fetched struct {
	body   []byte
	header http.Header
}

func (r fetched) contentType(def string) string {
	if ct := r.header.Get("Content-Type"); ct != "" {
		return ct
	}
	return def
}

// StatusError is a non-200 answer from a fetched url.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Code)
}

var errEmptyBody = errors.New("empty response body")

func (f *WebFetcher) get(ctx context.Context, target string, headers map[string]string) (*fetched, error) {
	if err := f.wait(ctx, target); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", target, errEmptyBody)
	}
	return &fetched{body: body, header: resp.Header}, nil
}

// wait applies the per-host rate limit.
func (f *WebFetcher) wait(ctx context.Context, target string) error {
	if f.cfg.RPS <= 0 {
		return nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return err
	}
	f.mu.Lock()
	lim, ok := f.limiters[u.Host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(f.cfg.RPS), f.cfg.Burst)
		f.limiters[u.Host] = lim
	}
	f.mu.Unlock()
	return lim.Wait(ctx)
}

func (f *WebFetcher) userAgent() string {
	if f.cfg.UserAgent != "" {
		return f.cfg.UserAgent
	}
	return randomUA()
}

func randomUA() string {
	return browserUAs[rand.IntN(len(browserUAs))]
}

// browserHeaders leaves Accept-Encoding to the transport so gzip bodies
// are decoded transparently.
func browserHeaders(ua string, overrides map[string]string) map[string]string {
	h := map[string]string{
		"User-Agent":                ua,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.9",
		"Upgrade-Insecure-Requests": "1",
		"Referer":                   "https://www.google.com/",
	}
	for k, v := range overrides {
		if strings.EqualFold(k, "Accept-Encoding") {
			continue
		}
		h[k] = v
	}
	return h
}

// wikipediaPlainURL maps https://xx.wikipedia.org/wiki/Title to the REST
// plain-text endpoint of the same host.
func wikipediaPlainURL(u *url.URL) (api, title string, ok bool) {
	if !strings.Contains(u.Host, "wikipedia.org") || !strings.HasPrefix(u.Path, "/wiki/") {
		return "", "", false
	}
	title = strings.TrimPrefix(u.Path, "/wiki/")
	if title == "" {
		title = "page"
	}
	return u.Scheme + "://" + u.Host + "/api/rest_v1/page/plain/" + url.PathEscape(title), title, true
}

// pageName derives a stored file name from the url path, defaulting the
// extension to .html.
func pageName(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		base = "page"
	}
	if !strings.Contains(base, ".") {
		base += ".html"
	}
	return base
}
