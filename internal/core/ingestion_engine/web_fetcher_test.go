package ingestion_engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

const testUA = "DocuIQBot/1.0 (+https://docuiq.local)"

func newTestFetcher(scraper string) *WebFetcher {
	return NewWebFetcher(FetcherConfig{UserAgent: testUA, ScraperURL: scraper, RPS: 100, Burst: 10}, logger.Nop())
}

func TestWebFetcherDirect(t *testing.T) {
	var gotUA, gotToken, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotToken = r.Header.Get("X-Token")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>hello</p>"))
	}))
	defer srv.Close()

	f := newTestFetcher("")
	res, err := f.Fetch(context.Background(), srv.URL+"/docs/guide", map[string]string{"X-Token": "t1", "Accept-Encoding": "br"})
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", string(res.Body))
	assert.Equal(t, "text/html; charset=utf-8", res.ContentType)
	assert.Equal(t, "guide.html", res.Name)
	assert.Equal(t, testUA, gotUA)
	assert.Equal(t, "t1", gotToken)
	assert.Equal(t, "https://www.google.com/", gotReferer)
	assert.Len(t, f.limiters, 1)
}

func TestWebFetcherRetriesWithBrowserUA(t *testing.T) {
	var calls atomic.Int32
	var secondUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		secondUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	res, err := newTestFetcher("").Fetch(context.Background(), srv.URL+"/a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Body))
	assert.Equal(t, "a.txt", res.Name)
	assert.EqualValues(t, 2, calls.Load())
	assert.Contains(t, browserUAs, secondUA)
}

func TestWebFetcherFallsBackToScraper(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer target.Close()
	var asked string
	scraper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		asked = r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<p>rendered</p>"))
	}))
	defer scraper.Close()

	res, err := newTestFetcher(scraper.URL+"/render").Fetch(context.Background(), target.URL+"/page", nil)
	require.NoError(t, err)
	assert.Equal(t, target.URL+"/page", asked)
	assert.Equal(t, "<p>rendered</p>", string(res.Body))
	assert.Equal(t, "page.html", res.Name)
}

func TestWebFetcherReportsLastStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestFetcher("").Fetch(context.Background(), srv.URL+"/x", nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
}

func TestWebFetcherRejectsEmptyBodyAndBadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f := newTestFetcher("")
	_, err := f.Fetch(context.Background(), srv.URL, nil)
	assert.ErrorIs(t, err, errEmptyBody)

	_, err = f.Fetch(context.Background(), "ftp://example.com/file", nil)
	assert.Error(t, err)
	_, err = f.Fetch(context.Background(), "not a url", nil)
	assert.Error(t, err)
}

func TestWikipediaPlainURL(t *testing.T) {
	u, _ := url.Parse("https://en.wikipedia.org/wiki/Alan_Turing")
	api, title, ok := wikipediaPlainURL(u)
	require.True(t, ok)
	assert.Equal(t, "https://en.wikipedia.org/api/rest_v1/page/plain/Alan_Turing", api)
	assert.Equal(t, "Alan_Turing", title)

	u, _ = url.Parse("https://example.com/wiki/Alan_Turing")
	_, _, ok = wikipediaPlainURL(u)
	assert.False(t, ok)

	u, _ = url.Parse("https://en.wikipedia.org/w/index.php?title=X")
	_, _, ok = wikipediaPlainURL(u)
	assert.False(t, ok)
}

func TestPageName(t *testing.T) {
	tests := map[string]string{
		"https://example.com/docs/guide":       "guide.html",
		"https://example.com/":                 "page.html",
		"https://example.com":                  "page.html",
		"https://example.com/files/report.pdf": "report.pdf",
	}
	for raw, want := range tests {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, pageName(u), raw)
	}
}
