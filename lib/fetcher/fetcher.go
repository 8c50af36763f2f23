package fetcher

//go:generate mockgen -destination=../mocks/fetcher.go -package=mocks github.com/fiffu/reviewwatch/lib/fetcher Fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/carlmjohnson/requests"
	"github.com/cenkalti/backoff/v4"
	"github.com/fiffu/reviewwatch/config"
	"github.com/fiffu/reviewwatch/lib/models"
	"go.uber.org/zap"
)

var (
	ErrUpstream = errors.New("upstream request failed")
	ErrParse    = errors.New("review page could not be parsed")

	errNotModified = errors.New("not modified")
)

// Request carries the validators from the previous fetch of the same source.
// Empty validators make the request unconditional.
type Request struct {
	Source       string
	ETag         string
	LastModified string
}

type Result struct {
	URL          string
	NotModified  bool
	Payload      *models.ReviewPayload
	ETag         string
	LastModified string
}

type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Result, error)
}

type httpFetcher struct {
	log       *zap.Logger
	transport http.RoundTripper

	urlTemplate   string
	recentLimit   int
	retries       uint64
	retryInterval time.Duration
}

func New(cfg *config.Config, log *zap.Logger, transport http.RoundTripper) Fetcher {
	return &httpFetcher{
		log:           log,
		transport:     transport,
		urlTemplate:   cfg.Scrape.URLTemplate,
		recentLimit:   cfg.Scrape.RecentReviewsLimit,
		retries:       cfg.Scrape.FetchRetries,
		retryInterval: cfg.Scrape.RetryInterval,
	}
}

func (f *httpFetcher) URL(source string) string {
	return fmt.Sprintf(f.urlTemplate, source)
}

// Fetch downloads and parses the review page of a source. Throttling and server errors are
// retried with backoff until ctx expires; other failures are returned immediately.
func (f *httpFetcher) Fetch(ctx context.Context, req *Request) (*Result, error) {
	url := f.URL(req.Source)

	var (
		body   string
		header http.Header
	)
	op := func() error {
		body, header = "", nil

		rb := requests.URL(url).
			Transport(f.transport).
			Accept("text/html").
			AddValidator(func(res *http.Response) error {
				header = res.Header
				return classifyStatus(res.StatusCode)
			}).
			ToString(&body)
		if req.ETag != "" {
			rb.Header("If-None-Match", req.ETag)
		}
		if req.LastModified != "" {
			rb.Header("If-Modified-Since", req.LastModified)
		}
		return rb.Fetch(ctx)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retryInterval
	notify := func(err error, wait time.Duration) {
		f.log.Sugar().Infow("Retrying review page fetch", "source", req.Source, "err", err, "wait", wait)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, f.retries), ctx), notify)
	switch {
	case errors.Is(err, errNotModified):
		return &Result{
			URL:          url,
			NotModified:  true,
			ETag:         firstNonEmpty(header.Get("ETag"), req.ETag),
			LastModified: firstNonEmpty(header.Get("Last-Modified"), req.LastModified),
		}, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstream, url, err)
	}

	payload, err := f.parse(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	return &Result{
		URL:          url,
		Payload:      payload,
		ETag:         header.Get("ETag"),
		LastModified: header.Get("Last-Modified"),
	}, nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusNotModified:
		return backoff.Permanent(errNotModified)
	case status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("status %d", status)
	case status < 200 || status > 299:
		return backoff.Permanent(fmt.Errorf("status %d", status))
	}
	return nil
}

func (f *httpFetcher) parse(body string) (*models.ReviewPayload, error) {
	doc, err := htmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return ExtractReviews(doc, f.recentLimit)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
