package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func loadFixture(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile("testdata/reviews.html")
	require.NoError(t, err)
	return string(b)
}

func newTestFetcher(t *testing.T, srv *httptest.Server) *httpFetcher {
	return &httpFetcher{
		log:           zaptest.NewLogger(t),
		transport:     srv.Client().Transport,
		urlTemplate:   srv.URL + "/%s/reviews",
		recentLimit:   2,
		retries:       2,
		retryInterval: time.Millisecond,
	}
}

func TestExtractReviews(t *testing.T) {
	doc, err := htmlquery.Parse(strings.NewReader(loadFixture(t)))
	require.NoError(t, err)

	payload, err := ExtractReviews(doc, 10)
	require.NoError(t, err)

	assert.Equal(t, 1234, payload.TotalReviews)
	assert.Equal(t, 4.6, payload.AverageRating)
	assert.Equal(t, map[int]int{5: 1000, 4: 150, 3: 50, 2: 14, 1: 20}, payload.Distribution)
	require.Len(t, payload.Recent, 3)

	first := payload.Recent[0]
	assert.Equal(t, 5, first.Rating)
	assert.Equal(t, "March 1, 2024", first.Date)
	assert.Equal(t, "Acme Outfitters", first.Author)
	assert.Equal(t, "Germany", first.Country)
	assert.Equal(t, "Setup took five minutes.Great support.", first.Content)
	assert.Equal(t, 2, payload.Recent[1].Rating)

	limited, err := ExtractReviews(doc, 1)
	require.NoError(t, err)
	assert.Len(t, limited.Recent, 1)
}

func TestExtractReviews_MissingSummary(t *testing.T) {
	doc, err := htmlquery.Parse(strings.NewReader("<html><body><p>Page moved</p></body></html>"))
	require.NoError(t, err)

	_, err = ExtractReviews(doc, 10)
	assert.ErrorIs(t, err, ErrParse)
}

func TestFetch(t *testing.T) {
	fixture := loadFixture(t)

	t.Run("parses page and captures validators", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/store-boost/reviews", r.URL.Path)
			assert.Empty(t, r.Header.Get("If-None-Match"))
			w.Header().Set("ETag", `"v1"`)
			w.Header().Set("Last-Modified", "Fri, 01 Mar 2024 00:00:00 GMT")
			w.Write([]byte(fixture))
		}))
		defer srv.Close()

		res, err := newTestFetcher(t, srv).Fetch(context.Background(), &Request{Source: "store-boost"})
		require.NoError(t, err)
		assert.False(t, res.NotModified)
		assert.Equal(t, srv.URL+"/store-boost/reviews", res.URL)
		assert.Equal(t, `"v1"`, res.ETag)
		assert.Equal(t, "Fri, 01 Mar 2024 00:00:00 GMT", res.LastModified)
		assert.Len(t, res.Payload.Recent, 2)
	})

	t.Run("conditional request answered with 304", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, `"v1"`, r.Header.Get("If-None-Match"))
			w.WriteHeader(http.StatusNotModified)
		}))
		defer srv.Close()

		res, err := newTestFetcher(t, srv).Fetch(context.Background(), &Request{Source: "store-boost", ETag: `"v1"`})
		require.NoError(t, err)
		assert.True(t, res.NotModified)
		assert.Nil(t, res.Payload)
		assert.Equal(t, `"v1"`, res.ETag)
	})

	t.Run("retries throttling", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(fixture))
		}))
		defer srv.Close()

		res, err := newTestFetcher(t, srv).Fetch(context.Background(), &Request{Source: "store-boost"})
		require.NoError(t, err)
		assert.Equal(t, 1234, res.Payload.TotalReviews)
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("gives up after retries", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newTestFetcher(t, srv).Fetch(context.Background(), &Request{Source: "store-boost"})
		assert.ErrorIs(t, err, ErrUpstream)
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := newTestFetcher(t, srv).Fetch(context.Background(), &Request{Source: "missing"})
		assert.ErrorIs(t, err, ErrUpstream)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("unparseable page", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html><body>maintenance</body></html>"))
		}))
		defer srv.Close()

		_, err := newTestFetcher(t, srv).Fetch(context.Background(), &Request{Source: "store-boost"})
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("deadline exceeded", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := newTestFetcher(t, srv).Fetch(ctx, &Request{Source: "store-boost"})
		assert.ErrorIs(t, err, ErrUpstream)
	})
}
