package app

import (
	"net/http"
	"time"

	"github.com/fiffu/reviewwatch/config"
	"go.uber.org/zap"
)

func NewTransport(cfg *config.Config, log *zap.Logger) http.RoundTripper {
	return &transport{
		base:      http.DefaultTransport.(*http.Transport).Clone(),
		log:       log,
		userAgent: cfg.UserAgent,
	}
}

type transport struct {
	base      http.RoundTripper
	log       *zap.Logger
	userAgent string
}

func (tpt *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if tpt.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", tpt.userAgent)
	}

	start := time.Now()
	resp, err := tpt.base.RoundTrip(req)
	fields := []any{
		"method", req.Method,
		"url", req.URL.Redacted(),
		"elapsed_msecs", time.Since(start).Milliseconds(),
	}
	if err != nil {
		tpt.log.Sugar().Debugw("Outbound request failed", append(fields, "err", err)...)
		return nil, err
	}
	tpt.log.Sugar().Debugw("Outbound request", append(fields, "status", resp.StatusCode)...)
	return resp, nil
}
