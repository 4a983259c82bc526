package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tcga-expression-pipeline/internal/domain"
)

// HTTP downloads cohort files from a published URL. Requests are rate
// limited and guarded by a circuit breaker so a failing hub is not hammered.
type HTTP struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *logrus.Logger
}

// NewHTTP creates an HTTP source. Keys that are not absolute URLs are
// resolved against cfg.Endpoint.
func NewHTTP(cfg domain.StorageConfig, logger *logrus.Logger) (*HTTP, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}

	var base *url.URL
	if cfg.Endpoint != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing endpoint %q: %w", cfg.Endpoint, err)
		}
		base = u
	}

	h := &HTTP{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		log:        logger,
	}
	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cohort-download",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return h, nil
}

func (h *HTTP) resolve(key string) (string, error) {
	u, err := url.Parse(key)
	if err != nil {
		return "", fmt.Errorf("parsing key %q: %w", key, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if h.baseURL == nil {
		return "", fmt.Errorf("key %q is not an absolute URL and no endpoint is configured", key)
	}
	return h.baseURL.ResolveReference(u).String(), nil
}

// Fetch downloads key and copies the response body into w.
func (h *HTTP) Fetch(ctx context.Context, key string, w io.Writer) (int64, error) {
	target, err := h.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait failed: %w", err)
	}

	var written int64
	_, err = h.breaker.Execute(func() (interface{}, error) {
		resp, err := h.do(ctx, http.MethodGet, target)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		written, err = io.Copy(w, resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", target, err)
		}
		return nil, nil
	})
	if err != nil {
		return written, err
	}

	h.log.WithFields(logrus.Fields{
		"url":   target,
		"bytes": written,
	}).Info("Cohort file downloaded")
	return written, nil
}

// Size issues a HEAD request and returns the advertised length, or -1
// when the server does not send one.
func (h *HTTP) Size(ctx context.Context, key string) (int64, error) {
	target, err := h.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait failed: %w", err)
	}

	out, err := h.breaker.Execute(func() (interface{}, error) {
		resp, err := h.do(ctx, http.MethodHead, target)
		if err != nil {
			return nil, err
		}
		resp.Body.Close()
		return resp.ContentLength, nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// State reports the circuit breaker state.
func (h *HTTP) State() gobreaker.State {
	return h.breaker.State()
}

func (h *HTTP) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "tcga-expression-pipeline")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", target, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", target, domain.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("requesting %s: unexpected status %d", target, resp.StatusCode)
	}
	return resp, nil
}
