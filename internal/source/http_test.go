package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcga-expression-pipeline/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

const sampleMatrix = "sample\tCCL5\nTCGA-A1-0001\t1.5\n"

func newHTTPSource(t *testing.T, endpoint string) *HTTP {
	t.Helper()
	h, err := NewHTTP(domain.StorageConfig{Endpoint: endpoint, RateLimit: 1000, Timeout: 5 * time.Second}, quietLogger())
	require.NoError(t, err)
	return h
}

func TestHTTP_FetchAndSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/brca.tsv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", TSVContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(sampleMatrix)))
		_, _ = io.WriteString(w, sampleMatrix)
	}))
	defer srv.Close()

	h := newHTTPSource(t, srv.URL+"/download")
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := h.Fetch(ctx, "brca.tsv", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(sampleMatrix)), n)
	assert.Equal(t, sampleMatrix, buf.String())

	buf.Reset()
	_, err = h.Fetch(ctx, srv.URL+"/download/brca.tsv", &buf)
	require.NoError(t, err, "absolute URLs bypass the endpoint")

	size, err := h.Size(ctx, "brca.tsv")
	require.NoError(t, err)
	assert.Equal(t, int64(len(sampleMatrix)), size)

	_, err = h.Fetch(ctx, "missing.tsv", io.Discard)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHTTP_RelativeKeyWithoutEndpoint(t *testing.T) {
	h := newHTTPSource(t, "")
	_, err := h.Fetch(context.Background(), "brca.tsv", io.Discard)
	assert.ErrorContains(t, err, "no endpoint is configured")
}

func TestHTTP_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := newHTTPSource(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.Fetch(ctx, "brca.tsv", io.Discard)
		assert.ErrorContains(t, err, "unexpected status 502")
	}
	assert.Equal(t, gobreaker.StateOpen, h.State())

	_, err := h.Fetch(ctx, "brca.tsv", io.Discard)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTP_NotFoundDoesNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	h := newHTTPSource(t, srv.URL)
	for i := 0; i < 5; i++ {
		_, err := h.Fetch(context.Background(), "gone.tsv", io.Discard)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, h.State())
}

func TestHTTP_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, sampleMatrix)
	}))
	defer srv.Close()

	h := newHTTPSource(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Fetch(ctx, "brca.tsv", io.Discard)
	assert.Error(t, err)
}
