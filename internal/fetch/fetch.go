// Package fetch performs the outbound GETs against price sources.
package fetch

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

var ErrFetchFailed = errors.New("fetch failed")

// maxBody bounds how much of a response is read into memory.
const maxBody = 8 << 20

type Options struct {
	UserAgent          string
	Timeout            time.Duration
	RequestsPerSecond  float64 // <= 0 disables limiting
	Burst              int
	InsecureSkipVerify bool
}

type Response struct {
	Body   []byte
	Status int
}

type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

func New(opt Options) *Fetcher {
	if opt.UserAgent == "" {
		opt.UserAgent = "Mozilla/5.0"
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opt.RequestsPerSecond > 0 {
		limit = rate.Limit(opt.RequestsPerSecond)
	}
	if opt.Burst <= 0 {
		opt.Burst = 1
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if opt.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // source sites serve broken chains
	}
	return &Fetcher{
		client:    &http.Client{Timeout: opt.Timeout, Transport: tr},
		limiter:   rate.NewLimiter(limit, opt.Burst),
		userAgent: opt.UserAgent,
	}
}

// Fetch GETs url. Transport failures and non-2xx answers both wrap
// ErrFetchFailed; on a non-2xx answer the response is still returned.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Response, error) {
	if url == "" {
		return Response{}, errors.Wrap(ErrFetchFailed, "url required")
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return Response{}, errors.Wrapf(ErrFetchFailed, "rate limit wait: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, errors.Wrapf(ErrFetchFailed, "new request: %v", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Response{}, errors.Wrapf(ErrFetchFailed, "get %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Response{Status: resp.StatusCode}, errors.Wrapf(ErrFetchFailed, "read %s: %v", url, err)
	}
	out := Response{Body: body, Status: resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, errors.Wrapf(ErrFetchFailed, "get %s: status %d", url, resp.StatusCode)
	}
	return out, nil
}
