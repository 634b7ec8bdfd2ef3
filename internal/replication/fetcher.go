package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/wegman-software/vexd/internal/logger"
)

// ErrNotFound is returned when the feed answers 404
var ErrNotFound = errors.New("replication: not found")

// UserAgent is sent with every feed request
var UserAgent = "vexd/1.0"

// FetcherOptions tunes HTTP behaviour. Zero values select the defaults.
type FetcherOptions struct {
	Timeout    time.Duration // per request, default 60s
	MaxRetries int           // retries after the first attempt, default 3; negative disables
	RetryDelay time.Duration // default 5s
	Client     *http.Client  // overrides Timeout when set
}

// Fetcher downloads replication state and diff files
type Fetcher struct {
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewFetcher creates a fetcher
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Fetcher{
		client:     client,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
	}
}

// FetchState fetches and parses the state file at url
func (f *Fetcher) FetchState(ctx context.Context, url string) (*State, error) {
	log := logger.Get()
	log.Debug("Fetching state", zap.String("url", url))

	resp, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	state, err := ParseState(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse state %s: %w", url, err)
	}
	return state, nil
}

// FetchDiff returns the decompressed body of the gzipped diff at url.
// Closing the reader releases the connection.
func (f *Fetcher) FetchDiff(ctx context.Context, url string) (io.ReadCloser, error) {
	log := logger.Get()
	log.Debug("Fetching diff", zap.String("url", url))

	resp, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to decompress %s: %w", url, err)
	}
	return &diffReader{Reader: zr, body: resp.Body}, nil
}

type diffReader struct {
	*gzip.Reader
	body io.Closer
}

func (d *diffReader) Close() error {
	d.Reader.Close()
	return d.body.Close()
}

// get performs a GET with retries and returns a 200 response
func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	resp, err := f.fetchWithRetry(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch %s: unexpected status code: %d", url, resp.StatusCode)
	}
}

// fetchWithRetry performs an HTTP GET, retrying transport errors and 5xx answers
func (f *Fetcher) fetchWithRetry(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
