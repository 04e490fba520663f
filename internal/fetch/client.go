package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fundwatch/etp-tracker/internal/resilience"
)

// Options configures the EDGAR client.
type Options struct {
	// UserAgent is sent on every request. EDGAR rejects anonymous clients,
	// so this must identify the operator (name and contact address).
	UserAgent string

	// RateInterval is the minimum spacing between outbound requests.
	RateInterval time.Duration

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// RetryAttempts is the total attempts per request, including the first.
	RetryAttempts int

	// HeaderReadBound is how many bytes FetchHeader reads before giving up
	// on finding the header terminator and falling back to a full fetch.
	HeaderReadBound int
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = "etp-tracker/1.0"
	}
	if o.RateInterval <= 0 {
		o.RateInterval = 350 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 45 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.HeaderReadBound <= 0 {
		o.HeaderReadBound = 8192
	}
	return o
}

// EdgarClient implements Client against SEC EDGAR. A single rate limiter is
// shared across all goroutines so the whole process respects one request
// budget regardless of worker count.
type EdgarClient struct {
	http    *http.Client
	cache   Cache
	limiter *rate.Limiter
	opts    Options
}

// NewEdgarClient creates a client over the given cache.
func NewEdgarClient(cache Cache, opts Options) *EdgarClient {
	opts = opts.withDefaults()
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &EdgarClient{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		cache:   cache,
		limiter: rate.NewLimiter(rate.Every(opts.RateInterval), 1),
		opts:    opts,
	}
}

// Fetch returns the full body of the URL. Cache hits skip the network
// entirely, including the rate limiter.
func (c *EdgarClient) Fetch(ctx context.Context, url string) ([]byte, error) {
	cached, err := c.cache.GetCachedFetch(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "cache read for %s", url)
	}
	if cached != nil {
		return cached, nil
	}

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := c.cache.PutCachedFetch(ctx, url, body); err != nil {
		return nil, eris.Wrapf(err, "cache write for %s", url)
	}
	return body, nil
}

// FetchFresh returns the current body of the URL, reading and writing no
// cache entry. The submissions index lives at a constant URL per filer and
// changes with every new filing; pinning its first response would blind the
// tracker to everything published afterwards.
func (c *EdgarClient) FetchFresh(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url)
}

// FetchHeader returns the SGML header portion of the URL when it can be
// isolated cheaply, and the full body otherwise. Truncated reads that never
// see the terminator fail closed to a full fetch rather than handing a
// possibly incomplete header to the parser.
func (c *EdgarClient) FetchHeader(ctx context.Context, url string) ([]byte, error) {
	cached, err := c.cache.GetCachedFetch(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "cache read for %s", url)
	}
	if cached != nil {
		return sliceHeader(cached), nil
	}

	type headerResult struct {
		body     []byte
		complete bool
	}
	res, err := resilience.DoVal(ctx, c.retryConfig("fetch_header"), func(ctx context.Context) (headerResult, error) {
		resp, err := c.do(ctx, url)
		if err != nil {
			return headerResult{}, err
		}
		defer resp.Body.Close() //nolint:errcheck

		prefix := make([]byte, c.opts.HeaderReadBound)
		n, readErr := io.ReadFull(resp.Body, prefix)
		prefix = prefix[:n]

		if idx := bytes.Index(prefix, []byte(headerTerminator)); idx >= 0 {
			return headerResult{body: prefix[:idx+len(headerTerminator)], complete: false}, nil
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			// Short document without a terminator in bound: prefix is the
			// whole body.
			return headerResult{body: prefix, complete: true}, nil
		}
		if readErr != nil {
			return headerResult{}, resilience.NewTransientError(eris.Wrapf(readErr, "read header prefix of %s", url), 0)
		}

		// Terminator not within bound: fall back to the full document so
		// header parsing never runs on a truncated input.
		zap.L().Debug("header terminator beyond read bound, fetching full body",
			zap.String("url", url),
			zap.Int("bound", c.opts.HeaderReadBound),
		)
		rest, err := io.ReadAll(resp.Body)
		if err != nil {
			return headerResult{}, resilience.NewTransientError(eris.Wrapf(err, "read body of %s", url), 0)
		}
		return headerResult{body: append(prefix, rest...), complete: true}, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetch header of %s", url)
	}

	// Only complete bodies enter the cache; a header prefix would poison
	// later full fetches of the same URL.
	if res.complete {
		if err := c.cache.PutCachedFetch(ctx, url, res.body); err != nil {
			return nil, eris.Wrapf(err, "cache write for %s", url)
		}
		return sliceHeader(res.body), nil
	}
	return res.body, nil
}

// sliceHeader returns the body up to and including the header terminator, or
// the whole body when no terminator is present.
func sliceHeader(body []byte) []byte {
	if idx := bytes.Index(body, []byte(headerTerminator)); idx >= 0 {
		return body[:idx+len(headerTerminator)]
	}
	return body
}

func (c *EdgarClient) get(ctx context.Context, url string) ([]byte, error) {
	body, err := resilience.DoVal(ctx, c.retryConfig("fetch"), func(ctx context.Context) ([]byte, error) {
		resp, err := c.do(ctx, url)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "read body of %s", url), 0)
		}
		return b, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetch %s", url)
	}
	return body, nil
}

// do issues one rate-limited GET and classifies the response status. The
// caller owns resp.Body on success.
func (c *EdgarClient) do(ctx context.Context, url string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "http get %s", url), 0)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		_ = resp.Body.Close()
		return nil, resilience.NewTransientError(eris.Errorf("http %d from %s", resp.StatusCode, url), resp.StatusCode)
	default:
		_ = resp.Body.Close()
		return nil, &resilience.TerminalStatusError{URL: url, StatusCode: resp.StatusCode}
	}
}

func (c *EdgarClient) retryConfig(operation string) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = c.opts.RetryAttempts
	cfg.OnRetry = resilience.RetryLogger("edgar", operation)
	return cfg
}
