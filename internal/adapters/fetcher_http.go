package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"modkeeper/internal/ports"
	"modkeeper/internal/shared"
	"modkeeper/internal/types"
)

// HTTPFetcherAdapter downloads archives over HTTP(S), retrying transport
// errors, 5xx and 429 responses with exponential backoff.
type HTTPFetcherAdapter struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	UserAgent  string
	// MaxBytes bounds a download; zero means no limit. A module that
	// declares its download size is bounded by that size instead when it
	// is smaller.
	MaxBytes int64
}

const defaultFetchRetries = 3
const defaultFetchRetryDelay = 200 * time.Millisecond
const defaultFetchTimeout = 60 * time.Second
const maxFetchRetryDelay = 2 * time.Second

var _ ports.FetcherPort = HTTPFetcherAdapter{}

func NewHTTPFetcherAdapter(timeoutSec int, retries int, retryDelayMs int) HTTPFetcherAdapter {
	return HTTPFetcherAdapter{
		Timeout:    normalizeFetchTimeout(timeoutSec),
		Retries:    normalizeFetchRetries(retries),
		RetryDelay: normalizeFetchRetryDelay(retryDelayMs),
		UserAgent:  "modkeeper",
	}
}

func (a HTTPFetcherAdapter) Fetch(ctx context.Context, module types.ModuleVersion) ([]byte, error) {
	url := strings.TrimSpace(module.Download)
	if url == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("module %s %s has no download url", module.Identifier, module.Version))
	}
	retries := a.Retries
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		data, retry, err := a.fetchOnce(ctx, url, a.limitFor(module))
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry || attempt == retries-1 {
			return nil, err
		}
		delay := a.retryDelay(attempt)
		log.Ctx(ctx).Debug().Str("module", module.Identifier).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying download")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (a HTTPFetcherAdapter) fetchOnce(ctx context.Context, url string, limit int64) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to create download request").
			WithCause(err)
	}
	if a.UserAgent != "" {
		req.Header.Set("User-Agent", a.UserAgent)
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, true, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("download failed").
			WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		retry := resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
		code := errbuilder.CodeInternal
		if resp.StatusCode == http.StatusNotFound {
			code = errbuilder.CodeNotFound
		}
		return nil, retry, errbuilder.New().
			WithCode(code).
			WithMsg("download failed").
			WithCause(shared.HTTPStatusError(resp.StatusCode, url, string(body)))
	}
	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, true, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read download").
			WithCause(err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("download exceeds %d bytes", limit))
	}
	return data, false, nil
}

func (a HTTPFetcherAdapter) limitFor(module types.ModuleVersion) int64 {
	limit := a.MaxBytes
	if module.DownloadSize > 0 && (limit <= 0 || module.DownloadSize < limit) {
		limit = module.DownloadSize
	}
	return limit
}

func (a HTTPFetcherAdapter) retryDelay(attempt int) time.Duration {
	delay := a.RetryDelay * time.Duration(1<<attempt)
	if delay > maxFetchRetryDelay {
		delay = maxFetchRetryDelay
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(delay/2+1))
	return delay + jitter
}

func normalizeFetchTimeout(value int) time.Duration {
	timeout := time.Duration(value) * time.Second
	if timeout <= 0 {
		return defaultFetchTimeout
	}
	return timeout
}

func normalizeFetchRetries(value int) int {
	if value <= 0 {
		return defaultFetchRetries
	}
	return value
}

func normalizeFetchRetryDelay(value int) time.Duration {
	delay := time.Duration(value) * time.Millisecond
	if delay <= 0 {
		return defaultFetchRetryDelay
	}
	return delay
}
