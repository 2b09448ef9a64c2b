package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"modkeeper/internal/ports"
	"modkeeper/internal/types"
)

// FetcherRouter dispatches on the scheme of the download reference.
// Anything without a known scheme is treated as a local path.
type FetcherRouter struct {
	HTTP ports.FetcherPort
	S3   ports.FetcherPort
	File ports.FetcherPort
}

var _ ports.FetcherPort = FetcherRouter{}

func NewFetcherRouter(http ports.FetcherPort, s3 ports.FetcherPort, file ports.FetcherPort) FetcherRouter {
	return FetcherRouter{HTTP: http, S3: s3, File: file}
}

func (r FetcherRouter) Fetch(ctx context.Context, module types.ModuleVersion) ([]byte, error) {
	fetcher, scheme := r.route(module.Download)
	if fetcher == nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("no fetcher configured for %s downloads", scheme))
	}
	return fetcher.Fetch(ctx, module)
}

// Source names the fetcher that would serve download, for metrics.
func (r FetcherRouter) Source(download string) string {
	_, scheme := r.route(download)
	return scheme
}

func (r FetcherRouter) route(download string) (ports.FetcherPort, string) {
	lower := strings.ToLower(strings.TrimSpace(download))
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return r.HTTP, "http"
	case strings.HasPrefix(lower, "s3://"):
		return r.S3, "s3"
	default:
		return r.File, "file"
	}
}
