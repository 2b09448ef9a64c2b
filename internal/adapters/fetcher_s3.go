package adapters

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"modkeeper/internal/ports"
	"modkeeper/internal/types"
)

// S3ObjectGetter is the subset of the S3 client used for downloads.
type S3ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3FetcherAdapter downloads archives referenced as s3://bucket/key.
type S3FetcherAdapter struct {
	Client  S3ObjectGetter
	Timeout time.Duration
}

var _ ports.FetcherPort = S3FetcherAdapter{}

// NewS3FetcherAdapter builds a client for region. endpoint selects an
// S3-compatible service with path-style addressing; empty credentials
// make anonymous requests.
func NewS3FetcherAdapter(region string, endpoint string, accessKey string, secretKey string, timeoutSec int) S3FetcherAdapter {
	options := s3.Options{
		Region:      region,
		Credentials: aws.AnonymousCredentials{},
	}
	if strings.TrimSpace(endpoint) != "" {
		options.BaseEndpoint = aws.String(strings.TrimSpace(endpoint))
		options.UsePathStyle = true
	}
	if strings.TrimSpace(accessKey) != "" {
		options.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     accessKey,
				SecretAccessKey: secretKey,
				Source:          "modkeeper",
			}, nil
		}))
	}
	return S3FetcherAdapter{
		Client:  s3.New(options),
		Timeout: normalizeFetchTimeout(timeoutSec),
	}
}

func (a S3FetcherAdapter) Fetch(ctx context.Context, module types.ModuleVersion) ([]byte, error) {
	if a.Client == nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("s3 fetcher is not configured")
	}
	bucket, key, err := ParseS3URL(module.Download)
	if err != nil {
		return nil, err
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := a.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("s3 download of %s failed", module.Download)).
			WithCause(err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read s3 object").
			WithCause(err)
	}
	log.Ctx(ctx).Debug().Str("bucket", bucket).Str("key", key).Int("bytes", len(data)).Msg("s3 object fetched")
	return data, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(raw string) (string, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Scheme != "s3" || parsed.Host == "" || strings.Trim(parsed.Path, "/") == "" {
		return "", "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid s3 url %q", raw))
	}
	return parsed.Host, strings.TrimPrefix(parsed.Path, "/"), nil
}
