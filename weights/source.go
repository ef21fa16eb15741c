package weights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Source retrieves a compressed weight file by name. size is -1 when unknown.
type Source interface {
	Fetch(ctx context.Context, name string) (body io.ReadCloser, size int64, err error)
}

// NewSource builds the source selected by c.Source
func NewSource(c Config) (Source, error) {
	switch c.Source {
	case SourceHTTP:
		client, err := NewHTTPClient(c.Proxy, c.Timeout)
		if err != nil {
			return nil, err
		}
		return NewHTTPSource(c.BaseURL, client), nil
	case SourceS3:
		return NewS3Source(NewS3Client(c.S3), c.S3.Bucket, c.S3.Prefix), nil
	}
	return nil, fmt.Errorf("unknown weight source %q", c.Source)
}

// NewHTTPClient returns a client that routes through proxy when set.
// The proxy applies to this client only.
func NewHTTPClient(proxy string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		if !strings.Contains(proxy, "://") {
			proxy = "http://" + proxy
		}
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", proxy, err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// HTTPSource downloads from a base URL
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a source rooted at baseURL
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HTTPSource{baseURL: baseURL, client: client}
}

// Fetch implements Source
func (s *HTTPSource) Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+name, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", name, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("download %s: %w", name, os.ErrNotExist)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("download %s: %s", name, resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}

// S3Client is the subset of the S3 API used by S3Source; *s3.Client satisfies it
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds an anonymous client for a public or S3-compatible mirror
func NewS3Client(c S3Config) *s3.Client {
	opts := s3.Options{
		Region:       c.Region,
		UsePathStyle: c.UsePathStyle,
		Credentials:  aws.AnonymousCredentials{},
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if c.Endpoint != "" {
		opts.BaseEndpoint = aws.String(c.Endpoint)
	}
	return s3.New(opts)
}

// S3Source reads weight files from a bucket
type S3Source struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3Source creates a source over bucket; prefix is prepended to keys
func NewS3Source(client S3Client, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Source) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Fetch implements Source
func (s *S3Source) Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, fmt.Errorf("s3://%s/%s: %w", s.bucket, s.key(name), os.ErrNotExist)
		}
		return nil, 0, fmt.Errorf("s3://%s/%s: %w", s.bucket, s.key(name), err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}
