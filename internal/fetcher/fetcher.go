package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/metrics"
	"github.com/Harsh-BH/Sentinel/grader/internal/repository"
	"github.com/Harsh-BH/Sentinel/grader/internal/retry"
	"github.com/Harsh-BH/Sentinel/grader/internal/storage"
)

// DefaultDiskAPI resolves public disk links to a direct download URL.
const DefaultDiskAPI = "https://cloud-api.yandex.net/v1/disk/public/resources/download"

// BucketReader reads objects from arbitrary buckets.
type BucketReader interface {
	GetFrom(ctx context.Context, bucket, key string) ([]byte, error)
}

// Options configures a Fetcher.
type Options struct {
	// MaxBytes stops a download one byte past this size; the validator rejects the rest.
	MaxBytes int64
	DiskAPI  string
	Timeout  time.Duration
}

// Fetcher downloads submission archives from http(s) URLs, public disk links and s3:// URLs.
type Fetcher struct {
	client    *http.Client
	buckets   BucketReader
	opts      Options
	diskHosts mapset.Set[string]
	policy    retry.Policy
	logger    *zap.Logger
}

var _ repository.ArtifactFetcher = (*Fetcher)(nil)

// New creates a Fetcher. buckets may be nil when s3:// sources are not used.
func New(opts Options, buckets BucketReader, policy retry.Policy, logger *zap.Logger) *Fetcher {
	if opts.DiskAPI == "" {
		opts.DiskAPI = DefaultDiskAPI
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	// Downloads are bounded by the client timeout, which scales with archive size.
	policy.AttemptTimeout = 0
	return &Fetcher{
		client:    &http.Client{Timeout: opts.Timeout},
		buckets:   buckets,
		opts:      opts,
		diskHosts: mapset.NewSet("disk.yandex.ru", "disk.yandex.com", "disk.360.yandex.ru", "yadi.sk"),
		policy:    policy,
		logger:    logger,
	}
}

// Fetch downloads srcURL into dest. Sources that cannot exist (bad URL, 4xx,
// missing object) fail with domain.ErrNotFound; other failures are retried.
func (f *Fetcher) Fetch(ctx context.Context, srcURL, dest string) error {
	u, err := url.Parse(strings.TrimSpace(srcURL))
	if err != nil {
		return fmt.Errorf("%w: parse src_url: %v", domain.ErrNotFound, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("fetcher: create dir: %w", err)
	}

	var op func(ctx context.Context) error
	switch {
	case u.Scheme == "s3":
		op = func(ctx context.Context) error { return f.fetchObject(ctx, u, dest) }
	case (u.Scheme == "http" || u.Scheme == "https") && f.diskHosts.Contains(strings.ToLower(u.Hostname())):
		op = func(ctx context.Context) error { return f.fetchDisk(ctx, u.String(), dest) }
	case u.Scheme == "http" || u.Scheme == "https":
		op = func(ctx context.Context) error { return f.download(ctx, u.String(), dest) }
	default:
		return fmt.Errorf("%w: unsupported source scheme %q", domain.ErrNotFound, u.Scheme)
	}

	return retry.Do(ctx, f.policy, op, func(err error, wait time.Duration) {
		metrics.StoreRetries.WithLabelValues("fetch").Inc()
		f.logger.Warn("Submission download failed, retrying",
			zap.String("src_url", srcURL),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

func (f *Fetcher) fetchObject(ctx context.Context, u *url.URL, dest string) error {
	if f.buckets == nil {
		return retry.Permanent(fmt.Errorf("%w: s3 sources are not configured", domain.ErrNotFound))
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return retry.Permanent(fmt.Errorf("%w: malformed s3 url %q", domain.ErrNotFound, u.String()))
	}
	body, err := f.buckets.GetFrom(ctx, u.Host, key)
	if errors.Is(err, storage.ErrNotExist) {
		return retry.Permanent(fmt.Errorf("%w: %v", domain.ErrNotFound, err))
	}
	if err != nil {
		return err
	}
	if int64(len(body)) > f.opts.MaxBytes && f.opts.MaxBytes > 0 {
		body = body[:f.opts.MaxBytes+1]
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return retry.Permanent(fmt.Errorf("fetcher: write %s: %w", dest, err))
	}
	return nil
}

type diskResponse struct {
	Href string `json:"href"`
}

func (f *Fetcher) fetchDisk(ctx context.Context, publicKey, dest string) error {
	api := f.opts.DiskAPI + "?" + url.Values{"public_key": {publicKey}}.Encode()

	resp, err := f.get(ctx, api)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var dr diskResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&dr); err != nil {
		return fmt.Errorf("fetcher: decode disk response: %w", err)
	}
	if dr.Href == "" {
		return retry.Permanent(fmt.Errorf("%w: disk response has no download link", domain.ErrNotFound))
	}
	return f.download(ctx, dr.Href, dest)
}

func (f *Fetcher) download(ctx context.Context, rawURL, dest string) error {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return retry.Permanent(fmt.Errorf("fetcher: create %s: %w", dest, err))
	}
	defer out.Close()

	var body io.Reader = resp.Body
	if f.opts.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	}
	if _, err := io.Copy(out, body); err != nil {
		return fmt.Errorf("fetcher: read body: %w", err)
	}
	return nil
}

// get performs a GET and classifies the status: 4xx is permanent, 5xx is retried.
func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %v", domain.ErrNotFound, err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: get: %w", err)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, retry.Permanent(fmt.Errorf("%w: http status %d", domain.ErrNotFound, resp.StatusCode))
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("fetcher: http status %d", resp.StatusCode)
	}
}
