package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/branchworks/branchmerge/internal/core"
)

func init() {
	Register("s3", func(ctx context.Context, opts Options) (Backend, error) {
		return NewS3Backend(ctx, opts)
	})
}

// S3Backend reads exports from a bucket laid out as
// <prefix><source>/<export> with epoch-stamped export names.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
	enc    string
}

// NewS3Backend builds a backend on the default AWS credential chain.
// Region is optional; when empty the chain's region applies.
func NewS3Backend(ctx context.Context, opts Options) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 backend needs a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Backend{
		client: s3.NewFromConfig(cfg),
		bucket: opts.Bucket,
		prefix: normalizePrefix(opts.Prefix),
		enc:    opts.Encoding,
	}, nil
}

// ListSources walks the prefix and returns one handle per source
// folder, each pointing at the folder's newest export. Handles come
// back sorted by label.
func (b *S3Backend) ListSources(ctx context.Context) ([]core.SourceHandle, error) {
	latest := make(map[string]string)

	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", b.bucket, b.prefix, err)
		}
		keys := make([]string, 0, len(page.Contents))
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		collectLatest(latest, b.prefix, keys)
	}

	handles := make([]core.SourceHandle, 0, len(latest))
	for label, key := range latest {
		handles = append(handles, core.SourceHandle{Label: label, Key: key})
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Label < handles[j].Label })
	return handles, nil
}

// collectLatest folds a page of object keys into the per-source latest
// map. Only keys directly under <prefix><source>/ count; merged
// artifacts at the prefix root and objects nested deeper are skipped.
// Export names carry an epoch stamp, so the greatest key per source is
// the newest.
func collectLatest(latest map[string]string, prefix string, keys []string) {
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		folder, name, ok := strings.Cut(rest, "/")
		if !ok || folder == "" || name == "" || strings.Contains(name, "/") {
			continue
		}
		if !isExportName(name) {
			continue
		}
		if key > latest[folder] {
			latest[folder] = key
		}
	}
}

// Fetch downloads and decodes the export behind a handle.
func (b *S3Backend) Fetch(ctx context.Context, h core.SourceHandle) (*core.SourceData, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(h.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", b.bucket, h.Key, err)
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", b.bucket, h.Key, err)
	}
	return Decode(h.Key, payload, b.enc)
}

// PutObject uploads an artifact. The key locates the object the same
// way Fetch keys do, so callers control whether an artifact lands
// inside or outside the listed source tree.
func (b *S3Backend) PutObject(ctx context.Context, key string, payload []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentTypeFor(key)),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func contentTypeFor(key string) string {
	if strings.ToLower(path.Ext(key)) == ".csv" {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
