package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/disintegration/imaging"

	"image-cache-service/internal/config"
	"image-cache-service/internal/models"
)

// destinationWriter persists a rendered cache entry and answers whether one
// already exists at a destination.
type destinationWriter interface {
	Exists(ctx context.Context, path string) (bool, error)
	Write(ctx context.Context, path string, body []byte, contentType string) error
}

// CacheRenderer turns one work message into one cache file: decode the
// source image, resize to the requested dimensions, encode with the job's
// quality, and write to the deterministic destination path.
type CacheRenderer struct {
	maxBytes int64
	writer   destinationWriter
}

// NewCacheRenderer picks a destination writer from config: S3 when a bucket
// is configured, the local filesystem otherwise.
func NewCacheRenderer(ctx context.Context, cfg config.Config) (*CacheRenderer, error) {
	maxBytes := cfg.ImageMaxBytes
	if maxBytes == 0 {
		maxBytes = 25 * 1024 * 1024
	}

	var writer destinationWriter = &localWriter{}
	if cfg.CacheS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		writer = &s3Writer{client: client, bucket: cfg.CacheS3Bucket}
	}

	return &CacheRenderer{maxBytes: maxBytes, writer: writer}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.CacheS3Region),
	}
	if cfg.CacheS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.CacheS3Endpoint,
					HostnameImmutable: cfg.CacheS3PathStyle,
					SigningRegion:     cfg.CacheS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.CacheS3PathStyle
	}), nil
}

// Render processes one message. skipped is true when the destination already
// existed and the message did not force regeneration; either way the image
// counts as processed for the job.
func (r *CacheRenderer) Render(ctx context.Context, msg models.WorkMessage) (skipped bool, err error) {
	if !msg.ForceRegenerate {
		exists, err := r.writer.Exists(ctx, msg.DestinationPath)
		if err != nil {
			return false, fmt.Errorf("check destination: %w", err)
		}
		if exists {
			return true, nil
		}
	}

	info, err := os.Stat(msg.SourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("source image missing: %w", err)
		}
		return false, fmt.Errorf("stat source: %w", err)
	}
	if info.Size() > r.maxBytes {
		return false, fmt.Errorf("source image too large (%d > %d bytes)", info.Size(), r.maxBytes)
	}

	src, err := imaging.Open(msg.SourcePath)
	if err != nil {
		return false, fmt.Errorf("decode source: %w", err)
	}

	width, height := msg.Width, msg.Height
	if width == 0 && height == 0 {
		return false, errors.New("message has no target dimensions")
	}
	dst := imaging.Resize(src, width, height, imaging.Lanczos)

	format, quality := encodeParams(msg)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, dst, format, imaging.JPEGQuality(quality)); err != nil {
		return false, fmt.Errorf("encode cache entry: %w", err)
	}

	if err := r.writer.Write(ctx, msg.DestinationPath, buf.Bytes(), mimeForFormat(format)); err != nil {
		return false, fmt.Errorf("write cache entry: %w", err)
	}
	return false, nil
}

// encodeParams maps the message's format and quality onto imaging's encoder
// options. Formats imaging cannot encode (webp) and unknown formats fall
// back to JPEG, mirroring the path resolver's extension fallback.
func encodeParams(msg models.WorkMessage) (imaging.Format, int) {
	quality := msg.Quality
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	switch strings.ToLower(msg.Format) {
	case "png":
		return imaging.PNG, quality
	case "gif":
		return imaging.GIF, quality
	}
	return imaging.JPEG, quality
}

func mimeForFormat(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	}
	return "image/jpeg"
}

type localWriter struct{}

func (l *localWriter) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *localWriter) Write(_ context.Context, path string, body []byte, _ string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

type s3Writer struct {
	client *s3.Client
	bucket string
}

func s3Key(path string) string {
	key := filepath.ToSlash(filepath.Clean(path))
	key = strings.TrimPrefix(key, "/")
	return strings.TrimPrefix(key, "./")
}

func (s *s3Writer) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key(path)),
	})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("head object: %w", err)
	}
	return true, nil
}

func (s *s3Writer) Write(ctx context.Context, path string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key(path)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
