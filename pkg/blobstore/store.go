// Package blobstore offloads oversized binary attribute values (photos,
// certificates) to an S3-compatible object store, keeping only a content
// reference inline in the entry. Blobs are content-addressed by SHA-256,
// so re-adding an identical value is a no-op and values are immutable.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"dirsrv/pkg/dirserrors"
)

// RefPrefix marks an attribute value that is a blob reference rather than
// inline bytes.
const RefPrefix = "blobref:"

// Config holds the S3 connection parameters.
type Config struct {
	Bucket string
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible services
	// (MinIO, Localstack); empty uses AWS.
	Endpoint string

	// AccessKey/SecretKey use static credentials when set; empty falls
	// back to the SDK's default credential chain.
	AccessKey string
	SecretKey string

	// KeyPrefix is prepended to every object key.
	KeyPrefix string

	// ForcePathStyle is required for most S3-compatible services.
	ForcePathStyle bool
}

// Store is the S3-backed blob store.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// New creates a store with an existing client.
func New(client *s3.Client, cfg Config) *Store {
	return &Store{client: client, bucket: cfg.Bucket, keyPrefix: cfg.KeyPrefix}
}

// NewFromConfig builds the S3 client from cfg and wraps it.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// Put stores data and returns its reference value
// ("blobref:<bucket>/<key>#sha256=<digest>").
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	digest := sha256.Sum256(data)
	key := s.keyPrefix + hex.EncodeToString(digest[:])

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", dirserrors.Wrap(dirserrors.Other, err, "writing blob")
	}
	return fmt.Sprintf("%s%s/%s#sha256=%s", RefPrefix, s.bucket, key, hex.EncodeToString(digest[:])), nil
}

// Get resolves a reference produced by Put back into the original bytes,
// verifying the digest.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, digest, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "reading blob")
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "reading blob body")
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != digest {
		return nil, dirserrors.Newf(dirserrors.Other, "blob %q failed digest verification", ref)
	}
	return data, nil
}

// IsRef reports whether value is a blob reference.
func IsRef(value string) bool { return strings.HasPrefix(value, RefPrefix) }

// ParseRef splits a reference into bucket, key, and expected digest.
func ParseRef(ref string) (bucket, key, digest string, err error) {
	rest, ok := strings.CutPrefix(ref, RefPrefix)
	if !ok {
		return "", "", "", dirserrors.Newf(dirserrors.Other, "%q is not a blob reference", ref)
	}
	location, digestPart, ok := strings.Cut(rest, "#sha256=")
	if !ok {
		return "", "", "", dirserrors.Newf(dirserrors.Other, "blob reference %q has no digest", ref)
	}
	bucket, key, ok = strings.Cut(location, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", "", dirserrors.Newf(dirserrors.Other, "blob reference %q has no bucket/key", ref)
	}
	return bucket, key, digestPart, nil
}
