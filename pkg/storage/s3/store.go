// Package s3 implements storage.Store on any S3-compatible bucket using the
// MinIO client.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/eteran/stash/pkg/storage"
)

const userMetadataPrefix = "x-amz-meta-"

// Config holds the connection parameters of an S3 bucket.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Store is a storage.Store backed by an S3 bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// Open connects to the endpoint in cfg and creates the bucket when it does
// not exist yet.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, mapError(err, "check bucket "+cfg.Bucket)
	}

	if !exists {
		slog.Info("Creating bucket", "bucket", cfg.Bucket)
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, mapError(err, "create bucket "+cfg.Bucket)
		}
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// normalizeUserMetadata lower-cases user metadata keys and strips the
// x-amz-meta- prefix that some listing responses keep.
func normalizeUserMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		key := strings.ToLower(k)
		if isStandardHeader(key) {
			continue
		}
		out[strings.TrimPrefix(key, userMetadataPrefix)] = v
	}
	return out
}

// isStandardHeader reports whether key is a content header that MinIO's
// extended listing mixes into user metadata.
func isStandardHeader(key string) bool {
	switch key {
	case "content-type", "content-disposition", "content-language",
		"content-encoding", "cache-control", "expires":
		return true
	}
	return false
}

func entryFromInfo(info minio.ObjectInfo) storage.Entry {
	return storage.Entry{
		Key:        info.Key,
		Size:       info.Size,
		ETag:       storage.CreateETag(strings.Trim(info.ETag, "\"")),
		UploadedAt: info.LastModified.UTC(),
		HTTPMetadata: storage.HTTPMetadata{
			ContentType:        info.ContentType,
			ContentDisposition: info.Metadata.Get(headers.ContentDisposition),
			ContentLanguage:    info.Metadata.Get(headers.ContentLanguage),
			ContentEncoding:    info.Metadata.Get(headers.ContentEncoding),
			CacheControl:       info.Metadata.Get(headers.CacheControl),
			CacheExpiry:        info.Expires.UTC(),
		},
		Metadata: normalizeUserMetadata(info.UserMetadata),
	}
}

// fullSize recovers the total object size from a ranged response.
func fullSize(info minio.ObjectInfo) int64 {
	contentRange := info.Metadata.Get(headers.ContentRange)
	if _, total, ok := strings.Cut(contentRange, "/"); ok {
		if n, err := strconv.ParseInt(total, 10, 64); err == nil {
			return n
		}
	}
	return info.Size
}

func (s *Store) Head(ctx context.Context, key string) (*storage.Entry, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "stat "+key)
	}

	e := entryFromInfo(info)
	return &e, nil
}

func setConditions(set func(key string, value string), c storage.Conditions) {
	if c.IfMatch != "" {
		set(headers.IfMatch, c.IfMatch)
	}
	if c.IfNoneMatch != "" {
		set(headers.IfNoneMatch, c.IfNoneMatch)
	}
	if !c.IfModifiedSince.IsZero() {
		set(headers.IfModifiedSince, c.IfModifiedSince.UTC().Format(http.TimeFormat))
	}
	if !c.IfUnmodifiedSince.IsZero() {
		set(headers.IfUnmodifiedSince, c.IfUnmodifiedSince.UTC().Format(http.TimeFormat))
	}
}

func setRange(o *minio.GetObjectOptions, r *storage.Range) error {
	switch {
	case r == nil:
		return nil
	case r.Suffix > 0:
		return o.SetRange(0, -r.Suffix)
	case r.Length < 0 && r.Offset == 0:
		return nil
	case r.Length < 0:
		return o.SetRange(r.Offset, 0)
	default:
		return o.SetRange(r.Offset, r.Offset+r.Length-1)
	}
}

func (s *Store) Get(ctx context.Context, key string, opts storage.GetOptions) (*storage.Object, error) {
	getOpts := minio.GetObjectOptions{}
	setConditions(getOpts.Set, opts.Conditions)
	if err := setRange(&getOpts, opts.Range); err != nil {
		return nil, fmt.Errorf("range for %s: %w", key, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, getOpts)
	if err != nil {
		return nil, mapError(err, "get "+key)
	}

	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, mapError(err, "get "+key)
	}

	e := entryFromInfo(info)
	e.Key = key
	e.Size = fullSize(info)

	return &storage.Object{Entry: e, Body: obj, Range: opts.Range}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (*storage.Entry, error) {
	if !opts.Conditions.IsZero() {
		current, err := s.Head(ctx, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		if !opts.Conditions.Check(current) {
			return nil, storage.ErrPreconditionFailed
		}
	}

	putOpts := minio.PutObjectOptions{
		ContentType:        opts.HTTPMetadata.ContentType,
		ContentDisposition: opts.HTTPMetadata.ContentDisposition,
		ContentLanguage:    opts.HTTPMetadata.ContentLanguage,
		ContentEncoding:    opts.HTTPMetadata.ContentEncoding,
		CacheControl:       opts.HTTPMetadata.CacheControl,
		Expires:            opts.HTTPMetadata.CacheExpiry,
		UserMetadata:       storage.CloneMetadata(opts.Metadata),
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, putOpts)
	if err != nil {
		return nil, mapError(err, "put "+key)
	}

	uploadedAt := info.LastModified.UTC()
	if uploadedAt.IsZero() {
		uploadedAt = time.Now().UTC()
	}

	return &storage.Entry{
		Key:          key,
		Size:         info.Size,
		ETag:         storage.CreateETag(strings.Trim(info.ETag, "\"")),
		UploadedAt:   uploadedAt,
		HTTPMetadata: opts.HTTPMetadata,
		Metadata:     storage.CloneMetadata(opts.Metadata),
	}, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	switch len(keys) {
	case 0:
		return nil
	case 1:
		return mapError(s.client.RemoveObject(ctx, s.bucket, keys[0], minio.RemoveObjectOptions{}), "delete "+keys[0])
	}

	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for _, key := range keys {
			select {
			case objectsCh <- minio.ObjectInfo{Key: key}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var errs []error
	for rErr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if mapped := mapError(rErr.Err, "delete "+rErr.ObjectName); !errors.Is(mapped, storage.ErrNotFound) {
			errs = append(errs, mapped)
		}
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.ListPage, error) {
	if opts.Delimiter != "" && opts.Delimiter != "/" {
		return nil, fmt.Errorf("s3 listing supports only the \"/\" delimiter, got %q", opts.Delimiter)
	}

	limit := opts.PageSize()

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:       opts.Prefix,
		Recursive:    opts.Delimiter == "",
		StartAfter:   opts.Cursor,
		WithMetadata: true,
		MaxKeys:      limit,
	})

	page := &storage.ListPage{}
	for info := range objects {
		if info.Err != nil {
			return nil, mapError(info.Err, "list "+opts.Prefix)
		}

		// Common prefixes come back as keys ending in the delimiter.
		if !opts.Matches(info.Key) {
			continue
		}

		if len(page.Entries) == limit {
			page.Truncated = true
			page.Cursor = page.Entries[limit-1].Key
			break
		}

		page.Entries = append(page.Entries, entryFromInfo(info))
	}

	if err := s.probeMetadata(ctx, page.Entries); err != nil {
		return nil, err
	}

	return page, nil
}

// probeMetadata fills in user metadata for zero-length entries whose listing
// carried none, so collection markers are recognised on providers without
// metadata listing.
func (s *Store) probeMetadata(ctx context.Context, entries []storage.Entry) error {
	eg, ctx := errgroup.WithContext(ctx)

	for i := range entries {
		if entries[i].Size != 0 || len(entries[i].Metadata) != 0 {
			continue
		}

		eg.Go(func() error {
			e, err := s.Head(ctx, entries[i].Key)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			entries[i] = *e
			return nil
		})
	}

	return eg.Wait()
}

// Close is a no-op; the MinIO client holds no closable resources.
func (s *Store) Close() error {
	return nil
}
