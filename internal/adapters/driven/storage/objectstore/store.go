package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
	"github.com/custodia-labs/foldline/internal/logger"
)

// User metadata keys.
const (
	metaVersion   = "Foldline-Version"
	metaCreatedAt = "Foldline-Created-At"
	metaExpiresAt = "Foldline-Expires-At"
)

// Config holds the bucket connection.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string

	// Prefix is prepended to every object name.
	Prefix string
}

// ConfigFromSettings maps cache settings to a Config.
func ConfigFromSettings(s domain.ObjectStoreSettings) Config {
	return Config{
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Bucket:    s.Bucket,
		UseSSL:    s.UseSSL,
		Prefix:    s.Prefix,
	}
}

// Storage is one bucket shared by every tier backend.
type Storage struct {
	cl     *minio.Client
	bucket string
	prefix string
}

// New connects to the endpoint and creates the bucket if it is missing.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: object store endpoint and bucket are required", domain.ErrConfig)
	}
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	exists, err := cl.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cl.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("objectstore: created bucket %s", cfg.Bucket)
	}

	return &Storage{cl: cl, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// CacheBackend returns the backend for one tier.
func (s *Storage) CacheBackend(tier domain.TierID) driven.CacheBackend {
	return &cacheBackend{storage: s, tier: tier}
}

// Close releases nothing; minio clients hold no persistent connections
// beyond the shared HTTP transport.
func (s *Storage) Close() error {
	return nil
}

func (s *Storage) tierPrefix(tier domain.TierID) string {
	return path.Join(s.prefix, string(tier)) + "/"
}

// encodeMeta returns the user metadata for an entry.
func encodeMeta(e domain.CacheEntry) map[string]string {
	meta := map[string]string{
		metaCreatedAt: strconv.FormatInt(e.CreatedAt.UnixNano(), 10),
	}
	if e.Version != "" {
		meta[metaVersion] = e.Version
	}
	if !e.ExpiresAt.IsZero() {
		meta[metaExpiresAt] = strconv.FormatInt(e.ExpiresAt.UnixNano(), 10)
	}
	return meta
}

// decodeMeta fills version and times from user metadata. Header keys come
// back canonicalised, so lookups are case-insensitive.
func decodeMeta(e *domain.CacheEntry, meta map[string]string) error {
	lookup := func(k string) string {
		if v, ok := meta[k]; ok {
			return v
		}
		for mk, v := range meta {
			if strings.EqualFold(mk, k) {
				return v
			}
		}
		return ""
	}

	e.Version = lookup(metaVersion)
	if v := lookup(metaCreatedAt); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing created-at %q: %w", v, err)
		}
		e.CreatedAt = time.Unix(0, n)
	}
	if v := lookup(metaExpiresAt); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing expires-at %q: %w", v, err)
		}
		e.ExpiresAt = time.Unix(0, n)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// cacheBackend implements driven.CacheBackend for one tier.
type cacheBackend struct {
	storage *Storage
	tier    domain.TierID
}

var _ driven.CacheBackend = (*cacheBackend)(nil)

func (b *cacheBackend) objectName(key string) string {
	return b.storage.tierPrefix(b.tier) + key
}

// Get returns the entry for key. A miss is (zero, false, nil).
func (b *cacheBackend) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	name := b.objectName(key)
	obj, err := b.storage.cl.GetObject(ctx, b.storage.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return domain.CacheEntry{}, false, nil
		}
		return domain.CacheEntry{}, false, fmt.Errorf("getting %s: %w", name, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if isNotFound(err) {
			return domain.CacheEntry{}, false, nil
		}
		return domain.CacheEntry{}, false, fmt.Errorf("stat %s: %w", name, err)
	}
	payload, err := io.ReadAll(obj)
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("reading %s: %w", name, err)
	}

	entry := domain.CacheEntry{Key: key, Tier: b.tier, Payload: payload}
	if err := decodeMeta(&entry, info.UserMetadata); err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("%s: %w", name, err)
	}
	return entry, true, nil
}

// Put uploads the entry, replacing any existing object.
func (b *cacheBackend) Put(ctx context.Context, entry domain.CacheEntry) error {
	if entry.Key == "" {
		return domain.ErrInvalidInput
	}
	name := b.objectName(entry.Key)
	_, err := b.storage.cl.PutObject(ctx, b.storage.bucket, name,
		bytes.NewReader(entry.Payload), int64(len(entry.Payload)),
		minio.PutObjectOptions{
			ContentType:  "application/octet-stream",
			UserMetadata: encodeMeta(entry),
		})
	if err != nil {
		return fmt.Errorf("putting %s: %w", name, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *cacheBackend) Delete(ctx context.Context, key string) error {
	name := b.objectName(key)
	err := b.storage.cl.RemoveObject(ctx, b.storage.bucket, name, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// Purge lists the tier's objects and removes those matching filter.
func (b *cacheBackend) Purge(ctx context.Context, filter domain.PurgeFilter) (int, error) {
	prefix := b.storage.tierPrefix(b.tier)
	removed := 0

	for obj := range b.storage.cl.ListObjects(ctx, b.storage.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return removed, fmt.Errorf("listing %s: %w", prefix, obj.Err)
		}

		info, err := b.storage.cl.StatObject(ctx, b.storage.bucket, obj.Key, minio.StatObjectOptions{})
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return removed, fmt.Errorf("stat %s: %w", obj.Key, err)
		}
		entry := domain.CacheEntry{Key: strings.TrimPrefix(obj.Key, prefix), Tier: b.tier}
		if err := decodeMeta(&entry, info.UserMetadata); err != nil {
			logger.Warn("objectstore: removing %s with unreadable metadata: %v", obj.Key, err)
		} else if !filter.Matches(entry) {
			continue
		}

		if err := b.storage.cl.RemoveObject(ctx, b.storage.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("removing %s: %w", obj.Key, err)
		}
		removed++
	}
	return removed, nil
}

// Close is a no-op; the Storage owns the client.
func (b *cacheBackend) Close() error {
	return nil
}
