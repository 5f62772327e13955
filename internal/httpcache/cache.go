package httpcache

import (
	"context"
	"errors"
	"net/http"
	"sync"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/kvstore"
	"github.com/lcrostarosa/entitlements/internal/logging"
)

const (
	// HeaderIfNoneMatch is the conditional request header.
	HeaderIfNoneMatch = "If-None-Match"
	// HeaderETag is the response header carrying the version token.
	HeaderETag = "ETag"

	keyPrefix = "etag:"
)

// ConditionalCache maps request paths to the last good response and its ETag.
type ConditionalCache struct {
	store kvstore.Store

	// mu serializes mutations so a record is never observed half written.
	mu sync.Mutex
}

// NewConditionalCache creates a cache persisting into store.
func NewConditionalCache(store kvstore.Store) *ConditionalCache {
	return &ConditionalCache{store: store}
}

// HeaderForRequest returns the conditional headers to attach to a request for path.
// forceRefresh sends an empty ETag so the backend always answers with a full body.
func (c *ConditionalCache) HeaderForRequest(ctx context.Context, path string, forceRefresh bool) map[string]string {
	eTag := ""
	if !forceRefresh {
		if rec := c.record(ctx, path); rec != nil {
			eTag = rec.ETag
		}
	}
	return map[string]string{HeaderIfNoneMatch: eTag}
}

// ShouldUseCachedVersion reports whether statusCode means the cached response is still current.
func (c *ConditionalCache) ShouldUseCachedVersion(statusCode int) bool {
	return statusCode == http.StatusNotModified
}

// StoredResult returns the cached response for path, tagged as coming from the cache.
func (c *ConditionalCache) StoredResult(ctx context.Context, path string) (*Response, bool) {
	rec := c.record(ctx, path)
	if rec == nil {
		return nil, false
	}
	return rec.Response.WithOrigin(OriginCache, rec.Response.Verification), true
}

// StoredETag returns the ETag stored for path, if any.
func (c *ConditionalCache) StoredETag(ctx context.Context, path string) (string, bool) {
	rec := c.record(ctx, path)
	if rec == nil {
		return "", false
	}
	return rec.ETag, true
}

// StoreIfNoError records response and eTag for path unless the response is a 304 or a
// server error, in which case the existing record is left untouched.
func (c *ConditionalCache) StoreIfNoError(ctx context.Context, path string, response *Response, eTag string) error {
	if response == nil || !shouldStore(response.StatusCode) {
		return nil
	}

	value, err := Record{ETag: eTag, Response: response}.marshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Put(ctx, keyPrefix+path, value); err != nil {
		logging.Warn("Failed to store etag record", logging.Path(path), logging.Err(err))
		return err
	}
	logging.Debug("Stored etag record", logging.Path(path), logging.String("etag", eTag))
	return nil
}

// ClearAll removes every cached record.
func (c *ConditionalCache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx, keyPrefix)
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *ConditionalCache) record(ctx context.Context, path string) *Record {
	c.mu.Lock()
	value, err := c.store.Get(ctx, keyPrefix+path)
	c.mu.Unlock()
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			logging.Warn("Failed to read etag record", logging.Path(path), logging.Err(err))
		}
		return nil
	}

	rec, err := unmarshalRecord(value)
	if err != nil {
		logging.Warn("Discarding unreadable etag record", logging.Path(path), logging.Err(err))
		return nil
	}
	return rec
}

func shouldStore(statusCode int) bool {
	return statusCode != http.StatusNotModified && statusCode < http.StatusInternalServerError
}
