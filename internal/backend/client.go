// Package backend talks to the entitlements backend: conditional requests through the
// ETag cache, nonces for replay protection and signature verification of every response.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lcrostarosa/entitlements/internal/crypto"
	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/httpcache"
	"github.com/lcrostarosa/entitlements/internal/logging"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.revenuecat.com"

	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"

	nonceSize      = 12
	defaultTimeout = 30 * time.Second
	apiVersion     = "/v1"
)

// Config configures a Client.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client performs backend requests. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *httpcache.ConditionalCache
	engine     *verification.Engine
}

// New creates a client. A zero RequestsPerSecond disables rate limiting.
func New(cfg Config, cache *httpcache.ConditionalCache, engine *verification.Engine) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		cache:      cache,
		engine:     engine,
	}
}

// Engine returns the verification engine responses are checked with.
func (c *Client) Engine() *verification.Engine { return c.engine }

// Cache returns the conditional request cache.
func (c *Client) Cache() *httpcache.ConditionalCache { return c.cache }

// Request describes one backend call.
type Request struct {
	Method string
	Path   string
	Body   []byte
	// Nonce asks the backend to bind a fresh random nonce into the response signature.
	Nonce        bool
	ForceRefresh bool
}

// PerformRequest sends req and returns the response, serving the cached copy on 304. Only
// 2xx and 304 responses are verified; in enforced verification mode one failing
// verification yields ErrSignatureVerificationFailed. Responses failing verification are
// never cached.
func (c *Client) PerformRequest(ctx context.Context, req Request) (*httpcache.Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	resp, notModified, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if notModified && resp == nil {
		logging.Debug("Got 304 without a cached response, retrying", logging.Path(req.Path))
		req.ForceRefresh = true
		resp, _, err = c.do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, &Error{StatusCode: http.StatusNotModified, Message: "backend returned 304 for an unconditional request"}
		}
	}
	return resp, nil
}

// do performs one round trip. A nil response with notModified set means the backend
// answered 304 but nothing is cached for the path.
func (c *Client) do(ctx context.Context, req Request) (_ *httpcache.Response, notModified bool, _ error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+apiVersion+req.Path, body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(HeaderAuthorization, "Bearer "+c.apiKey)
	httpReq.Header.Set(HeaderRequestID, uuid.NewString())
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Method == http.MethodGet {
		for k, v := range c.cache.HeaderForRequest(ctx, req.Path, req.ForceRefresh) {
			httpReq.Header.Set(k, v)
		}
	}

	var nonce *string
	if req.Nonce && c.engine.Mode().ShouldVerify() {
		raw, err := crypto.RandomBytes(nonceSize)
		if err != nil {
			return nil, false, err
		}
		encoded := base64.StdEncoding.EncodeToString(raw)
		nonce = &encoded
		httpReq.Header.Set(verification.HeaderNonce, encoded)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		return nil, false, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to read response: %v", apperrors.ErrBackendUnavailable, err)
	}

	eTag := headerPtr(httpResp.Header, httpcache.HeaderETag)
	in := verification.VerifyInput{
		Path:        req.Path,
		Signature:   headerPtr(httpResp.Header, verification.HeaderSignature),
		Nonce:       nonce,
		RequestTime: headerPtr(httpResp.Header, verification.HeaderRequestTime),
		ETag:        eTag,
	}

	if c.cache.ShouldUseCachedVersion(httpResp.StatusCode) {
		cached, ok := c.cache.StoredResult(ctx, req.Path)
		if !ok {
			return nil, true, nil
		}
		result := c.engine.Verify(in)
		if err := c.checkResult(req.Path, result); err != nil {
			return nil, true, err
		}
		logging.Debug("Serving cached response", logging.Path(req.Path))
		return cached.WithOrigin(httpcache.OriginCache, result), true, nil
	}

	text := string(payload)
	result := verification.ResultNotRequested
	if isSuccess(httpResp.StatusCode) {
		in.Body = &text
		result = c.engine.Verify(in)
		if err := c.checkResult(req.Path, result); err != nil {
			return nil, false, err
		}
	}

	resp := httpcache.NewResponse(httpResp.StatusCode, text, httpcache.OriginBackend, result)
	if result != verification.ResultFailed && req.Method == http.MethodGet {
		if err := c.cache.StoreIfNoError(ctx, req.Path, resp, deref(eTag)); err != nil {
			logging.Warn("Failed to cache response", logging.Path(req.Path), logging.Err(err))
		}
	}
	return resp, false, nil
}

func (c *Client) checkResult(path string, result verification.Result) error {
	if result == verification.ResultFailed && c.engine.Mode().IsEnforced() {
		return fmt.Errorf("%w: %s", apperrors.ErrSignatureVerificationFailed, path)
	}
	return nil
}

// isSuccess reports whether status carries a signed payload. Error statuses may come
// from proxies in front of the backend and are never signed.
func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func headerPtr(h http.Header, key string) *string {
	values := h.Values(key)
	if len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// IsServerError reports whether err means the backend failed rather than rejected the
// request: a 5xx status or no response at all.
func IsServerError(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.IsServerError()
	}
	return errors.Is(err, apperrors.ErrBackendUnavailable)
}
