// Package httpcache implements ETag based conditional requests: it decides which
// If-None-Match header to send and when a backend response may replace the cached one.
package httpcache

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/verification"
)

// Origin tells where a Response came from.
type Origin string

const (
	OriginBackend Origin = "BACKEND"
	OriginCache   Origin = "CACHE"
)

// Response is an immutable backend result as seen by callers and as persisted in the cache.
type Response struct {
	StatusCode   int                 `json:"responseCode"`
	Payload      string              `json:"payload"`
	Origin       Origin              `json:"origin"`
	Verification verification.Result `json:"verificationResult"`
}

// NewResponse builds a Response.
func NewResponse(statusCode int, payload string, origin Origin, result verification.Result) *Response {
	return &Response{
		StatusCode:   statusCode,
		Payload:      payload,
		Origin:       origin,
		Verification: result,
	}
}

// Body parses Payload as a JSON object. A blank payload yields an empty object.
func (r *Response) Body() (map[string]any, error) {
	if strings.TrimSpace(r.Payload) == "" {
		return map[string]any{}, nil
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Payload), &body); err != nil {
		return nil, fmt.Errorf("%w: response body: %v", apperrors.ErrInvalidJSON, err)
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

// WithOrigin returns a copy tagged with a different origin and verification result.
func (r *Response) WithOrigin(origin Origin, result verification.Result) *Response {
	cp := *r
	cp.Origin = origin
	cp.Verification = result
	return &cp
}

// Serialize returns the stable string form used for persistence.
func (r *Response) Serialize() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to serialize response: %w", err)
	}
	return string(b), nil
}

// DeserializeResponse parses the output of Serialize.
func DeserializeResponse(s string) (*Response, error) {
	var r Response
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("%w: cached response: %v", apperrors.ErrInvalidJSON, err)
	}
	if r.Origin == "" {
		r.Origin = OriginCache
	}
	if r.Verification == "" {
		r.Verification = verification.ResultNotRequested
	}
	return &r, nil
}

// Record pairs an ETag with the exact response it was issued for.
type Record struct {
	ETag     string
	Response *Response
}

type persistedRecord struct {
	ETag     string `json:"eTag"`
	Response string `json:"response"`
}

func (rec Record) marshal() (string, error) {
	resp, err := rec.Response.Serialize()
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(persistedRecord{ETag: rec.ETag, Response: resp})
	if err != nil {
		return "", fmt.Errorf("failed to serialize etag record: %w", err)
	}
	return string(b), nil
}

func unmarshalRecord(s string) (*Record, error) {
	var p persistedRecord
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("%w: etag record: %v", apperrors.ErrInvalidJSON, err)
	}
	resp, err := DeserializeResponse(p.Response)
	if err != nil {
		return nil, err
	}
	return &Record{ETag: p.ETag, Response: resp}, nil
}
