package backend

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lcrostarosa/entitlements/internal/httpcache"
)

// Error is a non-success backend response.
type Error struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// IsServerError reports a 5xx status.
func (e *Error) IsServerError() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// errorFromResponse returns nil for 2xx responses and an *Error otherwise.
func errorFromResponse(resp *httpcache.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	e := &Error{StatusCode: resp.StatusCode}
	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(resp.Payload), &body) == nil {
		e.Code = body.Code
		e.Message = body.Message
	}
	return e
}
