package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized indicates the backend rejected the credentials and
	// they could not be recovered by a refresh.
	ErrUnauthorized = errors.New("apiclient: unauthorized")

	// ErrForbidden indicates the caller is authenticated but not allowed.
	ErrForbidden = errors.New("apiclient: forbidden")

	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = errors.New("apiclient: not found")

	// ErrRefreshFailed indicates the access token could not be refreshed.
	ErrRefreshFailed = errors.New("apiclient: refresh failed")

	// ErrUnexpectedContentType is returned by DecodeJSON when the response
	// declares a non-JSON media type.
	ErrUnexpectedContentType = errors.New("apiclient: unexpected content type")

	// ErrResponseTooLarge is returned when a response body exceeds the
	// client's buffering limit.
	ErrResponseTooLarge = errors.New("apiclient: response too large")
)

// HTTPError is returned for every non-2xx response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	// Detail is the backend's human readable message, when present.
	Detail string
	Body   []byte
}

func newHTTPError(req *Request, resp *Response) *HTTPError {
	return &HTTPError{
		Method:     req.Method,
		Path:       req.Path,
		StatusCode: resp.StatusCode,
		Detail:     detailFromBody(resp.Body),
		Body:       resp.Body,
	}
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is maps status codes onto the package sentinels.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// detailFromBody extracts {"detail": "..."} bodies. Validation errors carry a
// list of {"msg": "..."} objects instead of a string.
func detailFromBody(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil || len(payload.Detail) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(payload.Detail, &s) == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(payload.Detail, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// RefreshError is returned when the access token could not be refreshed.
// It matches ErrRefreshFailed, ErrUnauthorized and the underlying cause.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%s: %v", ErrRefreshFailed.Error(), e.Err)
}

func (e *RefreshError) Unwrap() []error {
	return []error{ErrRefreshFailed, ErrUnauthorized, e.Err}
}
