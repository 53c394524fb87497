package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/elnormous/contenttype"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Request describes an outbound call. It is never mutated by the client.
type Request struct {
	Method string
	// Path is relative to the client's base URL, e.g. "/transactions/".
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	// SkipAuth sends the request without credentials; a 401 is returned
	// as is and never triggers a refresh. Used for login.
	SkipAuth bool
}

// NewRequest builds a Request whose body is the JSON encoding of body. A nil
// body produces a request without payload.
func NewRequest(method, path string, query url.Values, body any) (*Request, error) {
	req := &Request{Method: method, Path: path, Query: query}
	if body == nil {
		return req, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: encode %s %s body: %w", method, path, err)
	}
	req.Body = b
	req.Header = http.Header{"Content-Type": []string{jsonMediaType.String()}}
	return req, nil
}

// build materializes the descriptor into a fresh *http.Request carrying the
// given bearer token (omitted when empty).
func (r *Request) build(ctx context.Context, base *url.URL, token string) (*http.Request, error) {
	u := resolve(base, r.Path)
	if len(r.Query) > 0 {
		u.RawQuery = r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if token != "" {
		hreq.Header.Set(authorizationHeader, "Bearer "+token)
	}
	return hreq, nil
}

// resolve joins the base URL path and p, keeping a trailing slash on p.
func resolve(base *url.URL, p string) *url.URL {
	u := *base
	u.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(p, "/")
	u.RawPath = ""
	u.RawQuery = ""
	return &u
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the body into ref. Responses that declare a media
// type other than JSON (or a +json suffix) are rejected.
func (r *Response) DecodeJSON(ref any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt := contenttype.NewMediaType(ct)
		if !mt.Matches(jsonMediaType) && !strings.HasSuffix(mt.Subtype, "+json") {
			return fmt.Errorf("%w: %q", ErrUnexpectedContentType, ct)
		}
	}
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, ref); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}
