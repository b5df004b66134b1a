package apiclient

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxErrorBody = 512

// Response is a fully read HTTP response.
type Response struct {
	Method     string
	URL        string
	RequestID  string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// JSON decodes the body into out.
func (r *Response) JSON(out any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("%s %s: empty response body", r.Method, r.URL)
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode JSON body: %w", r.Method, r.URL, err)
	}
	return nil
}

// EnsureStatus returns a *StatusError unless the status code is one of codes.
// With no codes, any 2xx status passes.
func (r *Response) EnsureStatus(codes ...int) error {
	if len(codes) == 0 {
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			return nil
		}
	} else if slices.Contains(codes, r.StatusCode) {
		return nil
	}
	return &StatusError{
		Method:     r.Method,
		URL:        r.URL,
		RequestID:  r.RequestID,
		StatusCode: r.StatusCode,
		Want:       codes,
		Body:       truncate(r.Body, maxErrorBody),
	}
}

// StatusError reports an unexpected response status.
type StatusError struct {
	Method     string
	URL        string
	RequestID  string
	StatusCode int
	Want       []int
	Body       string
}

func (e *StatusError) Error() string {
	want := "2xx"
	if len(e.Want) > 0 {
		want = fmt.Sprint(e.Want)
	}
	return fmt.Sprintf("%s %s: unexpected status %d (want %s, request_id %s): %s",
		e.Method, e.URL, e.StatusCode, want, e.RequestID, e.Body)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
