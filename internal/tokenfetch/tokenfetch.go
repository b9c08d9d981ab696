// Package tokenfetch performs the preflight authentication call that
// produces a bearer token for a load run: one HTTP request, a JSON body,
// and a dotted-path walk to the token value.
package tokenfetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FailureKind categorizes why a token fetch failed.
type FailureKind int

const (
	AuthRejected FailureKind = iota
	AuthBadResponse
	AuthTokenMissing
	AuthTransport
)

func (k FailureKind) String() string {
	switch k {
	case AuthRejected:
		return "AuthRejected"
	case AuthBadResponse:
		return "AuthBadResponse"
	case AuthTokenMissing:
		return "AuthTokenMissing"
	case AuthTransport:
		return "AuthTransport"
	default:
		return "Unknown"
	}
}

// FetchError is the failure half of the fetch's sum-typed result.
type FetchError struct {
	Kind       FailureKind
	StatusCode int    // set for AuthRejected
	Path       string // set for AuthTokenMissing
	Detail     string // set for AuthTransport / AuthBadResponse
	Cause      error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case AuthRejected:
		return fmt.Sprintf("tokenfetch: rejected with status %d", e.StatusCode)
	case AuthBadResponse:
		return fmt.Sprintf("tokenfetch: bad response: %s", e.Detail)
	case AuthTokenMissing:
		return fmt.Sprintf("tokenfetch: token path %q not found in response", e.Path)
	case AuthTransport:
		return fmt.Sprintf("tokenfetch: transport failure: %s", e.Detail)
	default:
		return "tokenfetch: unknown failure"
	}
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Spec describes how to obtain a bearer token: the preflight request and
// where to find the token in its JSON response.
type Spec struct {
	URL              string
	Method           string // defaults to POST when empty
	Headers          map[string]string
	Body             []byte
	ContentType      string
	TokenPath        string // dot-separated JSON path, e.g. "data.token"
	HeaderName       string // header the caller should inject the token under
	HeaderPrefix     string // e.g. "Bearer "
	InsecureTLS      bool
	MaxRetries       int           // 0 disables retry
	InitialBackoff   time.Duration // defaults to 200ms when zero
}

// Result is the successful half of the fetch's sum-typed result: the
// fully-formed header name and value ready for injection on every request.
type Result struct {
	HeaderName  string
	HeaderValue string
}

// Fetch performs the preflight call and extracts the token. Transport
// failures are retried with exponential backoff, up to MaxRetries attempts,
// via github.com/cenkalti/backoff/v4; non-transport failures (rejection,
// bad body, missing path) are not retried since another attempt would fail
// identically.
func Fetch(ctx context.Context, spec Spec) (Result, *FetchError) {
	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: spec.InsecureTLS}, //nolint:gosec // explicit opt-in via Spec.InsecureTLS
		},
	}

	var body []byte
	resp, transportErr := doWithRetry(ctx, spec, method, client)
	if transportErr != nil {
		return Result{}, transportErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &FetchError{Kind: AuthRejected, StatusCode: resp.StatusCode}
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return Result{}, &FetchError{Kind: AuthBadResponse, Detail: err.Error(), Cause: err}
	}
	body = buf.Bytes()

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{}, &FetchError{Kind: AuthBadResponse, Detail: err.Error(), Cause: err}
	}

	token, err := walkPath(doc, spec.TokenPath)
	if err != nil {
		return Result{}, &FetchError{Kind: AuthTokenMissing, Path: spec.TokenPath, Cause: err}
	}

	return Result{
		HeaderName:  spec.HeaderName,
		HeaderValue: spec.HeaderPrefix + token,
	}, nil
}

func doWithRetry(ctx context.Context, spec Spec, method string, client *http.Client) (*http.Response, *FetchError) {
	initial := spec.InitialBackoff
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(spec.MaxRetries)), ctx)

	var resp *http.Response
	var lastErr error

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, spec.URL, bytes.NewReader(spec.Body))
		if err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}
		for k, v := range spec.Headers {
			req.Header.Set(k, v)
		}
		if spec.ContentType != "" && len(spec.Body) > 0 {
			req.Header.Set("Content-Type", spec.ContentType)
		}

		r, doErr := client.Do(req)
		if doErr != nil {
			lastErr = doErr
			return doErr
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, &FetchError{Kind: AuthTransport, Detail: lastErr.Error(), Cause: lastErr}
	}
	return resp, nil
}

var errPathSegmentMissing = errors.New("tokenfetch: path segment not found")

// walkPath walks dot-separated object keys from the root of doc and returns
// the string form of the value found there. A raw JSON string is returned
// unquoted; any other JSON value is returned in its literal text form.
func walkPath(doc any, path string) (string, error) {
	segments := strings.Split(path, ".")
	current := doc
	for _, seg := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return "", errPathSegmentMissing
		}
		val, ok := obj[seg]
		if !ok {
			return "", errPathSegmentMissing
		}
		current = val
	}

	switch v := current.(type) {
	case string:
		return v, nil
	case nil:
		return "", errPathSegmentMissing
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}
