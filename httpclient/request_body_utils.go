/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/acronis/go-apipacer/log"
)

// rewindRequestBodyFunc restores a request body to its initial state before a retry attempt.
type rewindRequestBodyFunc func(*http.Request) error

// makeRequestBodyRewindable prepares a request body for potential retries.
// The returned function is called before every attempt, including the first one.
//
// Strategy (in order of preference):
// 1) Use http.Request.GetBody when available (avoids buffering and works for large payloads).
// 2) If the Body implements io.ReadSeeker, remember current offset and Seek back on demand (no buffering).
// 3) As a last resort, buffer the entire body in memory and recreate readers for each attempt.
//
// The fallback buffering approach (3) reads the entire request body into memory and is not suitable
// for very large uploads. For sizeable payloads, callers should provide req.GetBody or a seekable Body.
func makeRequestBodyRewindable(req *http.Request) (rewindRequestBodyFunc, error) {
	if req.GetBody != nil {
		return makeGetBodyRewinder(req)
	}
	if seeker, ok := req.Body.(io.ReadSeeker); ok {
		return makeSeekerRewinder(req, seeker)
	}
	return makeBufferingRewinder(req)
}

func makeGetBodyRewinder(req *http.Request) (rewindRequestBodyFunc, error) {
	// Reset the initial body via GetBody so that the first attempt reads from a fresh reader too.
	initialBody, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("get body before doing first request: %w", err)
	}
	req.Body = initialBody
	return func(r *http.Request) error {
		newBody, newBodyErr := r.GetBody()
		if newBodyErr != nil {
			return fmt.Errorf("get body for retry: %w", newBodyErr)
		}
		r.Body = newBody
		return nil
	}, nil
}

func makeSeekerRewinder(req *http.Request, seeker io.ReadSeeker) (rewindRequestBodyFunc, error) {
	initialOffset, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("seek request body before doing first request: %w", err)
	}
	req.Body = io.NopCloser(req.Body)
	return func(r *http.Request) error {
		if _, seekErr := seeker.Seek(initialOffset, io.SeekStart); seekErr != nil {
			return fmt.Errorf(
				"seek request body (offset=%d, whence=%d) for retry: %w", initialOffset, io.SeekStart, seekErr)
		}
		return nil
	}, nil
}

func makeBufferingRewinder(req *http.Request) (rewindRequestBodyFunc, error) {
	buffered, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read all request body before doing first request: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(buffered))
	return func(r *http.Request) error {
		r.Body = io.NopCloser(bytes.NewReader(buffered))
		return nil
	}, nil
}

// drainResponseBody reads and discards the entire response body to allow connection reuse.
func drainResponseBody(resp *http.Response, logger log.FieldLogger) {
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("failed to close previous response body between retry attempts", log.Error(closeErr))
		}
	}()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		logger.Error("failed to discard previous response body between retry attempts", log.Error(err))
	}
}
