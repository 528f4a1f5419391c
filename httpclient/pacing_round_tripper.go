/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-apipacer/pacer"
)

// PacingRoundTripperOpts represents an options for PacingRoundTripper.
type PacingRoundTripperOpts struct {
	// BypassPaths contains glob patterns ("*" matches any sequence of non-separator characters)
	// for URL paths that should be sent directly, without going through the pacing queue.
	// Typical candidates are health checks and other cheap endpoints.
	BypassPaths []string
}

// PacingRoundTripper wraps an object that implements http.RoundTripper interface
// and routes outgoing requests through the pacing engine.
//
// Each request is submitted to the engine and executed by its worker in FIFO order
// with an adaptive delay between calls (see the pacer package for details).
// RoundTrip blocks until the paced call finishes or the request's context is done.
// In the latter case the queued request is cancelled and will never be sent.
type PacingRoundTripper struct {
	Delegate http.RoundTripper
	Engine   *pacer.Engine

	bypassMatchers []func(s string) bool
}

// NewPacingRoundTripper creates a new PacingRoundTripper with the given pacing engine.
func NewPacingRoundTripper(delegate http.RoundTripper, engine *pacer.Engine) (*PacingRoundTripper, error) {
	return NewPacingRoundTripperWithOpts(delegate, engine, PacingRoundTripperOpts{})
}

// NewPacingRoundTripperWithOpts creates a new PacingRoundTripper with the given pacing engine and options.
func NewPacingRoundTripperWithOpts(
	delegate http.RoundTripper, engine *pacer.Engine, opts PacingRoundTripperOpts,
) (*PacingRoundTripper, error) {
	if engine == nil {
		return nil, fmt.Errorf("pacing engine must be provided")
	}
	matchers := make([]func(s string) bool, 0, len(opts.BypassPaths))
	for _, pattern := range opts.BypassPaths {
		matchers = append(matchers, glob.Compile(pattern))
	}
	return &PacingRoundTripper{
		Delegate:       delegate,
		Engine:         engine,
		bypassMatchers: matchers,
	}, nil
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *PacingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if rt.shouldBypass(r) {
		return rt.Delegate.RoundTrip(r)
	}

	type callResult struct {
		resp *http.Response
		err  error
	}
	resultCh := make(chan callResult, 1)
	reqCtx := r.Context()

	reqID, submitErr := rt.Engine.Submit(func(callCtx context.Context) error {
		// The call's context is cancelled when the engine is forcefully shut down,
		// the request's own context when the caller gives up. Both must abort the transaction.
		mergedCtx, cancelMerged := context.WithCancel(reqCtx)
		defer cancelMerged()
		go func() {
			select {
			case <-callCtx.Done():
				cancelMerged()
			case <-mergedCtx.Done():
			}
		}()

		resp, respErr := rt.Delegate.RoundTrip(r.WithContext(mergedCtx))
		resultCh <- callResult{resp, respErr}
		return respErr
	})
	if submitErr != nil {
		if r.Body != nil {
			_ = r.Body.Close() // Per RoundTripper contract.
		}
		return nil, &PacingWaitError{Inner: submitErr}
	}

	select {
	case res := <-resultCh:
		return res.resp, res.err
	case <-reqCtx.Done():
		if rt.Engine.Cancel(reqID) {
			if r.Body != nil {
				_ = r.Body.Close() // Per RoundTripper contract.
			}
		} else {
			// The call is already running or finished, reap its result to release the response body.
			go func() {
				if res := <-resultCh; res.resp != nil {
					_ = res.resp.Body.Close()
				}
			}()
		}
		return nil, &PacingWaitError{Inner: reqCtx.Err()}
	}
}

func (rt *PacingRoundTripper) shouldBypass(r *http.Request) bool {
	for _, match := range rt.bypassMatchers {
		if match(r.URL.Path) {
			return true
		}
	}
	return false
}

// PacingWaitError is returned in RoundTrip method of PacingRoundTripper when the request
// cannot be executed by the pacing engine: the engine is shut down, or the request's context
// is done before the paced call finishes.
type PacingWaitError struct {
	Inner error
}

func (e *PacingWaitError) Error() string {
	return fmt.Sprintf("wait due to client side pacing: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *PacingWaitError) Unwrap() error {
	return e.Inner
}
