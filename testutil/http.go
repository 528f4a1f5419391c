/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/stretchr/testify/require"
)

const contentTypeAppJSON = "application/json"

type apiErrorBody struct {
	Domain string `json:"domain"`
	Code   string `json:"code"`
}

type apiErrorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

// RequireJSONInRecorder asserts that httptest.ResponseRecorder contains JSON equal to want.
// The body is decoded into dest.
func RequireJSONInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, want, dest interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	checkJSONInResponse(t, resp.Header(), resp.Body, want, dest)
}

// RequireJSONInResponse asserts that http.Response contains JSON equal to want.
// The body is decoded into dest.
func RequireJSONInResponse(t require.TestingT, resp *http.Response, want, dest interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	checkJSONInResponse(t, resp.Header, resp.Body, want, dest)
}

func checkJSONInResponse(t require.TestingT, header http.Header, body io.Reader, want, dest interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, contentTypeAppJSON, header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(body).Decode(dest))
	require.Equal(t, want, dest)
}

// RequireErrorInRecorder asserts that httptest.ResponseRecorder contains an API error
// with the wanted HTTP status, domain, and code.
func RequireErrorInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	checkErrorInResponse(t, resp.Code, resp.Header(), resp.Body, wantHTTPCode, wantErrDomain, wantErrCode)
}

// RequireErrorInResponse asserts that http.Response contains an API error
// with the wanted HTTP status, domain, and code.
func RequireErrorInResponse(t require.TestingT, resp *http.Response, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	checkErrorInResponse(t, resp.StatusCode, resp.Header, resp.Body, wantHTTPCode, wantErrDomain, wantErrCode)
}

func checkErrorInResponse(
	t require.TestingT, code int, header http.Header, body io.Reader, wantHTTPCode int, wantErrDomain, wantErrCode string,
) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, wantHTTPCode, code)
	require.Equal(t, contentTypeAppJSON, header.Get("Content-Type"))
	var envelope apiErrorEnvelope
	require.NoError(t, json.NewDecoder(body).Decode(&envelope))
	require.Equal(t, wantErrDomain, envelope.Error.Domain)
	require.Equal(t, wantErrCode, envelope.Error.Code)
}

// RequireEmptyBodyInRecorder asserts that httptest.ResponseRecorder contains no body.
func RequireEmptyBodyInRecorder(t require.TestingT, resp *httptest.ResponseRecorder) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	checkEmptyBody(t, resp.Body)
}

// RequireEmptyBodyInResponse asserts that http.Response contains no body.
func RequireEmptyBodyInResponse(t require.TestingT, resp *http.Response) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	checkEmptyBody(t, resp.Body)
}

func checkEmptyBody(t require.TestingT, body io.Reader) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	bodyBytes, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Empty(t, bodyBytes)
}
