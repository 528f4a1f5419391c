/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides a log.FieldLogger implementation that records entries,
// so tests can assert what and how was logged. The approach follows httptest
// (https://golang.org/pkg/net/http/httptest) from the Go standard library.
package logtest
