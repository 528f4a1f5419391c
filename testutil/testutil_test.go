/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import "fmt"

// MockT records failures of the assertion helpers instead of failing a real test.
type MockT struct {
	Failed  bool
	LastErr string
}

func (t *MockT) FailNow() {
	t.Failed = true
}

func (t *MockT) Errorf(format string, args ...interface{}) {
	t.LastErr = fmt.Sprintf(format, args...)
}
