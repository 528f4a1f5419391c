/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

// Unit is a single component of a service with its own start/stop lifecycle,
// for example an HTTP server or a background worker.
type Unit interface {
	// Start begins the unit's operation.
	//
	// An implementation may do its initialization and return immediately,
	// or block the calling goroutine for the unit's whole lifetime.
	// On the happy path nothing is written to the provided channel;
	// a failure to start or a fatal runtime error is reported there.
	// The channel must not be written to after Start has returned.
	Start(fatalErr chan<- error)

	// Stop halts the unit.
	//
	// If gracefully is true, the unit should finish the work it has in progress first.
	// Stop may be called even if Start has failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is an interface for objects that can register its own metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
