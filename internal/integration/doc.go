// Package integration provides integration tests using testcontainers.
// These tests require Docker to be running and exercise the directory
// connection manager, enumeration scheduler, and status server against a
// real OpenLDAP container.
//
// Run with: go test -tags=integration ./internal/integration/...
package integration
