// Package options documents the daemon's configuration surface.
//
// Configuration sources are processed in priority order: command-line flags,
// environment variables, .env files (.env.local, .env), then built-in
// defaults. See Parse for the full list of recognized keys; ValidationError
// is returned for any malformed or missing required value.
package options
