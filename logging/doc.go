// Package logging provides a minimal logging interface and adapters for handoffmesh.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that the runtime, agents and flows use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping a sugared zap logger
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewZapLogger(logging.LogLevelInfo)
//	r, err := runner.New(runtime.New(), master, participants, func(o *runner.Options) { o.Logger = logger })
package logging
