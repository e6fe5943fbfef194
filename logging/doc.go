// Package logging provides a minimal logging interface and adapters for agencymesh.
//
// The Logger interface defines the logging methods (Debug, Info, Warn, Error)
// that agents and agencies use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping a zap sugared logger
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger, err := logging.NewZapLogger(logging.LogLevelInfo, "json")
//	if err != nil { ... }
//	ag, err := agency.New(chart, func(o *agency.Options) { o.Logger = logger })
package logging
