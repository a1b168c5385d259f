// Package pkg provides shared utilities for the DFU driver.
//
// This package contains common functionality used across the descriptor,
// proto, engine, transport, and session packages, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - The structured [Error] type and [ErrorKind] taxonomy used by every
//     exported operation in this driver
//   - Component identifiers for log filtering
//
// The package is designed to have zero external dependencies, relying
// only on the Go standard library.
//
// # Logging
//
// The logging subsystem wraps [log/slog] with driver-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentEngine, "write complete", "bytes", n)
//
// # Errors
//
// Errors are reported as *[Error], classified by [ErrorKind]. A handful of
// kinds have package-level sentinels for use with errors.Is:
//
//	if errors.Is(err, pkg.ErrNotConnected) {
//	    // session is not connected
//	}
package pkg
