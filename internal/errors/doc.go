// Package errors provides the classified error taxonomy for the snap engine.
//
// Every archive, backup, and verification operation returns a single
// [*Error] carrying the [Kind] of failure, the operation name, and the path
// involved. Callers map errors to process exit codes with [ExitCode] and
// inspect them with [KindOf] or [errors.As]:
//
//	out, err := eng.CreateArchive(ctx, dir, engine.ArchiveOptions{})
//	if snaperrors.KindOf(err) == snaperrors.KindDiskFull {
//	    // free some space and retry
//	}
//
// # Classification
//
// [Classify] converts an arbitrary error from the filesystem or the context
// package into a classified error. Context cancellation and deadline expiry
// become [KindCancelled]; missing paths become [KindNotFound]; permission
// failures become [KindPermissionDenied]. Out-of-space conditions are
// detected both from typed errno values and from a set of case-insensitive
// substrings, since platforms do not always report a typed error.
//
// # Exit Codes
//
// The package defines standard exit codes for CLI applications:
//
//   - ExitSuccess (0): Command completed successfully
//   - ExitUser (1): User-related error (invalid input, configuration, etc.)
//   - ExitSystem (2): System-related error (I/O, permissions, corruption, etc.)
//
// # ExitError
//
// [ExitError] wraps an underlying error with an exit code and optional
// suggestion for CLI applications.
package errors
