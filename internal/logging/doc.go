// Package logging builds the slog loggers used by the snap CLI and engine.
//
// Text output goes through [Handler], which renders one line per record and
// lifts the "op" and "op_id" attributes into a tag in front of the message:
//
//	10:30:00 INFO  [archive.create 1f0c9a2e] archive created path=/a.zip
//
// Builders tag each call with [WithOp]. The CLI uses [NewMultiHandler] to
// also write JSON to --log-file, and carries the logger on the command
// context with [NewContext] and [FromContext].
//
// Tests use [ForTest], which routes output through t.Log; components that
// were not given a logger use [NewDiscard].
package logging
