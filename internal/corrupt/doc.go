// Package corrupt injects and detects damage in zip archives.
//
// It exists to exercise the verifier. An Injector mutates one structural
// region of an archive per Config, deterministically in (seed, offset),
// and returns a Record holding the original bytes. Restore, Guard and
// Close put the file back byte for byte; Guard does so even when the
// guarded function panics.
//
// Detect walks the raw zip structure, without the zip reader, and reports
// which Types of damage are present. Signature, central directory and
// truncation damage are fatal: the archive no longer opens. The other types
// are recoverable.
package corrupt
