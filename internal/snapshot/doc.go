// Package snapshot defines the artifacts produced by the archive and backup
// builders: the Snapshot model, the file-name scheme that encodes prefix,
// timestamp, revision and note, the sidecar manifest that carries per-entry
// digests and verification results, and directory listing.
//
// # Names
//
// Full archives are named
//
//	[prefix-]2006-01-02_15-04[=branch=hash][=note].zip
//
// and incremental archives append to the name of the full archive they
// extend:
//
//	<base>_update=2006-01-02_15-04[=branch=hash][=note].zip
//
// A second snapshot created within the same minute gets a "_N" sequence
// suffix on its timestamp. Backups of a single file are named
//
//	<stem>=2006-01-02_15-04[=note]<ext>
//
// # Manifest
//
// Every archive has a sidecar "<archive>.manifest.json". The manifest is
// renamed into place before the archive, so an archive on disk always has
// its manifest.
package snapshot
