// Package paths resolves the per-user directories snap reads and writes.
//
// The package wraps github.com/adrg/xdg for cross-platform XDG Base Directory
// Specification compliance. Defaults:
//
//	| Purpose  | Location                      |
//	|----------|-------------------------------|
//	| Config   | <ConfigHome>/snap/config.yaml |
//	| Archives | <DataHome>/snap/archives/     |
//	| Backups  | <DataHome>/snap/backups/      |
//
// SNAP_CONFIG_DIR replaces the config directory, which keeps tests away
// from the real user configuration.
package paths
