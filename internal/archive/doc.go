// Package archive builds full and incremental zip snapshots of a directory.
//
// A Builder walks the source tree, skips excluded paths, and streams every
// file leaf into a zip container staged next to its final location. Before
// writing, the newest full archive of the same source is extracted to a
// scratch directory and compared with the source; an identical tree yields
// a StatusIdentical outcome and nothing is written.
//
// The sidecar manifest is committed first and the container second, so an
// archive that is visible on disk always has its manifest. Any failure,
// cancellation, or panic before the container rename leaves no new artifact
// behind; temporary files are owned by a per-call resource.Manager.
package archive
