package backup

import (
	"path/filepath"
	"strings"
)

// MirrorDir returns the directory under backupDir that holds backups of
// source. The source's directory relative to sourceRoot is mirrored; a source
// outside sourceRoot mirrors its absolute directory with the volume and
// leading separator removed. Both source and sourceRoot must be absolute.
func MirrorDir(backupDir, sourceRoot, source string) string {
	dir := filepath.Dir(source)
	if sourceRoot != "" {
		if rel, err := filepath.Rel(sourceRoot, dir); err == nil && filepath.IsLocal(rel) {
			return filepath.Join(backupDir, rel)
		}
	}
	return filepath.Join(backupDir, relFromRoot(dir))
}

// relFromRoot turns an absolute path into a relative one. Volume names lose
// their colon so "C:\Users" becomes "C\Users".
func relFromRoot(abs string) string {
	clean := filepath.Clean(abs)
	if vol := filepath.VolumeName(clean); vol != "" {
		clean = strings.ReplaceAll(vol, ":", "") + clean[len(vol):]
	}
	return strings.TrimLeft(clean, string(filepath.Separator))
}
