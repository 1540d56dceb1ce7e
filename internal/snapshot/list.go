package snapshot

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
)

type listed struct {
	snap *Snapshot
	seq  int
}

func sortNewestFirst(items []listed) []*Snapshot {
	slices.SortStableFunc(items, func(a, b listed) int {
		if c := b.snap.CreatedAt.Compare(a.snap.CreatedAt); c != 0 {
			return c
		}
		if a.seq != b.seq {
			return b.seq - a.seq
		}
		return strings.Compare(b.snap.Name, a.snap.Name)
	})
	out := make([]*Snapshot, len(items))
	for i, it := range items {
		out[i] = it.snap
	}
	return out
}

// ListSnapshots returns the archives in dir, newest first. A missing
// directory yields an empty list. Files whose names do not parse are
// skipped. Metadata comes from the sidecar manifest when present and from
// the name otherwise.
func ListSnapshots(dir string) ([]*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, snaperrors.Classify("snapshot.list", dir, err)
	}

	var items []listed
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		parts, err := ParseArchiveName(e.Name())
		if err != nil {
			continue
		}

		path := filepath.Join(dir, e.Name())
		var snap *Snapshot
		if m, err := ReadManifest(path); err == nil {
			snap = m.Snapshot(path)
			snap.Name = e.Name()
		} else {
			snap = &Snapshot{
				Name:          e.Name(),
				Path:          path,
				Kind:          KindArchive,
				CreatedAt:     parts.Time,
				Prefix:        parts.Prefix,
				Branch:        parts.Branch,
				Hash:          parts.Hash,
				Note:          parts.Note,
				IsIncremental: parts.Base != "",
				BaseSnapshot:  parts.Base,
			}
		}
		items = append(items, listed{snap: snap, seq: parts.Seq})
	}
	return sortNewestFirst(items), nil
}

// LatestFull returns the newest full archive in dir that was made from
// source, or nil when there is none. Archives without a recorded source
// match on prefix.
func LatestFull(dir, source, prefix string) (*Snapshot, error) {
	snaps, err := ListSnapshots(dir)
	if err != nil {
		return nil, err
	}
	for _, s := range snaps {
		if s.IsIncremental {
			continue
		}
		if s.Source != "" {
			if s.Source == source {
				return s, nil
			}
			continue
		}
		if s.Prefix == Sanitize(prefix) {
			return s, nil
		}
	}
	return nil, nil
}

// ListBackups returns the backups of source stored in dir, newest first.
func ListBackups(dir, source string) ([]*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, snaperrors.Classify("snapshot.list", dir, err)
	}

	var items []listed
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		parts, ok := ParseBackupName(source, e.Name())
		if !ok {
			continue
		}
		items = append(items, listed{
			snap: &Snapshot{
				Name:      e.Name(),
				Path:      filepath.Join(dir, e.Name()),
				Kind:      KindBackup,
				CreatedAt: parts.Time,
				Source:    source,
				Note:      parts.Note,
			},
			seq: parts.Seq,
		})
	}
	return sortNewestFirst(items), nil
}

// NextFreeName returns the first name produced by build, trying sequence
// numbers 0, 2, 3, and so on, that does not already exist in dir.
func NextFreeName(dir string, build func(seq int) string) (string, error) {
	for seq := 0; ; seq++ {
		if seq == 1 {
			continue
		}
		name := build(seq)
		taken, err := exists(filepath.Join(dir, name))
		if err != nil {
			return "", snaperrors.Classify("snapshot.name", filepath.Join(dir, name), err)
		}
		if !taken {
			return name, nil
		}
	}
}
