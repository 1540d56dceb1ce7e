package commands

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ktr0731/go-fuzzyfinder"

	"github.com/thoreinstein/snap/internal/snapshot"
)

// pickSnapshot lets the user choose one snapshot. It returns nil when the
// user aborts.
func pickSnapshot(snaps []*snapshot.Snapshot) (*snapshot.Snapshot, error) {
	idx, err := fuzzyfinder.Find(
		snaps,
		func(i int) string {
			return snaps[i].Name
		},
		fuzzyfinder.WithPreviewWindow(func(i, _, _ int) string {
			if i == -1 {
				return ""
			}
			return describeSnapshot(snaps[i])
		}),
	)
	if err != nil {
		if errors.Is(err, fuzzyfinder.ErrAbort) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "interactive selection failed")
	}
	return snaps[idx], nil
}

// describeSnapshot renders the preview pane for s.
func describeSnapshot(s *snapshot.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name:    %s\n", s.Name)
	fmt.Fprintf(&b, "Created: %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Type:    %s\n", snapshotType(s))
	if s.Source != "" {
		fmt.Fprintf(&b, "Source:  %s\n", s.Source)
	}
	if s.Branch != "" {
		fmt.Fprintf(&b, "Git:     %s @ %s\n", s.Branch, s.Hash)
	}
	if s.Note != "" {
		fmt.Fprintf(&b, "Note:    %s\n", s.Note)
	}
	if s.IsIncremental {
		fmt.Fprintf(&b, "Base:    %s\n", s.BaseSnapshot)
	}
	if v := s.Verification; v != nil {
		state := "failed"
		if v.IsVerified {
			state = "ok"
		}
		fmt.Fprintf(&b, "\nLast verified %s: %s\n", v.VerifiedAt.Local().Format("2006-01-02 15:04"), state)
		for _, e := range v.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}
	return b.String()
}
