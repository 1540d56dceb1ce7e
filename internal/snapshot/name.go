package snapshot

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// TimestampLayout is the minute-resolution timestamp embedded in names.
const TimestampLayout = "2006-01-02_15-04"

// Ext is the archive file extension.
const Ext = ".zip"

const updateMarker = "_update="

var (
	unsafeNameChars = regexp.MustCompile(`[=/\\\s]+`)

	tsPattern   = `(\d{4}-\d{2}-\d{2}_\d{2}-\d{2})(?:_(\d+))?`
	fullStem    = regexp.MustCompile(`^(?:([^=]+)-)?` + tsPattern + `((?:=[^=]*)*)$`)
	updateStem  = regexp.MustCompile(`^` + tsPattern + `((?:=[^=]*)*)$`)
	backupInner = regexp.MustCompile(`^` + tsPattern + `(?:=([^=.]*))?$`)
)

// ErrUnrecognizedName is returned when a file name does not follow the
// snapshot naming scheme.
var ErrUnrecognizedName = errors.New("unrecognized snapshot name")

// NameParts are the fields encoded in a snapshot file name.
type NameParts struct {
	Prefix string

	// Time is the creation time truncated to the minute.
	Time time.Time

	// Seq disambiguates snapshots created in the same minute. Zero means
	// no suffix; otherwise it is 2 or greater.
	Seq int

	Branch string
	Hash   string
	Note   string

	// Base is the full archive name an incremental archive extends.
	Base string
}

// Sanitize replaces characters that would break name parsing ("=", path
// separators, whitespace runs) with "-".
func Sanitize(s string) string {
	return unsafeNameChars.ReplaceAllString(strings.TrimSpace(s), "-")
}

func timestamp(t time.Time, seq int) string {
	ts := t.In(time.Local).Format(TimestampLayout)
	if seq > 1 {
		ts += "_" + strconv.Itoa(seq)
	}
	return ts
}

func (p NameParts) revisionAndNote() string {
	var b strings.Builder
	branch, hash := Sanitize(p.Branch), Sanitize(p.Hash)
	if branch != "" && hash != "" {
		b.WriteString("=" + branch + "=" + hash)
	}
	if note := Sanitize(p.Note); note != "" {
		b.WriteString("=" + note)
	}
	return b.String()
}

// ArchiveName assembles the archive file name.
func (p NameParts) ArchiveName() string {
	var b strings.Builder
	switch {
	case p.Base != "":
		b.WriteString(strings.TrimSuffix(p.Base, Ext))
		b.WriteString(updateMarker)
	case p.Prefix != "":
		b.WriteString(Sanitize(p.Prefix))
		b.WriteByte('-')
	}
	b.WriteString(timestamp(p.Time, p.Seq))
	b.WriteString(p.revisionAndNote())
	b.WriteString(Ext)
	return b.String()
}

// ParseArchiveName is the inverse of ArchiveName.
func ParseArchiveName(name string) (NameParts, error) {
	stem, ok := strings.CutSuffix(name, Ext)
	if !ok {
		return NameParts{}, errors.Wrapf(ErrUnrecognizedName, "%q", name)
	}

	if i := strings.LastIndex(stem, updateMarker); i >= 0 {
		m := updateStem.FindStringSubmatch(stem[i+len(updateMarker):])
		if m == nil {
			return NameParts{}, errors.Wrapf(ErrUnrecognizedName, "%q", name)
		}
		p := NameParts{Base: stem[:i] + Ext}
		if base, err := ParseArchiveName(p.Base); err == nil {
			p.Prefix = base.Prefix
		}
		if err := p.fill(m[1], m[2], m[3]); err != nil {
			return NameParts{}, errors.Wrapf(err, "%q", name)
		}
		return p, nil
	}

	m := fullStem.FindStringSubmatch(stem)
	if m == nil {
		return NameParts{}, errors.Wrapf(ErrUnrecognizedName, "%q", name)
	}
	p := NameParts{Prefix: m[1]}
	if err := p.fill(m[2], m[3], m[4]); err != nil {
		return NameParts{}, errors.Wrapf(err, "%q", name)
	}
	return p, nil
}

func (p *NameParts) fill(ts, seq, rest string) error {
	t, err := time.ParseInLocation(TimestampLayout, ts, time.Local)
	if err != nil {
		return errors.Wrap(ErrUnrecognizedName, err.Error())
	}
	p.Time = t
	if seq != "" {
		p.Seq, _ = strconv.Atoi(seq)
	}

	if rest == "" {
		return nil
	}
	segs := strings.Split(rest[1:], "=")
	switch len(segs) {
	case 1:
		p.Note = segs[0]
	case 2:
		p.Branch, p.Hash = segs[0], segs[1]
	case 3:
		p.Branch, p.Hash, p.Note = segs[0], segs[1], segs[2]
	default:
		return errors.Wrapf(ErrUnrecognizedName, "%d trailing segments", len(segs))
	}
	return nil
}

// splitSource splits a file name into stem and extension. Dotfiles such as
// ".bashrc" have no extension.
func splitSource(source string) (stem, ext string) {
	base := filepath.Base(source)
	ext = filepath.Ext(base)
	stem = strings.TrimSuffix(base, ext)
	if stem == "" {
		return base, ""
	}
	return stem, ext
}

// backupNote sanitizes note for a backup name. Dots are replaced too, so a
// note can never look like an extension: "notes=TS=v1.txt" must not parse as
// a backup of "notes".
func backupNote(note string) string {
	return strings.ReplaceAll(Sanitize(note), ".", "-")
}

// BackupName assembles the backup file name for source.
func BackupName(source string, t time.Time, seq int, note string) string {
	stem, ext := splitSource(source)
	name := stem + "=" + timestamp(t, seq)
	if note = backupNote(note); note != "" {
		name += "=" + note
	}
	return name + ext
}

// ParseBackupName parses name as a backup of source. It reports false when
// name is not a backup of source, including backups of a sibling that only
// differs by extension (notes and notes.txt, .bashrc and .bashrc.bak).
func ParseBackupName(source, name string) (NameParts, bool) {
	stem, ext := splitSource(source)
	head := stem + "="
	if len(name) < len(head)+len(ext) || !strings.HasPrefix(name, head) || !strings.HasSuffix(name, ext) {
		return NameParts{}, false
	}
	m := backupInner.FindStringSubmatch(name[len(head) : len(name)-len(ext)])
	if m == nil {
		return NameParts{}, false
	}
	p := NameParts{Prefix: stem, Note: m[3]}
	if err := p.fill(m[1], m[2], ""); err != nil {
		return NameParts{}, false
	}
	return p, true
}
