package corrupt

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Zip record signatures and fixed lengths, from the PKWARE APPNOTE.
const (
	sigLocal      = 0x04034b50
	sigCentral    = 0x02014b50
	sigEnd        = 0x06054b50
	sigDescriptor = 0x08074b50

	localLen   = 30
	centralLen = 46
	endLen     = 22

	flagDescriptor = 0x8
	maxCommentLen  = 1<<16 - 1
)

// entry is one central directory record and the local header it points to.
type entry struct {
	cdOffset    int64
	name        []byte
	flags       uint16
	method      uint16
	crc         uint32
	compSize    int64
	localOffset int64
}

// layout is the parsed structure of an intact zip file.
type layout struct {
	size       int64
	eocd       int64
	cdOffset   int64
	cdSize     int64
	commentLen int
	entries    []entry
}

func le16(b []byte, off int64) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
func le32(b []byte, off int64) uint32 { return binary.LittleEndian.Uint32(b[off:]) }

// findEnd returns the offset of the last end of central directory
// signature, or -1.
func findEnd(data []byte) int64 {
	last := int64(len(data)) - endLen
	stop := max(last-maxCommentLen, 0)
	for p := last; p >= stop; p-- {
		if le32(data, p) == sigEnd {
			return p
		}
	}
	return -1
}

// parseLayout parses an undamaged zip file. It is used to locate regions
// before injection, so any inconsistency is an error.
func parseLayout(data []byte) (*layout, error) {
	p := findEnd(data)
	if p < 0 {
		return nil, errors.New("end of central directory not found")
	}
	l := &layout{
		size:       int64(len(data)),
		eocd:       p,
		cdSize:     int64(le32(data, p+12)),
		cdOffset:   int64(le32(data, p+16)),
		commentLen: int(le16(data, p+20)),
	}
	if p+endLen+int64(l.commentLen) != l.size {
		return nil, errors.New("archive comment length does not match file size")
	}
	if l.cdOffset+l.cdSize > p {
		return nil, errors.New("central directory overlaps end record")
	}

	count := int(le16(data, p+10))
	off := l.cdOffset
	for i := 0; i < count; i++ {
		if off+centralLen > p || le32(data, off) != sigCentral {
			return nil, errors.Newf("central directory record %d is damaged", i)
		}
		nameLen := int64(le16(data, off+28))
		extraLen := int64(le16(data, off+30))
		commentLen := int64(le16(data, off+32))
		e := entry{
			cdOffset:    off,
			flags:       le16(data, off+8),
			method:      le16(data, off+10),
			crc:         le32(data, off+16),
			compSize:    int64(le32(data, off+20)),
			localOffset: int64(le32(data, off+42)),
		}
		if off+centralLen+nameLen > p {
			return nil, errors.Newf("central directory record %d overruns", i)
		}
		e.name = data[off+centralLen : off+centralLen+nameLen]
		if e.localOffset+localLen > l.cdOffset || le32(data, e.localOffset) != sigLocal {
			return nil, errors.Newf("local header of %q is damaged", e.name)
		}
		l.entries = append(l.entries, e)
		off += centralLen + nameLen + extraLen + commentLen
	}
	return l, nil
}

// dataOffset returns where the entry's compressed bytes start.
func (e entry) dataOffset(data []byte) int64 {
	nameLen := int64(le16(data, e.localOffset+26))
	extraLen := int64(le16(data, e.localOffset+28))
	return e.localOffset + localLen + nameLen + extraLen
}

// region returns the absolute [start, start+length) span targeted by t.
func (l *layout) region(data []byte, t Type) (start, length int64, err error) {
	needEntry := func() error {
		if len(l.entries) == 0 {
			return errors.Newf("archive has no entries to damage for %s", t)
		}
		return nil
	}

	switch t {
	case TypeChecksum:
		if err := needEntry(); err != nil {
			return 0, 0, err
		}
		return l.entries[0].cdOffset + 16, 4, nil
	case TypeEntryHeader:
		if err := needEntry(); err != nil {
			return 0, 0, err
		}
		e := l.entries[0]
		if len(e.name) == 0 {
			return 0, 0, errors.New("first entry has an empty name")
		}
		return e.cdOffset + centralLen, int64(len(e.name)), nil
	case TypeCentralDirectory:
		if err := needEntry(); err != nil {
			return 0, 0, err
		}
		return l.entries[0].cdOffset, 4, nil
	case TypeLocalHeader:
		if err := needEntry(); err != nil {
			return 0, 0, err
		}
		return l.entries[0].localOffset, 4, nil
	case TypePayload:
		for _, e := range l.entries {
			if e.compSize > 0 {
				return e.dataOffset(data), e.compSize, nil
			}
		}
		return 0, 0, errors.New("archive has no entry with data")
	case TypeSignature:
		return l.eocd, 4, nil
	case TypeComment:
		if l.commentLen == 0 {
			return 0, 0, errors.New("archive has no comment")
		}
		return l.eocd + endLen, int64(l.commentLen), nil
	case TypeTruncation:
		return 0, l.size, nil
	default:
		return 0, 0, errors.Newf("unknown corruption type %q", t)
	}
}
