package snapshot

import (
	"fmt"
	"hash/crc32"
	"strings"
)

const (
	commentPrefix = "snap archive "
	commentTag    = " crc32:"
)

// ArchiveComment returns the container comment for an archive named name.
// The comment carries a CRC of its own text so damage to it is detectable.
func ArchiveComment(name string) string {
	body := commentPrefix + name
	return fmt.Sprintf("%s%s%08x", body, commentTag, crc32.ChecksumIEEE([]byte(body)))
}

// ValidComment reports whether comment is an intact archive comment.
func ValidComment(comment string) bool {
	i := strings.LastIndex(comment, commentTag)
	if i < 0 || !strings.HasPrefix(comment, commentPrefix) {
		return false
	}
	body, sum := comment[:i], comment[i+len(commentTag):]
	return sum == fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(body)))
}
