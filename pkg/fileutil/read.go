package fileutil

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// MaxManifestSize bounds sidecar manifest reads. Manifests grow with the
// number of archived entries.
const MaxManifestSize = 64 << 20

// ErrFileTooLarge marks reads refused by ReadFileLimit. The text avoids the
// phrases used to recognise out-of-space errors.
var ErrFileTooLarge = errors.New("exceeds read limit")

// ReadFileLimit reads the whole file at path, refusing files larger than
// limit bytes. Open errors are returned unwrapped so callers can classify
// them with errors.Is(err, fs.ErrNotExist).
func ReadFileLimit(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() > limit {
		return nil, errors.Wrapf(ErrFileTooLarge, "%s is %d bytes, over %d", path, info.Size(), limit)
	}

	// One extra byte detects files that grew after Stat.
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if int64(len(data)) > limit {
		return nil, errors.Wrapf(ErrFileTooLarge, "%s grew past %d bytes", path, limit)
	}
	return data, nil
}
