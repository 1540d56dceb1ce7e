package snapshot

import (
	_ "crypto/sha256" // register SHA-256 for go-digest
	_ "crypto/sha512" // register SHA-384 and SHA-512 for go-digest
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/opencontainers/go-digest"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
)

// DefaultAlgorithm is used when no checksum algorithm is configured.
const DefaultAlgorithm = digest.SHA256

// ParseAlgorithm validates a configured checksum algorithm name. An empty
// name selects DefaultAlgorithm.
func ParseAlgorithm(name string) (digest.Algorithm, error) {
	if name == "" {
		return DefaultAlgorithm, nil
	}
	alg := digest.Algorithm(strings.ToLower(name))
	if !alg.Available() {
		return "", snaperrors.E(snaperrors.KindConfig, "checksum_algorithm", "", errors.Newf("unsupported checksum algorithm %q", name))
	}
	return alg, nil
}
