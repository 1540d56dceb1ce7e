package commands

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/logging"
)

var verifyChecksums bool

// stdinIsTTY reports whether the archive picker can be shown.
var stdinIsTTY = func() bool { return logging.IsTTY(os.Stdin) }

func init() {
	verifyCmd.Flags().BoolVarP(&verifyChecksums, "checksums", "c", false,
		"also recompute every entry's checksum against the manifest")
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify [archive]",
	Short: "Check an archive's integrity",
	Long: `Check that an archive is a readable zip container and, with --checksums,
that every entry matches the checksum recorded when it was created.

Without an argument, an archive is picked interactively when stdin is a
terminal; otherwise the newest archive is checked. Exits non-zero when the
archive fails verification.`,
	Example: `  # Pick an archive and check its structure
  snap verify

  # Full check of a specific archive
  snap verify ~/.local/share/snap/archives/site-2024-01-15_10-30.zip --checksums

  See Also: snap list`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		snaps, err := eng.ListSnapshots("")
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return snaperrors.NewUserError(errors.New("no archives found"), "create one with: snap archive")
		}
		if stdinIsTTY() {
			picked, err := pickSnapshot(snaps)
			if err != nil {
				return err
			}
			if picked == nil {
				return nil
			}
			path = picked.Path
		} else {
			path = snaps[0].Path
		}
	}

	status, err := eng.Verify(cmd.Context(), path, verifyChecksums)
	if err != nil {
		return err
	}
	printVerification(cmd.OutOrStdout(), status)

	if err := status.Err(); err != nil {
		return snaperrors.NewExitError(nil, snaperrors.ExitCode(err))
	}
	return nil
}
