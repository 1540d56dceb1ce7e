package commands

import (
	"github.com/spf13/cobra"

	"github.com/thoreinstein/snap/internal/engine"
	snaperrors "github.com/thoreinstein/snap/internal/errors"
)

var (
	archiveNote        string
	archiveIncremental bool
	archiveVerify      bool
)

func init() {
	archiveCmd.Flags().StringVarP(&archiveNote, "note", "n", "", "free text embedded in the archive name")
	archiveCmd.Flags().BoolVarP(&archiveIncremental, "incremental", "i", false,
		"store only files changed since the latest full archive")
	archiveCmd.Flags().BoolVar(&archiveVerify, "verify", false, "verify structure and checksums after writing")
	rootCmd.AddCommand(archiveCmd)
}

var archiveCmd = &cobra.Command{
	Use:   "archive [dir]",
	Short: "Archive a directory",
	Long: `Archive a directory into a zip file in the archive directory.

The archive is named after the directory (or the configured prefix), the
current time, the git branch and commit when the directory is in a git work
tree, and the note. Nothing is written when the directory matches its latest
full archive; snap reports it as unchanged instead.

Files matching the configured exclude patterns are never archived and never
count as changes.`,
	Example: `  # Archive the current directory
  snap archive

  # Archive with a note, then verify
  snap archive ~/src/site --note "before upgrade" --verify

  # Only files modified since the latest full archive
  snap archive --incremental

  See Also:
    snap list   - List archives
    snap verify - Check an archive`,
	Args: cobra.MaximumNArgs(1),
	RunE: runArchive,
}

func runArchive(cmd *cobra.Command, args []string) error {
	source := "."
	if len(args) == 1 {
		source = args[0]
	}

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	out, err := eng.CreateArchive(cmd.Context(), source, engine.ArchiveOptions{
		Note:        archiveNote,
		Incremental: archiveIncremental,
		Verify:      archiveVerify,
	})
	if err != nil {
		return err
	}
	printOutcome(cmd.OutOrStdout(), out)

	if code := eng.ExitCode(out, nil); code != snaperrors.ExitSuccess {
		return snaperrors.NewExitError(nil, code)
	}
	return nil
}
