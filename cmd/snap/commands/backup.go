package commands

import (
	"github.com/spf13/cobra"

	snaperrors "github.com/thoreinstein/snap/internal/errors"
)

var backupNote string

func init() {
	backupCmd.Flags().StringVarP(&backupNote, "note", "n", "", "free text embedded in the backup name")
	rootCmd.AddCommand(backupCmd)
}

var backupCmd = &cobra.Command{
	Use:   "backup <file>",
	Short: "Back up a single file",
	Long: `Copy a file into the backup directory under a timestamped name.

Backups mirror the file's directory relative to the configured source root
(default: the working directory), and keep its permissions and modification
time. Nothing is written when the file matches its latest backup.`,
	Example: `  # Back up a file
  snap backup notes.txt

  # With a note
  snap backup ~/.zshrc --note "before plugin change"

  See Also:
    snap list --backups <file> - List backups of a file`,
	Args: cobra.ExactArgs(1),
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	out, err := eng.CreateBackup(cmd.Context(), args[0], backupNote)
	if err != nil {
		return err
	}
	printOutcome(cmd.OutOrStdout(), out)

	if code := eng.ExitCode(out, nil); code != snaperrors.ExitSuccess {
		return snaperrors.NewExitError(nil, code)
	}
	return nil
}
