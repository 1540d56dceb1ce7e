package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/thoreinstein/snap/internal/snapshot"
)

var (
	listJSON    bool
	listBackups string
)

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().StringVar(&listBackups, "backups", "", "list backups of this file instead of archives")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list [dir]",
	Short: "List archives or backups",
	Long: `List archives, newest first.

Without an argument the configured archive directory is listed. With
--backups, the backups of one file are listed instead.`,
	Example: `  # List archives
  snap list

  # List archives in another directory, as JSON
  snap list /mnt/old-archives --json

  # List backups of a file
  snap list --backups ~/.zshrc

  See Also:
    snap archive - Create an archive
    snap backup  - Back up a file`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	var snaps []*snapshot.Snapshot
	if listBackups != "" {
		if len(args) > 0 {
			return errors.New("--backups takes no directory argument")
		}
		snaps, err = eng.ListBackups(listBackups)
	} else {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		snaps, err = eng.ListSnapshots(dir)
	}
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if listJSON {
		return outputListJSON(w, snaps)
	}
	return outputListTabular(w, snaps)
}

func outputListJSON(w io.Writer, snaps []*snapshot.Snapshot) error {
	if snaps == nil {
		snaps = []*snapshot.Snapshot{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(snaps), "encoding snapshots")
}

func outputListTabular(w io.Writer, snaps []*snapshot.Snapshot) error {
	if len(snaps) == 0 {
		if !quiet {
			fmt.Fprintln(w, "No snapshots found")
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
		colorHeader.Sprint("NAME"),
		colorHeader.Sprint("CREATED"),
		colorHeader.Sprint("TYPE"),
		colorHeader.Sprint("VERIFIED"))

	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			s.Name,
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			snapshotType(s),
			verifiedLabel(s.Verification))
	}
	return errors.Wrap(tw.Flush(), "writing table")
}

func snapshotType(s *snapshot.Snapshot) string {
	switch {
	case s.Kind == snapshot.KindBackup:
		return "backup"
	case s.IsIncremental:
		return "incremental"
	default:
		return "full"
	}
}

func verifiedLabel(v *snapshot.VerificationStatus) string {
	switch {
	case v == nil:
		return colorMuted.Sprint("-")
	case !v.IsVerified:
		return colorFailed.Sprint("failed")
	case v.ChecksumsVerified:
		return colorCreated.Sprint("ok")
	default:
		return colorCreated.Sprint("structure")
	}
}
