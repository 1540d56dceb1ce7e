package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/snap/cmd"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version information",
	Long:        `Print the version, commit, and build date of snap.`,
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	Run: func(c *cobra.Command, _ []string) {
		b := cmd.Info()
		w := c.OutOrStdout()
		fmt.Fprintf(w, "snap version %s\n", b.Version)
		fmt.Fprintf(w, "  commit: %s\n", b.Commit)
		fmt.Fprintf(w, "  built:  %s\n", b.Date)
	},
}
