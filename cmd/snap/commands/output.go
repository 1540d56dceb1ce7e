package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/thoreinstein/snap/internal/snapshot"
)

var (
	colorCreated   = color.New(color.FgGreen, color.Bold)
	colorIdentical = color.New(color.FgYellow)
	colorFailed    = color.New(color.FgRed, color.Bold)
	colorMuted     = color.New(color.FgHiBlack)
	colorHeader    = color.New(color.FgCyan, color.Bold)
)

// printOutcome renders the result of a create operation.
func printOutcome(w io.Writer, out *snapshot.Outcome) {
	if quiet || out == nil {
		return
	}
	switch out.Status {
	case snapshot.StatusIdentical:
		colorIdentical.Fprint(w, "Unchanged")
		fmt.Fprintf(w, ": matches %s\n", out.Path)
	default:
		colorCreated.Fprint(w, "Created")
		fmt.Fprintf(w, ": %s\n", out.Path)
	}
	if out.Verification != nil {
		printVerification(w, out.Verification)
	}
}

// printVerification renders a verification result.
func printVerification(w io.Writer, status *snapshot.VerificationStatus) {
	if quiet && status.IsVerified {
		return
	}
	if status.IsVerified {
		colorCreated.Fprint(w, "Verified")
		switch {
		case status.ChecksumsVerified:
			fmt.Fprintln(w, ": structure and checksums OK")
		default:
			fmt.Fprintln(w, ": structure OK")
			colorMuted.Fprintln(w, "  (checksums not checked)")
		}
		return
	}
	colorFailed.Fprint(w, "Verification failed")
	fmt.Fprintf(w, ": %d problem(s)\n", len(status.Errors))
	for _, e := range status.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}
