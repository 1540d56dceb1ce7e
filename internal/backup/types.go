package backup

// Request describes one backup operation.
type Request struct {
	// Source is the file to back up.
	Source string

	// Note is free text embedded in the backup name.
	Note string
}
