// Package config provides configuration management for the snap CLI.
//
// # Configuration File
//
// The default configuration file location is <ConfigHome>/snap/config.yaml;
// a config.yaml in the working directory takes precedence. Every key can
// also be set through a SNAP_ environment variable, e.g. SNAP_ARCHIVE_DIR.
//
//	version: 1
//	archive_dir: ~/.local/share/snap/archives
//	backup_dir: ~/.local/share/snap/backups
//	source_root: ~                 # mirrored under backup_dir
//	exclude:
//	  - .git
//	  - "**/.DS_Store"
//	checksum_algorithm: sha256     # sha384, sha512
//	verify_on_create: false
//	verify_workers: 4
//	prefix: ""                     # default: source directory name
//	include_vcs: true              # embed git branch and hash in names
//	timeout: 0s
//	exit_codes:
//	  created: 0
//	  identical: 0
//
// # Loading Configuration
//
// Call [Init] once, then [Load]:
//
//	config.Init()
//	cfg, err := config.Load("")
//
// An empty path searches the default locations and falls back to defaults.
// An explicit path must exist. Every failure is a configuration-class error
// from internal/errors.
//
// # Validation
//
// [Load] validates automatically. [Validate] returns every problem at once:
//
//	for _, e := range config.Validate(cfg) {
//	    fmt.Println(e)
//	}
//
// [WriteDefault] writes the defaults shown above, which is what
// "snap config init" does.
package config
