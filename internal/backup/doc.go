// Package backup creates point-in-time copies of single files.
//
// Backups live in a tree that mirrors the source's directory relative to a
// source root:
//
//	{backup_dir}/
//	└── {source dir relative to source_root}/
//	    ├── notes=2024-01-15_10-30.txt
//	    ├── notes=2024-01-15_10-30_2.txt
//	    └── notes=2024-01-15_11-02=before-edit.txt
//
// A source outside the source root mirrors its absolute directory instead,
// so /etc/hosts backs up into {backup_dir}/etc/.
//
// # Creating Backups
//
// Use [Builder.Create]:
//
//	b := backup.NewBuilder(dir, backup.WithSourceRoot(home))
//	out, err := b.Create(ctx, backup.Request{Source: "notes.txt", Note: "before edit"})
//
// When the file is byte-identical to its newest backup the outcome status is
// [snapshot.StatusIdentical] and nothing is written. Otherwise the copy is
// staged beside its final name, given the source's permission bits and
// modification time, and renamed into place. An interrupted call leaves no
// partial file behind.
package backup
