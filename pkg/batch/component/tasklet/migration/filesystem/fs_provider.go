// Package filesystem holds the migration script trees: the embedded scripts that
// create the batch metadata tables, and the application's own scripts supplied
// through Fx.
package filesystem

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

//go:embed resource
var frameworkScripts embed.FS

// FrameworkMigrationsFS returns the metadata scripts with one top-level directory
// per database type ("sqlite", "postgres", "mysql").
func FrameworkMigrationsFS() fs.FS {
	sub, err := fs.Sub(frameworkScripts, "resource")
	if err != nil {
		// The embedded tree always contains "resource".
		panic(err)
	}
	return sub
}

// Rooted returns fsys re-rooted at dir, the usual way to strip the directory an
// application embeds its scripts under.
func Rooted(fsys fs.FS, dir string) (fs.FS, error) {
	if dir == "" || dir == "." {
		return fsys, nil
	}
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, "migration", "invalid migrations directory '%s'", dir, err)
	}
	if _, err := fs.Stat(sub, "."); err != nil {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, "migration", "migrations directory '%s' does not exist", dir, err)
	}
	return sub, nil
}
