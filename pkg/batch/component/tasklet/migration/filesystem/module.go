package filesystem

import (
	"go.uber.org/fx"
)

// Fx name tags of the migration filesystems.
const (
	FrameworkMigrationsFSTag   = `name:"frameworkMigrationsFS"`
	ApplicationMigrationsFSTag = `name:"applicationMigrationsFS"`
)

// Module provides the embedded framework migrations. Applications supply their
// scripts as an fs.FS tagged ApplicationMigrationsFSTag.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		FrameworkMigrationsFS,
		fx.ResultTags(FrameworkMigrationsFSTag),
	)),
)
