// Package database opens the bridge's SQLite file and applies its schema
// migrations.
//
// The database holds the local host registry (the nodes the bridge has
// registered for each shade and scene) and the command log. It is opened
// in local host mode, or in mqtt mode when database.command_log is set.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive. Each up file may have a matching down file used
// by MigrateDown during development.
package database
