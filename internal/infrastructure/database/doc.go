// Package database provides SQLite connectivity for the FS20 gateway.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations embedded in the binary
//   - Connection lifecycle and health checks
//
// The database file is restricted to 0600 and all queries use
// parameterised statements.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. New columns must be nullable or carry a
// default so that older binaries keep working against a newer schema.
package database
