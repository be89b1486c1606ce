// Package database provides the SQLite connection used for supervisor history.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Additive schema migrations read from an fs.FS
//
// The database file is created with 0600 permissions. All queries use
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
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
