// Package database opens the SQLite file that backs the device inventory
// and the audit journal, and applies the embedded schema migrations.
//
// Control session state is never stored here; a session is rebuilt from
// the device on every connect. The connection runs in WAL mode with a
// single writer. Migrations are YYYYMMDD_HHMMSS_name.up.sql files applied
// in version order, one transaction each.
//
//	db, err := database.Open(ctx, database.FromConfig(cfg.Database, migrations.FS))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx)
package database
