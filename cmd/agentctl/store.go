package main

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/kandev/agentcore/internal/common/config"
	"github.com/kandev/agentcore/internal/db"
	"github.com/kandev/agentcore/internal/store"
	"github.com/kandev/agentcore/internal/store/sqlstore"
)

// openStore loads configuration (honoring --config/--db overrides) and
// opens the same store type the server uses, so a definition validated
// here is visible to a server running against the same database.
func openStore(cmd *cobra.Command) (store.Store, error) {
	configPath, _ := cmd.Flags().GetString("config")
	dbOverride, _ := cmd.Flags().GetString("db")

	cfg, err := config.LoadWithPath(configPath)
	if err != nil {
		return nil, err
	}
	if dbOverride != "" {
		cfg.Database.Path = dbOverride
	}

	var writer, reader *sql.DB
	driverName := "sqlite3"
	if cfg.Database.Driver == "postgres" {
		driverName = "pgx"
		writer, err = db.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, err
		}
		reader = writer
	} else {
		writer, err = db.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		reader, err = db.OpenSQLiteReader(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
	}
	return sqlstore.Open(writer, reader, driverName)
}
