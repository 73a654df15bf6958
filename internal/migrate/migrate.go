// Package migrate handles SQL database migration for the internal Nereid database
package migrate

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var migrations []dbMigration

type dbMigration struct {
	Version uint
	Queries []string
}

// Execute runs the current DB migration on the given database
func (mig *dbMigration) Execute(db *sqlx.DB, logger *logrus.Entry) error {
	// Check if the migration has already run
	var success bool
	err := db.QueryRow(`SELECT success FROM Migrations WHERE version = $1`, mig.Version).Scan(&success)
	if err != nil && err != sql.ErrNoRows {
		logger.WithError(err).Error("Failed to fetch version information")
		return errors.Wrap(err, "failed to fetch version information")
	}
	if !success {
		logger.Infof("Executing DB migration #%d", mig.Version)
		for i, query := range mig.Queries {
			logger.Debugf("Query %d of %d...", (i + 1), len(mig.Queries))
			if _, err := db.Exec(query); err != nil {
				logger.WithError(err).Errorf("Query #%d failed", (i + 1))
				if _, serr := db.Exec(`REPLACE INTO Migrations(version, success) VALUES($1, 0)`, mig.Version); serr != nil {
					logger.WithError(serr).Warn("Failed to store migration status")
				}
				return errors.Wrapf(err, "migration #%d, query #%d", mig.Version, i+1)
			}
		}
		// Queries executed successfully - save our status
		if _, err := db.Exec(`REPLACE INTO Migrations(version, success) VALUES($1, 1)`, mig.Version); err != nil {
			return errors.Wrapf(err, "failed to store status of migration #%d", mig.Version)
		}
	}
	return nil
}

// ExecuteMigrationsOnDb executes the database migrations on the given database instance
func ExecuteMigrationsOnDb(db *sqlx.DB, logger *logrus.Entry) error {
	// Create the migrations table if it does not exist, yet
	query := `CREATE TABLE IF NOT EXISTS Migrations (
                version   INTEGER NOT NULL,
                success   INTEGER NOT NULL DEFAULT 0,
                PRIMARY KEY(version)
            )`
	if _, err := db.Exec(query); err != nil {
		logger.WithError(err).Error("Failed to create migrations table")
		return err
	}
	for _, mig := range migrations {
		if err := mig.Execute(db, logger); err != nil {
			logger.WithError(err).Errorf("Failed to execute migration #%d", mig.Version)
			return err
		}
	}
	return nil
}

// For now, the migrations are part of the package...
func init() {
	migrations = []dbMigration{
		{
			Version: 1,
			Queries: []string{
				`CREATE TABLE "Visitors" (
                    id VARCHAR(36) NOT NULL PRIMARY KEY,
                    chainIds TEXT NOT NULL DEFAULT '[]',
                    createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                    updatedAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
                );`,
				`CREATE TABLE "Bookmarks" (
                    visitorId VARCHAR(36) NOT NULL,
                    did VARCHAR(128) NOT NULL,
                    position INTEGER NOT NULL DEFAULT 0,
                    createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                    PRIMARY KEY(visitorId, did)
                );`,
				`CREATE INDEX idx_bookmark_visitor ON Bookmarks (visitorId ASC, position ASC);`,
			},
		},
		{
			Version: 2,
			Queries: []string{
				`ALTER TABLE Visitors ADD COLUMN lastSeenAt DATETIME NOT NULL DEFAULT '1970-01-01 00:00:00';`,
				`CREATE INDEX idx_visitor_seen ON Visitors (lastSeenAt ASC);`,
			},
		},
	}
}
