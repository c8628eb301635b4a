package database

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const sqliteScheme = "sqlite://"

// IsSQLiteURL reports whether DATABASE_URL points at a local SQLite file
// ("sqlite://sprache.db") rather than PostgreSQL.
func IsSQLiteURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, sqliteScheme)
}

// OpenSQLite opens a SQLite database with foreign keys enforced and creates
// the schema. dsn is either a sqlite:// URL or a raw go-sqlite3 DSN.
func OpenSQLite(dsn string, logger *zap.Logger, logQueries bool) (*gorm.DB, error) {
	dsn = strings.TrimPrefix(dsn, sqliteScheme)
	if !strings.Contains(dsn, "_foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=on"
	}

	level := gormlogger.Error
	if logQueries {
		level = gormlogger.Info
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// SQLite serialises writers anyway; one connection keeps in-memory
	// databases and transactions on the same handle.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := db.Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
		}
	}

	return db, nil
}
