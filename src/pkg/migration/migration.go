// Package migration runs embedded SQL migrations against a sqlite database,
// taking a file-copy backup first so a failed migration can be rolled back.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

var (
	ErrMigrationFailed = errors.New("migration failed")
	ErrRollbackFailed  = errors.New("rollback failed")
)

// Config describes one database to migrate.
type Config struct {
	// DBPath is the sqlite file path, used for backups and directory setup.
	DBPath string
	// Migrations is the filesystem holding the numbered .up.sql files.
	Migrations fs.FS
	// SubDir is the directory inside Migrations, "." when at the root.
	SubDir string
	// Backup enables the pre-migration file copy and rollback-on-failure.
	Backup bool
	// DB is an optional already-open connection; opened from DBPath when nil.
	DB *sql.DB
}

// Result reports what a migration run did.
type Result struct {
	FromVersion uint
	ToVersion   uint
	BackupPath  string
	WasDirty    bool
}

// Run applies all pending migrations. With Backup set, a copy of the database
// file is taken first and restored if the migration fails partway.
func Run(cfg *Config) (*Result, error) {
	if cfg == nil || cfg.DBPath == "" || cfg.Migrations == nil {
		return nil, errors.New("migration: incomplete config")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db := cfg.DB
	if db == nil {
		var err error
		db, err = sql.Open("sqlite", cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
	}

	subDir := cfg.SubDir
	if subDir == "" {
		subDir = "."
	}
	sourceDriver, err := iofs.New(cfg.Migrations, subDir)
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("create sqlite driver: %w", err)
	}
	mig, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	result := &Result{}
	result.FromVersion, result.WasDirty, _ = mig.Version()

	if cfg.Backup {
		backupPath, err := createBackup(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("create backup: %w", err)
		}
		result.BackupPath = backupPath
	}

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if result.BackupPath != "" {
			if rbErr := restoreBackup(cfg.DBPath, result.BackupPath); rbErr != nil {
				return result, fmt.Errorf("%w: %v (%v: %v)", ErrMigrationFailed, err, ErrRollbackFailed, rbErr)
			}
			logrus.WithField("backup", result.BackupPath).Warn("migration failed, database restored from backup")
		}
		return result, fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	result.ToVersion, _, _ = mig.Version()
	if result.FromVersion != result.ToVersion {
		logrus.WithFields(logrus.Fields{
			"db_path":      cfg.DBPath,
			"from_version": result.FromVersion,
			"to_version":   result.ToVersion,
		}).Info("database migration completed")
	}
	return result, nil
}

func createBackup(dbPath string) (string, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		// Fresh database, nothing to back up.
		return "", nil
	}
	backupPath := fmt.Sprintf("%s.backup-%s", dbPath, time.Now().Format("20060102-150405"))
	if err := copyFile(dbPath, backupPath); err != nil {
		return "", err
	}
	return backupPath, nil
}

func restoreBackup(dbPath, backupPath string) error {
	if backupPath == "" {
		return errors.New("no backup to restore")
	}
	return copyFile(backupPath, dbPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
