// Package storage keeps queues, memberships and displays in a relational
// database through gorm.
package storage

import (
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options selects and configures the database.
type Options struct {
	Type string // postgres | mysql | sqlite
	DSN  string
	Log  bool // log every statement
}

// Open connects to the configured database and migrates the schema.
func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch opts.Type {
	case "postgres", "":
		dialector = postgres.Open(opts.DSN)
	case "mysql":
		dialector = mysql.Open(opts.DSN)
	case "sqlite":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unknown database type %q", opts.Type)
	}

	cfg := &gorm.Config{TranslateError: true}
	if !opts.Log {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Type, err)
	}

	if opts.Type == "sqlite" {
		// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Printf("[storage] connected to %s", opts.Type)
	return db, nil
}
