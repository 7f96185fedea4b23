package main

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type dbOptions struct {
	SQLitePath  string
	PostgresDSN string
	Debug       bool
}

func initDB(opts dbOptions) (*gorm.DB, error) {
	level := logger.Warn
	if opts.Debug {
		level = logger.Info
	}
	newLogger := logger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector(opts), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// dialector prefers postgres when a DSN is configured and falls back to a sqlite file.
func dialector(opts dbOptions) gorm.Dialector {
	if opts.PostgresDSN != "" {
		return postgres.Open(opts.PostgresDSN)
	}
	path := opts.SQLitePath
	if path == "" {
		path = "bot.db"
	}
	return sqlite.Open(path)
}

func migrate(db *gorm.DB) error {
	err := db.AutoMigrate(&BotModel{}, &ChatRecord{}, &ChatAdmin{}, &AcceptedUser{}, &User{})
	if err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}
