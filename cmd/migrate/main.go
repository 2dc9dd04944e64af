package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"crashloop/internal/config"
	"crashloop/internal/database"
	"crashloop/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	cfg, err := config.LoadWithDefaults(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New("crashloop-migrate", cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if command == "create" {
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate create <migration_name>")
		}
		createMigration(log, getEnv("MIGRATIONS_PATH", "./internal/database/migrations"), os.Args[2])
		return
	}

	db, err := database.Open(cfg.Database.URL())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	switch command {
	case "up":
		log.Info("running migrations")
		if err := database.RunMigrations(db); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		log.Info("migrations completed")

	case "down":
		log.Info("rolling back last migration")
		if err := database.RollbackMigration(db); err != nil {
			log.Fatal("rollback failed", zap.Error(err))
		}
		log.Info("rollback completed")

	case "version":
		version, dirty, err := database.GetMigrationVersion(db)
		if err != nil {
			log.Fatal("failed to get version", zap.Error(err))
		}
		if dirty {
			log.Warn("migration state is dirty, needs manual intervention", zap.Uint("version", version))
		} else {
			log.Info("current migration version", zap.Uint("version", version))
		}

	default:
		log.Error("unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

func createMigration(log *zap.Logger, dir, name string) {
	files, err := os.ReadDir(dir)
	if err != nil {
		log.Fatal("failed to read migrations directory", zap.String("dir", dir), zap.Error(err))
	}

	nextVersion := 1
	for _, file := range files {
		if !file.IsDir() {
			nextVersion++
		}
	}
	nextVersion = (nextVersion / 2) + 1 // Each migration has up and down files

	upFile := filepath.Join(dir, fmt.Sprintf("%06d_%s.up.sql", nextVersion, name))
	downFile := filepath.Join(dir, fmt.Sprintf("%06d_%s.down.sql", nextVersion, name))

	upContent := fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n-- Add your SQL here\n", name, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(upFile, []byte(upContent), 0644); err != nil {
		log.Fatal("failed to create up migration", zap.Error(err))
	}
	downContent := fmt.Sprintf("-- Rollback: %s\n\n-- Add your rollback SQL here\n", name)
	if err := os.WriteFile(downFile, []byte(downContent), 0644); err != nil {
		log.Fatal("failed to create down migration", zap.Error(err))
	}

	log.Info("created migration files", zap.String("up", upFile), zap.String("down", downFile))
}

func printUsage() {
	fmt.Println("Database Migration Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate up              Run all pending migrations")
	fmt.Println("  migrate down            Rollback the last migration")
	fmt.Println("  migrate version         Show current migration version")
	fmt.Println("  migrate create <name>   Create a new migration file")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  CONFIG_PATH             Optional YAML config file")
	fmt.Println("  BLUEPRINT_DB_HOST       Database host (default: localhost)")
	fmt.Println("  BLUEPRINT_DB_PORT       Database port (default: 5432)")
	fmt.Println("  BLUEPRINT_DB_DATABASE   Database name (default: crashdb)")
	fmt.Println("  BLUEPRINT_DB_USERNAME   Database user (default: postgres)")
	fmt.Println("  BLUEPRINT_DB_PASSWORD   Database password (default: postgres)")
	fmt.Println("  MIGRATIONS_PATH         Where create writes files (default: ./internal/database/migrations)")
	fmt.Println()
	fmt.Println("Migrations are embedded in the binary; up/down/version ignore MIGRATIONS_PATH.")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
