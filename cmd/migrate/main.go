package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/abeldemoz/birrledger/internal/pkg/database"
	"github.com/abeldemoz/birrledger/internal/pkg/env"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Applies the billing schema and plan seed without starting the API server,
// for deploy pipelines that migrate before rollout.
func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "up":
		db := mustOpen()
		if err := database.Migrate(db); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Schema migrated and plan catalog seeded")

	case "status":
		db := mustOpen()
		migrator := db.Migrator()
		tables, err := migrator.GetTables()
		if err != nil {
			log.Fatalf("Failed to list tables: %v", err)
		}
		log.Printf("Database has %d tables:", len(tables))
		for _, t := range tables {
			log.Printf("  %s", t)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func mustOpen() *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                      dsn,
		DefaultStringSize:        256,
		DisableDatetimePrecision: false,
	}), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetConnMaxLifetime(time.Minute)
	}
	return db
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Available commands:")
	fmt.Println("  up     - apply the schema and seed the plan catalog")
	fmt.Println("  status - list the tables in the target database")
}
