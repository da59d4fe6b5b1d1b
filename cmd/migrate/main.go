package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"kufarwatch/migrations"
)

func main() {
	_ = godotenv.Load()

	var (
		dsn     = flag.String("dsn", os.Getenv("DATABASE_URL"), "database DSN (sqlite path or postgres URL)")
		command = flag.String("command", "up", "goose command: up, down, status, version")
	)
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required (flag or DATABASE_URL)")
		os.Exit(1)
	}

	db, dialect, err := open(*dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		fmt.Fprintf(os.Stderr, "set dialect: %v\n", err)
		os.Exit(1)
	}

	if err := goose.Run(*command, db, migrations.Dir(dialect)); err != nil {
		fmt.Fprintf(os.Stderr, "goose %s: %v\n", *command, err)
		os.Exit(1)
	}
}

func open(dsn string) (*sql.DB, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := sql.Open("pgx", dsn)
		return db, "postgres", err
	}
	db, err := sql.Open("sqlite", strings.TrimPrefix(dsn, "sqlite:"))
	return db, "sqlite3", err
}
