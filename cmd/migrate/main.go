package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"keyword_tracker/migrations"
)

type command struct {
	help string
	run  func(ctx context.Context, db *sql.DB) error
}

var commands = map[string]command{
	"up":      {"migrate to the latest version", func(ctx context.Context, db *sql.DB) error { return goose.UpContext(ctx, db, migrations.Dir) }},
	"up-one":  {"migrate one version up", func(ctx context.Context, db *sql.DB) error { return goose.UpByOneContext(ctx, db, migrations.Dir) }},
	"down":    {"roll back one version", func(ctx context.Context, db *sql.DB) error { return goose.DownContext(ctx, db, migrations.Dir) }},
	"redo":    {"roll back and reapply the latest version", func(ctx context.Context, db *sql.DB) error { return goose.RedoContext(ctx, db, migrations.Dir) }},
	"status":  {"show migration status", func(ctx context.Context, db *sql.DB) error { return goose.StatusContext(ctx, db, migrations.Dir) }},
	"version": {"show current version", func(ctx context.Context, db *sql.DB) error { return goose.VersionContext(ctx, db, migrations.Dir) }},
	"reset":   {"roll back all migrations", func(ctx context.Context, db *sql.DB) error { return goose.ResetContext(ctx, db, migrations.Dir) }},
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, commands[name].help)
	}
}

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/tracker.db"), "path to sqlite database")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}
	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		slog.Error("unknown command", "command", name)
		usage()
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		slog.Error("open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		slog.Error("setup migrations", "error", err)
		os.Exit(1)
	}

	if err := cmd.run(context.Background(), db); err != nil {
		slog.Error("migrate", "command", name, "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
