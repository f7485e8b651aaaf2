package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"agora.org/internal/config"
	"agora.org/internal/migrate"
	"agora.org/internal/obs"
	"agora.org/ops/migrations"
)

func main() {
	var (
		configPath     = flag.String("config", os.Getenv("AGORA_CONFIG"), "path to config.toml")
		dsn            = flag.String("dsn", "", "PostgreSQL DSN (defaults to pg_dsn or AGORA_PG_DSN)")
		migrationsPath = flag.String("migrations", "", "Path to SQL migrations (defaults to the embedded set)")
		seedsPath      = flag.String("seeds", "", "Path to SQL seeds (defaults to the embedded set)")
	)
	flag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *dsn == "" {
		*dsn = cfg.PGDSN
	}
	if *migrationsPath == "" {
		*migrationsPath = cfg.MigrationsDir
	}
	if *seedsPath == "" {
		*seedsPath = cfg.SeedsDir
	}
	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via -dsn or AGORA_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal().Msg("usage: migrate [up|down|seed|status|pending]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	mgr := migrate.NewManager(db, source(*migrationsPath, migrations.SQL()), source(*seedsPath, migrations.Seeds()))

	var names []string
	switch flag.Arg(0) {
	case "up":
		names, err = mgr.Up(ctx)
	case "down":
		var last string
		last, err = mgr.Down(ctx)
		names = []string{last}
	case "seed":
		names, err = mgr.Seed(ctx)
	case "status":
		names, err = mgr.Status(ctx)
	case "pending":
		names, err = mgr.Pending(ctx)
	default:
		log.Fatal().Str("command", flag.Arg(0)).Msg("unknown command")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("migrate")
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func source(path string, embedded fs.FS) fs.FS {
	if path == "" {
		return embedded
	}
	return migrate.Dir(path)
}
