// Command seed loads a YAML fixture file into the catalog database.
// Seeding is idempotent: rows whose id already exists are skipped.
package main

import (
	"context"
	"flag"

	catalogsvc "autolist-backend/internal/application/catalog"
	"autolist-backend/internal/config"
	"autolist-backend/internal/infrastructure/database"
	"autolist-backend/internal/pkg/logging"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load: " + err.Error())
	}
	logging.Setup(cfg.LogLevel, cfg.IsProduction())

	file := flag.String("file", cfg.SeedFile, "fixture file")
	migrate := flag.Bool("migrate", true, "create missing tables first")
	flag.Parse()

	db, err := database.Open(cfg.DatabaseURL, database.WithLogLevel(logging.GormLevel(cfg.LogLevel)))
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if *migrate {
		if err := database.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
	}
	client, err := database.NewClient(db)
	if err != nil {
		log.Fatal().Err(err).Msg("client")
	}
	defer client.Close()

	fx, err := catalogsvc.LoadFixtures(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("load fixtures")
	}
	svc := &catalogsvc.Service{Client: client}
	if _, err := svc.Seed(context.Background(), fx); err != nil {
		log.Fatal().Err(err).Msg("seed")
	}
}
