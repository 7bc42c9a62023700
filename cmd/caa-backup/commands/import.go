package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/metabrainz/caa-backup/internal/config"
	"github.com/metabrainz/caa-backup/pkg/catalog"
	"github.com/metabrainz/caa-backup/pkg/errors"
	"github.com/metabrainz/caa-backup/pkg/ledger"
	"github.com/spf13/cobra"
)

var (
	importIncremental bool
	importForce       bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import cover art metadata from MusicBrainz into the ledger",
	Long: `Imports cover art metadata from the MusicBrainz PostgreSQL database
into the local SQLite ledger. Use --incremental to fetch only records
uploaded since the last import.`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&importIncremental, "incremental", false, "Import only records newer than the checkpoint")
	importCmd.Flags().BoolVar(&importForce, "force", false, "Overwrite an existing ledger on full import")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	if cfg.PGConnString == "" {
		return fmt.Errorf("pg-conn-string is required for import")
	}

	if importIncremental {
		if !fileExists(cfg.DBPath) {
			return fmt.Errorf("ledger %s not found for incremental import; run a full import first", cfg.DBPath)
		}
	} else {
		if fileExists(cfg.DBPath) && !importForce {
			return fmt.Errorf("ledger %s already exists; use --force, --incremental, or remove it", cfg.DBPath)
		}
		if importForce && fileExists(cfg.DBPath) {
			if err := os.Remove(cfg.DBPath); err != nil {
				return errors.Wrap(err, "failed to remove existing ledger")
			}
		}
	}

	if err := ensureDirectories(cfg.DBPath, ""); err != nil {
		return err
	}

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer store.Close()

	source, err := catalog.NewPostgresSource(ctx, cfg.PGConnString)
	if err != nil {
		return errors.Wrap(err, "postgres connection failed")
	}
	defer source.Close()

	syncer := catalog.NewSyncer(store, source, cfg.BatchSize)
	if importIncremental {
		return syncer.RunIncremental(ctx)
	}
	return syncer.RunFull(ctx)
}
