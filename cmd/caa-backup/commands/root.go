package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "caa-backup",
	Short: "Cover Art Archive backup - local mirror management",
	Long:  `Maintains a local mirror of the Cover Art Archive: imports metadata from MusicBrainz, downloads images, verifies the cache, and serves live statistics.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("db-path", ".artifacts/caa_backup.db", "SQLite ledger path")
	rootCmd.PersistentFlags().String("cache-dir", ".artifacts/cache", "Image cache root directory")
	rootCmd.PersistentFlags().String("pg-conn-string", "", "MusicBrainz PostgreSQL connection string")
	rootCmd.PersistentFlags().String("base-url", "https://archive.org", "Archive host to download from")
	rootCmd.PersistentFlags().Int("download-threads", 8, "Number of download workers")
	rootCmd.PersistentFlags().Int("batch-size", 1000, "Records per batch")
	rootCmd.PersistentFlags().String("monitor-host", "localhost", "Host for the status server")
	rootCmd.PersistentFlags().Int("monitor-port", 8080, "Port for the status server")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket for offsite backup")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")

	viper.BindPFlag("db-path", rootCmd.PersistentFlags().Lookup("db-path"))
	viper.BindPFlag("cache-dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("pg-conn-string", rootCmd.PersistentFlags().Lookup("pg-conn-string"))
	viper.BindPFlag("base-url", rootCmd.PersistentFlags().Lookup("base-url"))
	viper.BindPFlag("download-threads", rootCmd.PersistentFlags().Lookup("download-threads"))
	viper.BindPFlag("batch-size", rootCmd.PersistentFlags().Lookup("batch-size"))
	viper.BindPFlag("monitor-host", rootCmd.PersistentFlags().Lookup("monitor-host"))
	viper.BindPFlag("monitor-port", rootCmd.PersistentFlags().Lookup("monitor-port"))
	viper.BindPFlag("s3-bucket", rootCmd.PersistentFlags().Lookup("s3-bucket"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
}
