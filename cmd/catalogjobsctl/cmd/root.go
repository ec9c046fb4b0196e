// Package cmd implements catalogjobsctl's Cobra command tree, grounded in
// cmd/ffrtmp/cmd/root.go's config-file + env-var + flag precedence and
// --output table/json switch — restated to talk directly to this
// process's own store.Gateway/batch.Store instead of an HTTP API client,
// since the HTTP/SSE surface is out of scope (spec.md §1 Non-goals).
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lumina-project/catalogjobs/pkg/batch"
	"github.com/lumina-project/catalogjobs/pkg/jobs"
	"github.com/lumina-project/catalogjobs/pkg/jobs/definitions"
	"github.com/lumina-project/catalogjobs/pkg/store"
)

var (
	cfgFile      string
	dbDSN        string
	outputFormat string
)

// rootCmd is the catalogjobsctl entry point.
var rootCmd = &cobra.Command{
	Use:   "catalogjobsctl",
	Short: "Operate catalogjobsd's job queue",
	Long:  `catalogjobsctl submits, cancels, and inspects catalog jobs against the configured backing store.`,
}

// Execute adds all child commands and runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.catalogjobsctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "master-db", "", "backing store DSN (empty for in-memory, postgres://... otherwise)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".catalogjobsctl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.BindEnv("db_dsn", "CATALOG_DB_DSN")

	if err := viper.ReadInConfig(); err == nil {
		if dbDSN == "" && viper.GetString("db_dsn") != "" {
			dbDSN = viper.GetString("db_dsn")
		}
	}
	if dbDSN == "" && viper.GetString("db_dsn") != "" {
		dbDSN = viper.GetString("db_dsn")
	}
}

// IsJSONOutput reports whether --output json was requested.
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// openStores builds the same gateway/batch-store pair catalogjobsd uses,
// from the configured DSN.
func openStores() (store.Gateway, batch.Store, error) {
	if dbDSN == "" {
		return store.NewMemoryGateway(), batch.NewMemoryStore(), nil
	}
	gw, err := store.NewPostgresGateway(store.Config{Driver: "postgres", DSN: dbDSN})
	if err != nil {
		return nil, nil, err
	}
	bs, err := batch.NewPostgresStore(dbDSN)
	if err != nil {
		return nil, nil, err
	}
	return gw, bs, nil
}

// newRegistry builds and locks the standard job registry against gw, for
// commands (submit) that need to validate a job name before creating it.
func newRegistry(gw store.Gateway) *jobs.Registry {
	r := jobs.NewRegistry()
	definitions.RegisterAll(r, definitions.Deps{Gateway: gw})
	r.Lock()
	return r
}

// openBatchStore opens just the batch.Store half of openStores, for
// commands (get/list/cancel/watch) that only read or transition job rows
// and never need a store.Gateway to validate a job type against.
func openBatchStore() (batch.Store, error) {
	gw, bs, err := openStores()
	if err != nil {
		return nil, err
	}
	gw.Close()
	return bs, nil
}
