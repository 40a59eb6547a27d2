package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tasksync/tasksync/internal/api"
	"github.com/tasksync/tasksync/internal/db"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tsd",
	Short: "Offline-first task sync client",
	Long: `tsd keeps a local task cache usable without connectivity and
reconciles it with the task server whenever a connection exists.

Local mutations are applied optimistically and queued durably; the queue is
uploaded in batches on the next sync, and the server's response overwrites
the cache. A realtime channel pushes server-side changes into the same
cache while connected.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: tasksync.yaml)")
	rootCmd.PersistentFlags().String("db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().String("server", "", "server base URL (overrides config)")
	_ = viper.BindPFlag("database", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("server_url", rootCmd.PersistentFlags().Lookup("server"))
}

// initConfig reads tasksync.yaml and TASKSYNC_* environment overrides.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("tasksync")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.config/tasksync")
		}
	}

	viper.SetDefault("database", ".tasksync/tasksync.db")
	viper.SetDefault("server_url", "http://localhost:8080")
	viper.SetDefault("realtime_url", "ws://localhost:8080/ws")
	viper.SetDefault("sync_interval", 30*time.Second)
	viper.SetDefault("hash_check_interval", 5*time.Minute)
	viper.SetDefault("fetch_groups", true)
	viper.SetDefault("fetch_users", true)

	viper.SetEnvPrefix("TASKSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

// openStore opens the local database and ensures the schema exists.
func openStore() (*db.DB, error) {
	store, err := db.Open(viper.GetString("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// newClient builds the API client from config.
func newClient() *api.Client {
	return api.NewClient(viper.GetString("server_url"), nil)
}
