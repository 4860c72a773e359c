package kv

import (
	"context"

	"github.com/konceiver/dockv/cmd/util"
	"github.com/konceiver/dockv/lib/store"
	"github.com/konceiver/dockv/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	kvStore *store.Store[string, []byte]

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Perform key-value store operations",
		Long: `Perform key-value store operations on the database of a connection string.
Values are stored as they are given. Failed operations print their
fallback result (absent, false, 0) and the error on stderr.`,
		PersistentPreRunE:  setupKVStore,
		PersistentPostRunE: closeKVStore,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	key := "connection"
	KeyValueCommands.PersistentFlags().String(key, "tcp://localhost:8080?shard=100", util.WrapString("Connection string of the database, e.g. tcp://localhost:8080?shard=100, sqlite:///data/a.db or memory://"))

	key = "retries"
	KeyValueCommands.PersistentFlags().Int(key, store.DefaultMaxAttempts, util.WrapString("How often a write or removal is attempted on conflicts"))

	key = "concurrency"
	KeyValueCommands.PersistentFlags().Int(key, store.DefaultBulkConcurrency, util.WrapString("Concurrent element operations of bulk operations"))

	key = "log-level"
	KeyValueCommands.PersistentFlags().String(key, "warning", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "output"
	KeyValueCommands.PersistentFlags().StringP(key, "o", "text", util.WrapString("Output format (text, json, yaml)"))

	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(missingCmd)
	KeyValueCommands.AddCommand(forgetCmd)
	KeyValueCommands.AddCommand(pullCmd)
	KeyValueCommands.AddCommand(keysCmd)
	KeyValueCommands.AddCommand(allCmd)
	KeyValueCommands.AddCommand(countCmd)
	KeyValueCommands.AddCommand(flushCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVStore opens the store of the connection flag
func setupKVStore(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	config := store.DefaultConfig(viper.GetString("connection"))
	config.Retry.MaxAttempts = viper.GetInt("retries")
	config.BulkConcurrency = viper.GetInt("concurrency")

	var err error
	kvStore, err = store.New[string, []byte](
		context.Background(),
		config,
		store.WithValueCodec[string, []byte](store.RawCodec{}),
	)
	return err
}

func closeKVStore(_ *cobra.Command, _ []string) error {
	if kvStore == nil {
		return nil
	}
	return kvStore.Close()
}
