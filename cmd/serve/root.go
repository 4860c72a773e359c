package serve

import (
	"fmt"
	"strconv"
	"strings"

	cmdUtil "github.com/konceiver/dockv/cmd/util"
	"github.com/konceiver/dockv/rpc/common"
	"github.com/konceiver/dockv/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Serve databases over rpc",
		Long: `Serve one or more databases over rpc, one database per shard id.
Clients open them with a remote connection string, e.g. tcp://host:8080?shard=100.
The configuration can be set via command line flags or environment variables.
The format of the environment variables is DOCKV_<flag> (e.g. DOCKV_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "databases"
	ServeCmd.PersistentFlags().String(key, "100=memory://", cmdUtil.WrapString("Comma-separated list of databases to serve. Format: ID=CONNECTION where CONNECTION is a connection string like memory://, sqlite:///data/a.db or bolt:///data/b.bolt"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for handling a single request"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the server will listen (e.g. localhost:8080, /tmp/dockv.sock, ...)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Concurrent requests per connection of the tcp and unix transports (0 keeps the transport default)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig converts flags and environment variables into the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	databases, err := ParseDatabases(viper.GetString("databases"))
	if err != nil {
		return err
	}

	serveCmdConfig.Databases = databases
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Transport.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Transport.WorkersPerConn = viper.GetInt("workers-per-conn")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return nil
}

// ParseDatabases parses a list of ID=CONNECTION pairs
func ParseDatabases(list string) (map[uint64]string, error) {
	databases := make(map[uint64]string)

	for _, entry := range strings.Split(list, ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}

		id, connection, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid database format: %s (expected ID=CONNECTION)", entry)
		}

		shardID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", id, err)
		}
		if _, exists := databases[shardID]; exists {
			return nil, fmt.Errorf("shard ID %d is configured twice", shardID)
		}

		databases[shardID] = strings.TrimSpace(connection)
	}

	if len(databases) == 0 {
		return nil, fmt.Errorf("no databases configured")
	}
	return databases, nil
}

// run starts the server and blocks until it stops
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	return server.NewRPCServer(*serveCmdConfig, t, s).Serve()
}
