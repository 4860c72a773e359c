package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/konceiver/dockv/lib/db"
	"github.com/konceiver/dockv/lib/db/engines"
	"github.com/konceiver/dockv/lib/db/instrumented"
	"github.com/konceiver/dockv/rpc/common"
	"github.com/konceiver/dockv/rpc/serializer"
	"github.com/konceiver/dockv/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the database it encapsulates and the adapter
// that handles requests for the database
type serverShard struct {
	DB      db.KVDB
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	// Create the RPC server
	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
		registry:   metrics.NewRegistry(),
	}
}

// RPCServer serves the databases of its config, one database per shard id
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	registry   metrics.Registry
	closeOnce  sync.Once
}

// Serve starts the RPC server
// This function will also open the databases of all shards and start the transport layer.
// It blocks until Close is called.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		s.closeShards()
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport layer and closes the databases of all shards
func (s *RPCServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = errors.Join(s.transport.Close(), s.closeShards())
		Logger.Infof("RPC server stopped")
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *RPCServer) init() error {

	// Init logger
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", s.config.String())

	if len(s.config.Databases) == 0 {
		return fmt.Errorf("no databases configured")
	}

	engines.RegisterBuiltin()

	// Open shards in ascending order for a reproducible log
	ids := make([]uint64, 0, len(s.config.Databases))
	for id := range s.config.Databases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ctx := context.Background()
	for _, shardID := range ids {
		connection := s.config.Databases[shardID]

		database, err := db.Open(ctx, connection)
		if err != nil {
			return fmt.Errorf("failed to open database for shard %d: %w", shardID, err)
		}

		// every shard records its operation timings under its own prefix
		shardRegistry := metrics.NewPrefixedChildRegistry(s.registry, fmt.Sprintf("shard.%d.", shardID))

		s.shards.Store(shardID, serverShard{
			DB:      instrumented.Wrap(database, shardRegistry),
			Adapter: NewKVDBServerAdapter(),
		})
		Logger.Infof("opened %s for shard %d", connection, shardID)
	}

	Logger.Infof("dockv setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

func (s *RPCServer) registerTransportHandler() {
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Get appropriate shard
		shard, ok := s.shards.Load(shardId)

		// Case shard does not exist -> error
		if !ok {
			respMsg = common.NewErrorResponse(db.CodeNotFound, fmt.Sprintf("shard %d not found", shardId))
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(db.CodeInvalid, fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			// Let the adapter handle the request
			ctx := context.Background()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			respMsg = shard.Adapter.Handle(ctx, &msg, shard.DB)
		}

		// Return result
		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(db.CodeInternal,
				fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})
}

// closeShards closes and forgets the databases of all shards
func (s *RPCServer) closeShards() error {
	var errs []error
	s.shards.Range(func(shardID uint64, shard serverShard) bool {
		if err := shard.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", shardID, err))
		}
		s.shards.Delete(shardID)
		return true
	})
	return errors.Join(errs...)
}
