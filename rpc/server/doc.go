// Package server implements the RPC server of the key-value store.
// It opens one database per configured shard and routes incoming requests to
// an adapter that executes them against the database of the shard.
//
// The package focuses on:
//   - Server-side RPC request handling for all db.KVDB operations
//   - Adapter pattern to decouple the databases from the RPC mechanisms
//   - Shard configuration through connection strings (see db.Open)
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes incoming requests against a db.KVDB.
//
//   - NewKVDBServerAdapter: Factory function creating an adapter that translates
//     RPC requests to db.KVDB method calls. Errors are returned with their db.Code.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Usage Example:
//
//	// Create server configuration
//	config := common.ServerConfig{
//	  Databases: map[uint64]string{
//	    100: "memory://",
//	    200: "sqlite:///var/lib/dockv/200.db",
//	  },
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	  Transport: common.ServerTransportConfig{
//	    Endpoint: "0.0.0.0:8080",
//	  },
//	}
//
//	// Create and start the server
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	// Start the server, Serve blocks until Close is called
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Every database is opened through the engine registry, so all extensions
// (like the erase emulation) apply, and is wrapped by the instrumented package.
// The Info of a served database therefore reports the operation timings.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent requests
//	across multiple connections. Each request is processed independently.
//	Serve should be called only once.
package server
