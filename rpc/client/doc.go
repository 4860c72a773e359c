// Package client implements the RPC client of the key-value store.
// It provides an implementation of the db.KVDB interface that forwards every
// operation to a database served by a remote RPC server.
//
// The package focuses on:
//   - Transparent RPC access to remote databases
//   - Integration with the transport and serialization layers
//   - Error handling and conversion between RPC and domain errors
//
// Key Components:
//
//   - NewRPCDB: Factory function that creates a client implementing the db.KVDB
//     interface for one shard. The features of the remote database are fetched
//     when the client is created.
//
// Errors reported by the server keep their db.Code across the wire, so a stale
// revision is still a db.CodeConflict on the client. Failures of the transport
// itself are reported as db.CodeUnavailable.
//
// Usage Example:
//
//	// Configure the client
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"localhost:5000"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//
//	// Create a database client for shard 1
//	database, _ := client.NewRPCDB(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	defer database.Close()
//
//	// Use the database
//	rev, _ := database.Put(ctx, db.Doc{Key: "mykey", Value: []byte("myvalue")})
//	doc, _ := database.Get(ctx, "mykey")
//
// Usually the client is not created directly but through db.Open with a
// tcp://, unix:// or http:// connection string, see the engines package.
//
// Performance Considerations:
//
//   - For applications that frequently send large payloads, increasing ConnectionsPerEndpoint
//     can improve throughput by allowing parallel requests.
//
//   - The choice of serializer significantly affects performance. The binary serializer
//     provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	The client is thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
