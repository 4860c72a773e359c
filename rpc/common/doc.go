// Package common provides the data structures shared by the RPC client, server
// and transports of dockv.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. One flat struct
//     is used for every request and response of the db.KVDB operations, factory
//     functions create the correct shape for each operation. Errors travel as
//     message text plus their db.Code, so conflicts and missing documents keep
//     their meaning across the network.
//
//   - MessageType: Enumeration of all supported operations.
//
//   - ServerConfig: The databases (shard id to connection string) served by a
//     node and the listener settings of its transport.
//
//   - ClientConfig: Endpoints, timeouts and retry behavior of clients.
//
//   - Logger: Log factory for the dragonboat logger interface used by all
//     packages, writing "LEVEL | package | message" lines.
package common
