// Package cmd implements the command-line interface of dockv. It provides a
// hierarchical command structure for serving databases and for running store
// operations against any connection string.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for store operations (get, put, forget, pull, all, ...)
//   - serve: Commands for serving databases over rpc
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Flags can also be set through DOCKV_<FLAG> environment variables or .env files.
// See dockv -help for a list of all commands.
package cmd
