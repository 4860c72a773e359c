package engines

import (
	"context"
	"strconv"
	"sync"

	"github.com/konceiver/dockv/lib/db"
	"github.com/konceiver/dockv/lib/db/engines/boltdb"
	"github.com/konceiver/dockv/lib/db/engines/dynamodb"
	"github.com/konceiver/dockv/lib/db/engines/maple"
	"github.com/konceiver/dockv/lib/db/engines/sqlitedb"
	"github.com/konceiver/dockv/rpc/client"
	"github.com/konceiver/dockv/rpc/common"
	"github.com/konceiver/dockv/rpc/serializer"
	"github.com/konceiver/dockv/rpc/transport"
	"github.com/konceiver/dockv/rpc/transport/http"
	"github.com/konceiver/dockv/rpc/transport/tcp"
	"github.com/konceiver/dockv/rpc/transport/unix"
)

// Defaults of the remote connection options
const (
	DefaultShard      = 1
	DefaultSerializer = "binary"
	DefaultTimeout    = 5
	DefaultRetries    = 3
)

var registerOnce sync.Once

// RegisterBuiltin registers all engines of this module with the db registry
// and adds the erase extension. It is safe to call it more than once.
//
//	memory://[name]      in-memory maple database, named databases are shared in the process
//	file://path          maple database persisted to a snapshot file
//	sqlite://path        sqlite database file
//	bolt://path          bolt database file
//	dynamodb://table     dynamodb table
//	tcp://host:port      database served by a remote server over tcp
//	unix:///path.sock    database served by a local server over a unix socket
//	http://host:port     database served by a remote server over http (also https://)
func RegisterBuiltin() {
	registerOnce.Do(func() {
		db.Register("memory", maple.OpenMemory)
		db.Register("file", maple.OpenFile)
		db.Register("sqlite", sqlitedb.Open)
		db.Register("bolt", boltdb.Open)
		db.Register("dynamodb", dynamodb.Open)

		db.Register("tcp", remoteOpener("tcp", tcp.NewTCPClientTransport))
		db.Register("unix", remoteOpener("unix", unix.NewUnixClientTransport))
		db.Register("http", remoteOpener("http", http.NewHttpClientTransport))
		db.Register("https", remoteOpener("https", http.NewHttpClientTransport))

		db.RegisterExtension(db.ExtensionErase, db.WithErase)
	})
}

// Open registers the builtin engines and opens the given connection
func Open(ctx context.Context, connection string) (db.KVDB, error) {
	RegisterBuiltin()
	return db.Open(ctx, connection)
}

// remoteOpener returns an opener for databases served by a dockv server.
//
//	shard=N             shard id of the database on the server (default 1)
//	serializer=NAME     binary, json or gob (default binary)
//	timeout=SECONDS     request timeout (default 5)
//	retries=N           attempts per request (default 3)
//	connections=N       connections per endpoint, only tcp and unix (default 1)
func remoteOpener(scheme string, newTransport func() transport.IRPCClientTransport) db.Opener {
	return func(_ context.Context, conn db.Connection) (db.KVDB, error) {
		if conn.Target == "" {
			return nil, db.NewError(db.CodeInvalid, "%s connection %q has no address", scheme, conn.Raw)
		}

		shard, err := strconv.ParseUint(conn.Option("shard", strconv.Itoa(DefaultShard)), 10, 64)
		if err != nil {
			return nil, db.WrapError(db.CodeInvalid, err, "%s option shard", scheme)
		}

		s, err := NewSerializer(conn.Option("serializer", DefaultSerializer))
		if err != nil {
			return nil, err
		}

		ints := map[string]int{"timeout": DefaultTimeout, "retries": DefaultRetries, "connections": 1}
		for name, def := range ints {
			n, err := strconv.Atoi(conn.Option(name, strconv.Itoa(def)))
			if err != nil || n <= 0 {
				return nil, db.NewError(db.CodeInvalid, "%s option %s must be a positive number", scheme, name)
			}
			ints[name] = n
		}

		endpoint := conn.Target
		if scheme == "http" || scheme == "https" {
			endpoint = scheme + "://" + conn.Target
		}

		config := common.ClientConfig{
			TimeoutSecond: ints["timeout"],
			Transport: common.ClientTransportConfig{
				Endpoints:              []string{endpoint},
				RetryCount:             ints["retries"],
				ConnectionsPerEndpoint: ints["connections"],
				TCPConf:                common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
			},
		}

		return client.NewRPCDB(shard, config, newTransport(), s)
	}
}

// NewSerializer returns the serializer with the given name (binary, json or gob)
func NewSerializer(name string) (serializer.IRPCSerializer, error) {
	switch name {
	case "binary":
		return serializer.NewBinarySerializer(), nil
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	default:
		return nil, db.NewError(db.CodeInvalid, "unknown serializer %q (binary, json or gob)", name)
	}
}
