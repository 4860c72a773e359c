package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/konceiver/dockv/lib/db"
	dbtesting "github.com/konceiver/dockv/lib/db/testing"
	"github.com/konceiver/dockv/rpc/client"
	"github.com/konceiver/dockv/rpc/common"
	"github.com/konceiver/dockv/rpc/serializer"
	"github.com/konceiver/dockv/rpc/transport"
	"github.com/konceiver/dockv/rpc/transport/http"
	"github.com/konceiver/dockv/rpc/transport/tcp"
	"github.com/konceiver/dockv/rpc/transport/unix"
)

// addresser is implemented by all server transports of this module
type addresser interface {
	Addr() net.Addr
}

type transportCase struct {
	name      string
	endpoint  func(t testing.TB) string
	server    func() transport.IRPCServerTransport
	client    func() transport.IRPCClientTransport
	clientURL func(addr net.Addr) string
}

var transportCases = []transportCase{
	{
		name:      "tcp",
		endpoint:  func(testing.TB) string { return "127.0.0.1:0" },
		server:    tcp.NewTCPServerTransport,
		client:    tcp.NewTCPClientTransport,
		clientURL: func(addr net.Addr) string { return addr.String() },
	},
	{
		name:      "unix",
		endpoint:  socketPath,
		server:    unix.NewUnixDefaultServerTransport,
		client:    unix.NewUnixClientTransport,
		clientURL: func(addr net.Addr) string { return addr.String() },
	},
	{
		name:      "http",
		endpoint:  func(testing.TB) string { return "127.0.0.1:0" },
		server:    http.NewHttpServerTransport,
		client:    http.NewHttpClientTransport,
		clientURL: func(addr net.Addr) string { return "http://" + addr.String() },
	},
}

// socketPath returns a short socket path, t.TempDir can exceed the unix socket path limit
func socketPath(t testing.TB) string {
	dir, err := os.MkdirTemp("", "dockv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "sock")
}

// startServer serves the given databases and returns the address clients connect to
func startServer(t testing.TB, tc transportCase, ser serializer.IRPCSerializer, databases map[uint64]string) string {
	t.Helper()

	serverTransport := tc.server()
	s := NewRPCServer(common.ServerConfig{
		Databases:     databases,
		TimeoutSecond: 5,
		LogLevel:      "warning",
		Transport:     common.ServerTransportConfig{Endpoint: tc.endpoint(t)},
	}, serverTransport, ser)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close server: %v", err)
		}
	})

	addrCh := make(chan net.Addr, 1)
	go func() { addrCh <- serverTransport.(addresser).Addr() }()

	select {
	case addr := <-addrCh:
		return tc.clientURL(addr)
	case err := <-errCh:
		t.Fatalf("server stopped before listening: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start listening")
	}
	return ""
}

func clientConfig(endpoint string) common.ClientConfig {
	return common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{endpoint},
			RetryCount:             3,
			ConnectionsPerEndpoint: 2,
		},
	}
}

func Test(t *testing.T) {
	serializers := map[string]func() serializer.IRPCSerializer{
		"binary": serializer.NewBinarySerializer,
		"json":   serializer.NewJSONSerializer,
	}

	for _, tc := range transportCases {
		for serName, newSerializer := range serializers {
			factory := func(t testing.TB) db.KVDB {
				endpoint := startServer(t, tc, newSerializer(), map[uint64]string{1: "memory://"})
				database, err := client.NewRPCDB(1, clientConfig(endpoint), tc.client(), newSerializer())
				if err != nil {
					t.Fatal(err)
				}
				return database
			}
			dbtesting.RunKVDBTests(t, tc.name+"-"+serName, factory)
		}
	}
}

func TestUnknownShard(t *testing.T) {
	tc := transportCases[0]
	endpoint := startServer(t, tc, serializer.NewBinarySerializer(), map[uint64]string{1: "memory://"})

	_, err := client.NewRPCDB(2, clientConfig(endpoint), tc.client(), serializer.NewBinarySerializer())
	if !db.IsNotFound(err) {
		t.Fatalf("expected a not found error for an unknown shard, got %v", err)
	}
}

func TestErrorCodesSurviveTheWire(t *testing.T) {
	ctx := context.Background()
	tc := transportCases[1]
	ser := serializer.NewBinarySerializer()
	endpoint := startServer(t, tc, ser, map[uint64]string{7: "memory://"})

	database, err := client.NewRPCDB(7, clientConfig(endpoint), tc.client(), ser)
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	if _, err := database.Get(ctx, "missing"); !db.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	rev, err := database.Put(ctx, db.Doc{Key: "k", Value: []byte("v")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := database.Put(ctx, db.Doc{Key: "k", Value: []byte("v")}); !db.IsConflict(err) {
		t.Errorf("expected conflict for create of an existing document, got %v", err)
	}
	if err := database.Remove(ctx, "k", "1-00"); !db.IsConflict(err) {
		t.Errorf("expected conflict for a stale revision, got %v", err)
	}
	if err := database.Remove(ctx, "k", rev); err != nil {
		t.Fatal(err)
	}
}

func TestServedDatabasesAreInstrumented(t *testing.T) {
	ctx := context.Background()
	tc := transportCases[0]
	ser := serializer.NewBinarySerializer()
	endpoint := startServer(t, tc, ser, map[uint64]string{1: "memory://"})

	database, err := client.NewRPCDB(1, clientConfig(endpoint), tc.client(), ser)
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	if _, err := database.Put(ctx, db.Doc{Key: "k", Value: []byte("v")}); err != nil {
		t.Fatal(err)
	}

	info, err := database.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.DbType != db.ImplRemote {
		t.Errorf("expected db type %s, got %s", db.ImplRemote, info.DbType)
	}
	meta := info.Metadata.(map[string]interface{})
	if meta["engine"] != string(db.ImplMaple) {
		t.Errorf("expected engine %s, got %v", db.ImplMaple, meta["engine"])
	}
	engineMeta, ok := meta["engine_metadata"].(map[string]interface{})
	if !ok || engineMeta["metrics"] == nil {
		t.Errorf("expected operation metrics in the engine metadata, got %v", meta["engine_metadata"])
	}
}

func TestServeFailsForBadDatabase(t *testing.T) {
	s := NewRPCServer(common.ServerConfig{
		Databases: map[uint64]string{1: "nosuchscheme://x"},
		LogLevel:  "warning",
		Transport: common.ServerTransportConfig{Endpoint: "127.0.0.1:0"},
	}, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())

	if err := s.Serve(); err == nil {
		t.Fatal("expected Serve to fail for an unknown scheme")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAdapterRejectsUnknownMessages(t *testing.T) {
	resp := NewKVDBServerAdapter().Handle(context.Background(), &common.Message{MsgType: common.MsgTSuccess}, nil)
	if resp.MsgType != common.MsgTError {
		t.Fatalf("expected error response for a nil database, got %s", resp.MsgType)
	}
}
