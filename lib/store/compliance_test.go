package store_test

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"

	"github.com/konceiver/dockv/lib/store"
	"github.com/konceiver/dockv/lib/store/storetest"
	"github.com/konceiver/dockv/rpc/common"
	"github.com/konceiver/dockv/rpc/serializer"
	"github.com/konceiver/dockv/rpc/server"
	"github.com/konceiver/dockv/rpc/transport/tcp"
)

// --------------------------------------------------------------------------
// Compliance
// --------------------------------------------------------------------------

func factoryFor(connection func(t testing.TB) string) storetest.Factory {
	return func(t testing.TB) *store.Store[string, int] {
		s, err := store.New[string, int](context.Background(), store.DefaultConfig(connection(t)))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
}

func TestCompliance(t *testing.T) {
	connections := map[string]func(t testing.TB) string{
		"Memory": func(testing.TB) string { return "memory://" },
		"File":   func(t testing.TB) string { return "file://" + filepath.Join(t.TempDir(), "kv.snapshot") },
		"SQLite": func(t testing.TB) string { return "sqlite://" + filepath.Join(t.TempDir(), "kv.db") },
		"Bolt":   func(t testing.TB) string { return "bolt://" + filepath.Join(t.TempDir(), "kv.bolt") },
		"Remote": startRemote,
	}

	for name, connection := range connections {
		storetest.RunComplianceTests(t, name, factoryFor(connection), storetest.Fixtures())
	}
}

// startRemote serves a private in-memory database over tcp and returns its connection string
func startRemote(t testing.TB) string {
	serverTransport := tcp.NewTCPServerTransport()
	s := server.NewRPCServer(common.ServerConfig{
		Databases:     map[uint64]string{3: "memory://"},
		TimeoutSecond: 5,
		LogLevel:      "warning",
		Transport:     common.ServerTransportConfig{Endpoint: "127.0.0.1:0"},
	}, serverTransport, serializer.NewBinarySerializer())

	go s.Serve()
	t.Cleanup(func() { s.Close() })

	addr := serverTransport.(interface{ Addr() net.Addr }).Addr()
	return fmt.Sprintf("tcp://%s?shard=3", addr)
}
