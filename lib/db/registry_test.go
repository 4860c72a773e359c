package db

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseConnection(t *testing.T) {
	tests := []struct {
		raw     string
		scheme  string
		target  string
		options map[string]string
		wantErr bool
	}{
		{raw: "cache", scheme: DefaultScheme, target: "cache"},
		{raw: "memory://", scheme: "memory", target: ""},
		{raw: "SQLite:///var/db/a.db", scheme: "sqlite", target: "/var/db/a.db"},
		{raw: "tcp://localhost:5000?shard=3&serializer=json", scheme: "tcp", target: "localhost:5000",
			options: map[string]string{"shard": "3", "serializer": "json"}},
		{raw: "://x", wantErr: true},
		{raw: "memory://x?%zz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			conn, err := ParseConnection(tt.raw)
			if tt.wantErr {
				if CodeOf(err) != CodeInvalid {
					t.Fatalf("expected invalid connection error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if conn.Scheme != tt.scheme || conn.Target != tt.target {
				t.Errorf("got scheme %q target %q", conn.Scheme, conn.Target)
			}
			for name, want := range tt.options {
				if got := conn.Option(name, ""); got != want {
					t.Errorf("option %s = %q, want %q", name, got, want)
				}
			}
			if got := conn.Option("nosuchoption", "def"); got != "def" {
				t.Errorf("missing option must fall back to the default, got %q", got)
			}
		})
	}
}

func TestRegisterAndOpen(t *testing.T) {
	ctx := context.Background()
	var opened []string

	ok := Register("registrytest", func(_ context.Context, conn Connection) (KVDB, error) {
		opened = append(opened, conn.Target)
		return newFakeDB(), nil
	})
	if !ok {
		t.Fatal("first registration must succeed")
	}
	if Register("RegistryTest", nil) {
		t.Fatal("second registration of a scheme must be rejected")
	}

	database, err := Open(ctx, "registrytest://target?x=1")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	if diff := cmp.Diff([]string{"target"}, opened); diff != "" {
		t.Errorf("unexpected targets (-want +got):\n%s", diff)
	}

	if _, err := Open(ctx, "nosuchscheme://x"); CodeOf(err) != CodeUnsupported {
		t.Errorf("expected unsupported error for unknown scheme, got %v", err)
	}
}

func TestExtensionsAreApplied(t *testing.T) {
	ctx := context.Background()
	Register("extensiontest", func(context.Context, Connection) (KVDB, error) {
		return newFakeDB(), nil
	})
	RegisterExtension(ExtensionErase, WithErase)

	database, err := Open(ctx, "extensiontest://")
	if err != nil {
		t.Fatal(err)
	}
	if !database.SupportsFeature(FeatureErase) {
		t.Fatal("the erase extension must add FeatureErase")
	}
	if _, ok := database.(*eraser); !ok {
		t.Fatalf("expected the erase wrapper, got %T", database)
	}
}
