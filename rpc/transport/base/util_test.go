package base

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/konceiver/dockv/rpc/common"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, 7, 42, []byte("payload")); err != nil {
		t.Fatal(err)
	}

	shardID, requestID, data, err := readFrame(&buf, nil, DefaultMaxFrameSize)
	if err != nil {
		t.Fatal(err)
	}
	if shardID != 7 || requestID != 42 {
		t.Errorf("expected shard 7 and request 42, got %d and %d", shardID, requestID)
	}
	if diff := cmp.Diff([]byte("payload"), data); diff != "" {
		t.Errorf("unexpected payload (-want +got):\n%s", diff)
	}
}

func TestReadFrameRejectsOversizedFrames(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, 1, 1, make([]byte, 1025)); err != nil {
		t.Fatal(err)
	}

	_, _, _, err := readFrame(&buf, nil, 1024)
	var tooLarge errFrameTooLarge
	if !errors.As(err, &tooLarge) || tooLarge.size != 1025 {
		t.Fatalf("expected a frame too large error, got %v", err)
	}

	// a forged length is rejected without reading or allocating the payload
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header[16:20], ^uint32(0))
	if _, _, _, err := readFrame(bytes.NewReader(header), nil, DefaultMaxFrameSize); !errors.As(err, &tooLarge) {
		t.Errorf("expected a frame too large error, got %v", err)
	}
}

func TestMaxFrameSize(t *testing.T) {
	if got := maxFrameSize(0); got != DefaultMaxFrameSize {
		t.Errorf("expected the default, got %d", got)
	}
	if got := maxFrameSize(4096); got != 4096 {
		t.Errorf("expected 4096, got %d", got)
	}
}

// loopbackConnector listens on a random tcp port of the loopback interface
type loopbackConnector struct{}

func (loopbackConnector) Listen(common.ServerConfig) (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}

func (loopbackConnector) GetName() string { return "loopback" }

func (loopbackConnector) UpgradeConnection(net.Conn, common.ServerConfig) error { return nil }

func TestServerDropsConnectionOnOversizedFrame(t *testing.T) {
	server := NewBaseServerTransport(loopbackConnector{}, 0, 0).(*serverTransport)
	server.RegisterHandler(func(_ uint64, req []byte) []byte { return req })

	go server.Listen(common.ServerConfig{
		TimeoutSecond: 5,
		Transport:     common.ServerTransportConfig{MaxFrameSize: 16},
	})
	defer server.Close()

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	// frames within the limit are answered
	if err := writeFrame(conn, 1, 1, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	if _, _, data, err := readFrame(conn, nil, DefaultMaxFrameSize); err != nil || string(data) != "ping" {
		t.Fatalf("expected ping, got %q %v", data, err)
	}

	// an oversized frame closes the connection
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(header[8:16], 2)
	binary.BigEndian.PutUint32(header[16:20], 1<<30)
	if _, err := conn.Write(header); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("expected the server to close the connection, got %v", err)
	}
}
