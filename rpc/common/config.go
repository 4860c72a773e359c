package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Transport configuration (shared by client and server)
// --------------------------------------------------------------------------

// SocketConf holds socket level settings of the framed transports (tcp, unix)
type SocketConf struct {
	WriteBufferSize int // 0 keeps the OS default
	ReadBufferSize  int // 0 keeps the OS default
}

// TCPConf holds tcp specific settings
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int // 0 disables keep-alive
	TCPLingerSec    int // < 0 keeps the OS default
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerTransportConfig holds the listener settings of a server
type ServerTransportConfig struct {
	SocketConf
	TCPConf

	// Endpoint is the listen address (host:port or socket path)
	Endpoint string
	// WorkersPerConn limits concurrent requests per framed connection
	WorkersPerConn int
	// BufferSize is the size of pooled read buffers of framed transports
	BufferSize int
	// MaxFrameSize is the largest request payload accepted by framed transports,
	// larger frames drop the connection. 0 selects the transport default.
	MaxFrameSize int
}

// ServerConfig holds all configuration parameters of an RPC server.
type ServerConfig struct {
	// Databases maps every shard id served by this server to a connection
	// string understood by db.Open, e.g. "memory://", "sqlite:///data/1.db"
	Databases map[uint64]string

	// TimeoutSecond bounds request handling and socket writes
	TimeoutSecond int64

	Transport ServerTransportConfig

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.Transport.WorkersPerConn > 0 {
		addField("Workers Per Connection", strconv.Itoa(c.Transport.WorkersPerConn))
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Databases, sorted by shard id for consistent output
	addSection("Databases")
	ids := make([]uint64, 0, len(c.Databases))
	for id := range c.Databases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		addField("Shard "+strconv.FormatUint(id, 10), c.Databases[id])
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the connection settings of a client
type ClientTransportConfig struct {
	SocketConf
	TCPConf

	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	// MaxFrameSize is the largest response payload accepted by framed transports,
	// 0 selects the transport default
	MaxFrameSize int
}

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
