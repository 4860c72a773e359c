package db

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("db")

// --------------------------------------------------------------------------
// Connection Strings
// --------------------------------------------------------------------------

// DefaultScheme is used for connection strings without a scheme
const DefaultScheme = "memory"

// Connection is a parsed connection string of the form scheme://target?options.
// A connection string without "://" is treated as the name of an in-memory database.
type Connection struct {
	Raw     string
	Scheme  string
	Target  string
	Options url.Values
}

// ParseConnection parses a connection string
func ParseConnection(raw string) (Connection, error) {
	conn := Connection{Raw: raw, Options: url.Values{}}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		conn.Scheme = DefaultScheme
		conn.Target = raw
		return conn, nil
	}

	if scheme == "" {
		return conn, NewError(CodeInvalid, "missing scheme in connection string %q", raw)
	}
	conn.Scheme = strings.ToLower(scheme)

	target, query, _ := strings.Cut(rest, "?")
	conn.Target = target

	if query != "" {
		opts, err := url.ParseQuery(query)
		if err != nil {
			return conn, WrapError(CodeInvalid, err, "invalid options in connection string %q", raw)
		}
		conn.Options = opts
	}

	return conn, nil
}

// Option returns the named option or def if it is not set
func (c Connection) Option(name, def string) string {
	if v := c.Options.Get(name); v != "" {
		return v
	}
	return def
}

func (c Connection) String() string {
	return c.Raw
}

// --------------------------------------------------------------------------
// Engine Registry
// --------------------------------------------------------------------------

// Opener opens a database for a parsed connection
type Opener func(ctx context.Context, conn Connection) (KVDB, error)

// Extension decorates every database opened via Open.
// It is the place to add capabilities that an engine lacks natively.
type Extension func(KVDB) KVDB

type namedExtension struct {
	name string
	ext  Extension
}

var (
	openers    = xsync.NewMapOf[string, Opener]()
	extensions = xsync.NewMapOf[string, namedExtension]()
)

// Register makes an engine available under the given scheme.
// Registering a scheme twice keeps the first registration and returns false.
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func Register(scheme string, opener Opener) bool {
	_, loaded := openers.LoadOrStore(strings.ToLower(scheme), opener)
	return !loaded
}

// RegisterExtension adds an extension that is applied to every database opened via Open.
// Registering the same name twice keeps the first registration and returns false.
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func RegisterExtension(name string, ext Extension) bool {
	_, loaded := extensions.LoadOrStore(name, namedExtension{name: name, ext: ext})
	if !loaded {
		Logger.Debugf("registered extension %s", name)
	}
	return !loaded
}

// Schemes returns all registered schemes in ascending order
func Schemes() []string {
	var schemes []string
	openers.Range(func(scheme string, _ Opener) bool {
		schemes = append(schemes, scheme)
		return true
	})
	sort.Strings(schemes)
	return schemes
}

// Open parses the connection string and opens the database with the engine
// registered for its scheme. All registered extensions are applied in
// ascending order of their names.
func Open(ctx context.Context, connection string) (KVDB, error) {
	conn, err := ParseConnection(connection)
	if err != nil {
		return nil, err
	}

	opener, ok := openers.Load(conn.Scheme)
	if !ok {
		return nil, NewError(CodeUnsupported, "no engine registered for scheme %q (known: %s)",
			conn.Scheme, strings.Join(Schemes(), ", "))
	}

	database, err := opener(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", connection, err)
	}

	var exts []namedExtension
	extensions.Range(func(_ string, ext namedExtension) bool {
		exts = append(exts, ext)
		return true
	})
	sort.Slice(exts, func(i, j int) bool { return exts[i].name < exts[j].name })

	for _, ext := range exts {
		database = ext.ext(database)
	}

	Logger.Debugf("opened %s database %q", conn.Scheme, conn.Target)
	return database, nil
}
