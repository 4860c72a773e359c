package db

import (
	"context"
	"io"
	"strings"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple    Implementation = "maple"
	ImplSQLite   Implementation = "sqlite"
	ImplBolt     Implementation = "bolt"
	ImplDynamoDB Implementation = "dynamodb"
	ImplRemote   Implementation = "remote"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureGet        Feature = 1 << iota // Support for Get operations
	FeaturePut                            // Support for Put operations
	FeatureRemove                         // Support for Remove operations
	FeatureAllKeys                        // Support for AllKeys operations
	FeatureInfo                           // Support for Info operations
	FeatureErase                          // Support for Erase operations
	FeatureSave                           // Support for Save operations
	FeatureLoad                           // Support for Load operations
	FeatureCompaction                     // Removed documents are reclaimed in the background
)

// FeatureCRUD is the minimal feature set every engine has to provide
const FeatureCRUD = FeatureGet | FeaturePut | FeatureRemove | FeatureAllKeys | FeatureInfo

var featureNames = []struct {
	f    Feature
	name string
}{
	{FeatureGet, "Get"},
	{FeaturePut, "Put"},
	{FeatureRemove, "Remove"},
	{FeatureAllKeys, "AllKeys"},
	{FeatureInfo, "Info"},
	{FeatureErase, "Erase"},
	{FeatureSave, "Save"},
	{FeatureLoad, "Load"},
	{FeatureCompaction, "Compaction"},
}

func (f Feature) String() string {
	var names []string
	for _, fn := range featureNames {
		if f&fn.f == fn.f {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "Unknown"
	}
	return strings.Join(names, "|")
}

// Split returns the single feature flags contained in f
func (f Feature) Split() []Feature {
	var features []Feature
	for _, fn := range featureNames {
		if f&fn.f == fn.f {
			features = append(features, fn.f)
		}
	}
	return features
}

type DatabaseInfo struct {
	DocCount          uint64         `json:"doc_count"`
	UpdateSeq         uint64         `json:"update_seq"`
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// Doc is a single stored document. Rev is the version marker of the
// document as assigned by the engine on the last successful Put.
type Doc struct {
	Key   string `json:"key"`
	Rev   string `json:"rev,omitempty"`
	Value []byte `json:"value,omitempty"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for revision tracking document databases.
// Every document is addressed by a string key and carries an opaque revision
// that changes with every write. Writes and removals are checked against the
// revision the caller observed, so concurrent modifications surface as
// conflicts instead of silently overwriting each other.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
// All implementations must be safe for concurrent use.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Put stores doc.Value under doc.Key and returns the new revision.
	// doc.Rev must be the current revision of the stored document. An empty
	// doc.Rev means the document must not exist yet. Any mismatch fails with
	// an error of code CodeConflict and leaves the document untouched.
	Put(ctx context.Context, doc Doc) (rev string, err error)

	// Remove deletes the document with the given key if rev is its current
	// revision. Fails with CodeNotFound if no document exists and with
	// CodeConflict if the revision is stale.
	Remove(ctx context.Context, key, rev string) (err error)

	// Erase removes all documents. Engines without FeatureErase return an
	// error of code CodeUnsupported, see WithErase.
	Erase(ctx context.Context) (err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns the current document for the given key.
	// Fails with CodeNotFound if the key does not exist.
	// The returned value is a copy and safe to modify.
	Get(ctx context.Context, key string) (doc Doc, err error)

	// AllKeys returns the keys of all live documents in ascending order.
	AllKeys(ctx context.Context) (keys []string, err error)

	// Info returns information about the database. DocCount must be exact.
	Info(ctx context.Context) (info DatabaseInfo, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Returns true if the feature is supported, false otherwise.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// Close closes the database. Any call after Close fails with CodeClosed.
	Close() (err error)
}
