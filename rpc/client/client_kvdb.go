package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync/atomic"
	"time"

	"github.com/konceiver/dockv/lib/db"
	"github.com/konceiver/dockv/rpc/common"
	"github.com/konceiver/dockv/rpc/serializer"
	"github.com/konceiver/dockv/rpc/transport"
)

// NewRPCDB creates a db.KVDB that forwards every operation to the database
// served for shardId by a remote RPC server.
// The function takes a shard ID, a config, a transport and a serializer as parameters.
// It connects the transport and asks the server for the features of the remote
// database, so an unknown shard fails here and not on first use.
func NewRPCDB(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (db.KVDB, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, db.WrapError(db.CodeUnavailable, err, "failed to connect")
	}

	r := &rpcDB{
		rpcClientAdapter: rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}

	// Fetch the features once, they don't change for the lifetime of a database
	ctx, cancel := r.requestContext()
	defer cancel()
	resp, err := invokeRPCRequest(ctx, common.NewFeaturesRequest(), &r.rpcClientAdapter)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}
	r.features = db.Feature(resp.Count)

	Logger.Debugf("connected to shard %d (features %s)", shardId, r.features)
	return r, nil
}

// rpcDB implements db.KVDB on top of an RPC transport
type rpcDB struct {
	rpcClientAdapter
	features db.Feature
	closed   atomic.Bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.KVDB)
// --------------------------------------------------------------------------

func (r *rpcDB) Put(ctx context.Context, doc db.Doc) (string, error) {
	resp, err := r.invoke(ctx, common.NewPutRequest(doc))
	if err != nil {
		return "", err
	}
	return resp.Rev, nil
}

func (r *rpcDB) Remove(ctx context.Context, key, rev string) error {
	_, err := r.invoke(ctx, common.NewRemoveRequest(key, rev))
	return err
}

func (r *rpcDB) Erase(ctx context.Context) error {
	_, err := r.invoke(ctx, common.NewEraseRequest())
	return err
}

func (r *rpcDB) Get(ctx context.Context, key string) (db.Doc, error) {
	resp, err := r.invoke(ctx, common.NewGetRequest(key))
	if err != nil {
		return db.Doc{}, err
	}
	if !resp.Ok {
		return db.Doc{}, db.ErrNotFound(key)
	}

	value := resp.Value
	if value == nil {
		value = []byte{}
	}
	return db.Doc{Key: key, Rev: resp.Rev, Value: value}, nil
}

func (r *rpcDB) AllKeys(ctx context.Context) ([]string, error) {
	resp, err := r.invoke(ctx, common.NewAllKeysRequest())
	if err != nil {
		return nil, err
	}
	if resp.Keys == nil {
		return []string{}, nil
	}
	return resp.Keys, nil
}

func (r *rpcDB) Info(ctx context.Context) (db.DatabaseInfo, error) {
	resp, err := r.invoke(ctx, common.NewInfoRequest())
	if err != nil {
		return db.DatabaseInfo{}, err
	}

	var remote db.DatabaseInfo
	if err := json.Unmarshal(resp.Meta, &remote); err != nil {
		return db.DatabaseInfo{}, db.WrapError(db.CodeInternal, err, "failed to decode info")
	}

	return db.DatabaseInfo{
		DocCount:          remote.DocCount,
		UpdateSeq:         remote.UpdateSeq,
		SizeBytes:         remote.SizeBytes,
		DbType:            db.ImplRemote,
		SupportedFeatures: r.features.Split(),
		Metadata: map[string]interface{}{
			"shard":           r.shardId,
			"endpoints":       r.config.Transport.Endpoints,
			"engine":          string(remote.DbType),
			"engine_metadata": remote.Metadata,
		},
	}, nil
}

func (r *rpcDB) Save(w io.Writer) error {
	ctx, cancel := r.requestContext()
	defer cancel()

	resp, err := r.invoke(ctx, common.NewSaveRequest())
	if err != nil {
		return err
	}
	_, err = io.Copy(w, bytes.NewReader(resp.Value))
	return err
}

func (r *rpcDB) Load(reader io.Reader) error {
	snapshot, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	ctx, cancel := r.requestContext()
	defer cancel()

	_, err = r.invoke(ctx, common.NewLoadRequest(snapshot))
	return err
}

func (r *rpcDB) SupportsFeature(feature db.Feature) bool {
	return r.features&feature == feature
}

// Close closes the transport, the remote database stays open
func (r *rpcDB) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// invoke sends req unless the database was closed
func (r *rpcDB) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	if r.closed.Load() {
		return nil, db.ErrClosed
	}
	return invokeRPCRequest(ctx, req, &r.rpcClientAdapter)
}

// requestContext bounds operations that don't take a context (Save, Load) by
// the retry budget of the transport
func (r *rpcDB) requestContext() (context.Context, context.CancelFunc) {
	timeout := time.Duration(r.config.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout*time.Duration(max(1, r.config.Transport.RetryCount)))
}
