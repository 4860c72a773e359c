package client

import (
	"context"

	"github.com/konceiver/dockv/lib/db"
	"github.com/konceiver/dockv/rpc/common"
	"github.com/konceiver/dockv/rpc/serializer"
	"github.com/konceiver/dockv/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a context, a request message and the adapter holding transport and serializer.
// It returns a response message and an error if any occurs.
// This method also checks if the response is an error response and if the type of the
// response is the expected type. Errors reported by the server keep their db.Code,
// transport failures are reported as db.CodeUnavailable.
func invokeRPCRequest(ctx context.Context, req *common.Message, a *rpcClientAdapter) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, db.WrapError(db.CodeInvalid, err, "failed to serialize %s request", req.MsgType)
	}

	// Send the request
	respBytes, err := a.transport.Send(ctx, a.shardId, reqBytes)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, db.WrapError(db.CodeUnavailable, err, "shard %d unreachable", a.shardId)
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, db.WrapError(db.CodeInternal, err, "failed to deserialize %s response", req.MsgType)
	}

	// Check if the response is an error response
	if err := resp.ResponseError(); err != nil {
		return nil, err
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, db.NewError(db.CodeInternal, "unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	// Return the response
	return resp, nil
}
