package server

import (
	"bytes"
	"context"

	"github.com/konceiver/dockv/lib/db"
	"github.com/konceiver/dockv/rpc/common"
)

func NewKVDBServerAdapter() IRPCServerAdapter {
	return &kvdbServerAdapterImpl{}
}

type kvdbServerAdapterImpl struct{}

func (adapter *kvdbServerAdapterImpl) Handle(ctx context.Context, req *common.Message, database db.KVDB) *common.Message {
	// Check for nil database
	if database == nil {
		return common.NewErrorResponse(db.CodeInternal, "handler: database is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTDocGet:
		doc, err := database.Get(ctx, req.Key)
		return common.NewGetResponse(doc, err)
	case common.MsgTDocPut:
		rev, err := database.Put(ctx, db.Doc{Key: req.Key, Rev: req.Rev, Value: req.Value})
		return common.NewPutResponse(rev, err)
	case common.MsgTDocRemove:
		err := database.Remove(ctx, req.Key, req.Rev)
		return common.NewRemoveResponse(err)
	case common.MsgTDocErase:
		err := database.Erase(ctx)
		return common.NewEraseResponse(err)
	case common.MsgTDocAllKeys:
		keys, err := database.AllKeys(ctx)
		return common.NewAllKeysResponse(keys, err)
	case common.MsgTDocInfo:
		info, err := database.Info(ctx)
		return common.NewInfoResponse(info, err)
	case common.MsgTDocSave:
		var buf bytes.Buffer
		if err := database.Save(&buf); err != nil {
			return common.NewSaveResponse(nil, err)
		}
		return common.NewSaveResponse(buf.Bytes(), nil)
	case common.MsgTDocLoad:
		err := database.Load(bytes.NewReader(req.Value))
		return common.NewLoadResponse(err)
	case common.MsgTDocFeatures:
		var features db.Feature
		for _, f := range []db.Feature{
			db.FeatureGet, db.FeaturePut, db.FeatureRemove, db.FeatureAllKeys, db.FeatureInfo,
			db.FeatureErase, db.FeatureSave, db.FeatureLoad, db.FeatureCompaction,
		} {
			if database.SupportsFeature(f) {
				features |= f
			}
		}
		return common.NewFeaturesResponse(features)
	default:
		return common.NewErrorResponse(db.CodeInvalid,
			"RPC KVDBAdapter - unsupported message type: "+req.MsgType.String())
	}
}
