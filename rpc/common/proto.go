package common

import (
	"encoding/json"
	"fmt"

	"github.com/konceiver/dockv/lib/db"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key   string   `json:"key,omitempty"`   // Used for: Get, Put, Remove
	Rev   string   `json:"rev,omitempty"`   // Used for: Put, Remove (request), Get, Put (response)
	Value []byte   `json:"value,omitempty"` // Used for: Put, Load (request), Get, Save (response)
	Keys  []string `json:"keys,omitempty"`  // Used for: AllKeys (response)
	Count uint64   `json:"count,omitempty"` // Used for: Features (response)

	// Response only fields
	Ok   bool   `json:"ok,omitempty"`   // Used for: Get responses
	Err  string `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message
	Code uint8  `json:"code,omitempty"` // db.Code of Err, lets clients tell conflicts from failures

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: Info (response, json encoded db.DatabaseInfo)
}

// ResponseError converts the error fields of a response back into a *db.Error,
// it returns nil if the response carries no error
func (m *Message) ResponseError() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	return db.NewError(db.Code(m.Code), "remote: %s", m.Err)
}

// setErr stores err and its code in the message
func (m *Message) setErr(err error) *Message {
	if err != nil {
		m.Err = err.Error()
		m.Code = uint8(db.CodeOf(err))
	}
	return m
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{
		MsgType: MsgTDocGet,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response. Ok is false if the document was not found.
func NewGetResponse(doc db.Doc, err error) *Message {
	msg := &Message{MsgType: MsgTDocGet}
	if err == nil {
		msg.Ok = true
		msg.Key = doc.Key
		msg.Rev = doc.Rev
		msg.Value = doc.Value
		if msg.Value == nil {
			msg.Value = []byte{}
		}
	}
	return msg.setErr(err)
}

// NewPutRequest creates a new Put request
func NewPutRequest(doc db.Doc) *Message {
	return &Message{
		MsgType: MsgTDocPut,
		Key:     doc.Key,
		Rev:     doc.Rev,
		Value:   doc.Value,
	}
}

// NewPutResponse creates a new Put response carrying the new revision
func NewPutResponse(rev string, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocPut,
		Rev:     rev,
	}
	return msg.setErr(err)
}

// NewRemoveRequest creates a new Remove request
func NewRemoveRequest(key, rev string) *Message {
	return &Message{
		MsgType: MsgTDocRemove,
		Key:     key,
		Rev:     rev,
	}
}

// NewRemoveResponse creates a new Remove response
func NewRemoveResponse(err error) *Message {
	return (&Message{MsgType: MsgTDocRemove}).setErr(err)
}

// NewEraseRequest creates a new Erase request
func NewEraseRequest() *Message {
	return &Message{MsgType: MsgTDocErase}
}

// NewEraseResponse creates a new Erase response
func NewEraseResponse(err error) *Message {
	return (&Message{MsgType: MsgTDocErase}).setErr(err)
}

// NewAllKeysRequest creates a new AllKeys request
func NewAllKeysRequest() *Message {
	return &Message{MsgType: MsgTDocAllKeys}
}

// NewAllKeysResponse creates a new AllKeys response
func NewAllKeysResponse(keys []string, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocAllKeys,
		Keys:    keys,
	}
	return msg.setErr(err)
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTDocInfo}
}

// NewInfoResponse creates a new Info response, the info is json encoded into Meta
func NewInfoResponse(info db.DatabaseInfo, err error) *Message {
	msg := &Message{MsgType: MsgTDocInfo}
	if err == nil {
		meta, mErr := json.Marshal(info)
		if mErr != nil {
			return msg.setErr(db.WrapError(db.CodeInternal, mErr, "encode info"))
		}
		msg.Meta = meta
	}
	return msg.setErr(err)
}

// NewSaveRequest creates a new Save request
func NewSaveRequest() *Message {
	return &Message{MsgType: MsgTDocSave}
}

// NewSaveResponse creates a new Save response carrying the snapshot
func NewSaveResponse(snapshot []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocSave,
		Value:   snapshot,
	}
	return msg.setErr(err)
}

// NewLoadRequest creates a new Load request carrying the snapshot
func NewLoadRequest(snapshot []byte) *Message {
	return &Message{
		MsgType: MsgTDocLoad,
		Value:   snapshot,
	}
}

// NewLoadResponse creates a new Load response
func NewLoadResponse(err error) *Message {
	return (&Message{MsgType: MsgTDocLoad}).setErr(err)
}

// NewFeaturesRequest creates a request for the features of the remote database
func NewFeaturesRequest() *Message {
	return &Message{MsgType: MsgTDocFeatures}
}

// NewFeaturesResponse creates a new Features response, the flags are stored in Count
func NewFeaturesResponse(features db.Feature) *Message {
	return &Message{
		MsgType: MsgTDocFeatures,
		Count:   uint64(features),
	}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code db.Code, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
		Code:    uint8(code),
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:     "success",
	MsgTError:       "error",
	MsgTDocGet:      "get",
	MsgTDocPut:      "put",
	MsgTDocRemove:   "remove",
	MsgTDocErase:    "erase",
	MsgTDocAllKeys:  "allKeys",
	MsgTDocInfo:     "info",
	MsgTDocSave:     "save",
	MsgTDocLoad:     "load",
	MsgTDocFeatures: "features",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// db.KVDB operations

	MsgTDocGet      // Get a document
	MsgTDocPut      // Create or update a document
	MsgTDocRemove   // Remove a document
	MsgTDocErase    // Remove all documents
	MsgTDocAllKeys  // List the keys of all documents
	MsgTDocInfo     // Database information
	MsgTDocSave     // Serialize the database
	MsgTDocLoad     // Replace the database with a snapshot
	MsgTDocFeatures // Query the supported features
)
