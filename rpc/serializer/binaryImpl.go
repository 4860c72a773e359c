package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/konceiver/dockv/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: [MsgType][flags] followed by every present field in flag order.
// Strings and byte slices are prefixed with a uint32 length, Keys with a
// uint32 element count, Count is a uint64 and Err is followed by its code byte.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey   byte = 1 << 0
	hasRev   byte = 1 << 1
	hasValue byte = 1 << 2
	hasKeys  byte = 1 << 3
	hasCount byte = 1 << 4
	hasOk    byte = 1 << 5
	hasErr   byte = 1 << 6
	hasMeta  byte = 1 << 7
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, 2, b.sizeBytes(msg))

	// Write message type
	result[0] = byte(msg.MsgType)

	// Initialize flags byte
	var flags byte = 0

	if msg.Key != "" {
		flags |= hasKey
		result = appendBytes(result, []byte(msg.Key))
	}

	if msg.Rev != "" {
		flags |= hasRev
		result = appendBytes(result, []byte(msg.Rev))
	}

	// nil and empty values are different, an empty value is a valid document
	if msg.Value != nil {
		flags |= hasValue
		result = appendBytes(result, msg.Value)
	}

	if msg.Keys != nil {
		flags |= hasKeys
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Keys)))
		for _, key := range msg.Keys {
			result = appendBytes(result, []byte(key))
		}
	}

	if msg.Count > 0 {
		flags |= hasCount
		result = binary.BigEndian.AppendUint64(result, msg.Count)
	}

	if msg.Ok {
		flags |= hasOk
		result = append(result, 1)
	}

	if msg.Err != "" || msg.Code != 0 {
		flags |= hasErr
		result = appendBytes(result, []byte(msg.Err))
		result = append(result, msg.Code)
	}

	if msg.Meta != nil {
		flags |= hasMeta
		result = appendBytes(result, msg.Meta)
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	r := reader{data: data, pos: 2}

	// Read message type and flags, fields not present stay zero
	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := data[1]

	if flags&hasKey != 0 {
		key, err := r.bytes("key")
		if err != nil {
			return err
		}
		msg.Key = string(key)
	}

	if flags&hasRev != 0 {
		rev, err := r.bytes("rev")
		if err != nil {
			return err
		}
		msg.Rev = string(rev)
	}

	if flags&hasValue != 0 {
		value, err := r.bytes("value")
		if err != nil {
			return err
		}
		msg.Value = append(make([]byte, 0, len(value)), value...)
	}

	if flags&hasKeys != 0 {
		n, err := r.uint32("keys")
		if err != nil {
			return err
		}
		// every key needs at least its length prefix
		if int(n) > (len(data)-r.pos)/4 {
			return fmt.Errorf("data too short for %d keys", n)
		}
		msg.Keys = make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			key, err := r.bytes("keys")
			if err != nil {
				return err
			}
			msg.Keys = append(msg.Keys, string(key))
		}
	}

	if flags&hasCount != 0 {
		if r.pos+8 > len(data) {
			return fmt.Errorf("data too short for count")
		}
		msg.Count = binary.BigEndian.Uint64(data[r.pos : r.pos+8])
		r.pos += 8
	}

	if flags&hasOk != 0 {
		if r.pos+1 > len(data) {
			return fmt.Errorf("data too short for Ok flag")
		}
		msg.Ok = data[r.pos] != 0
		r.pos += 1
	}

	if flags&hasErr != 0 {
		errBytes, err := r.bytes("error")
		if err != nil {
			return err
		}
		if r.pos+1 > len(data) {
			return fmt.Errorf("data too short for error code")
		}
		msg.Err = string(errBytes)
		msg.Code = data[r.pos]
		r.pos += 1
	}

	if flags&hasMeta != 0 {
		meta, err := r.bytes("meta")
		if err != nil {
			return err
		}
		msg.Meta = append(make([]byte, 0, len(meta)), meta...)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Rev != "" {
		size += 4 + len(msg.Rev)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Keys != nil {
		size += 4
		for _, key := range msg.Keys {
			size += 4 + len(key)
		}
	}
	if msg.Count > 0 {
		size += 8
	}
	if msg.Ok {
		size += 1
	}
	if msg.Err != "" || msg.Code != 0 {
		size += 4 + len(msg.Err) + 1
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}

	return size
}

// appendBytes appends b with its uint32 length prefix
func appendBytes(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// reader tracks the read position in a serialized message
type reader struct {
	data []byte
	pos  int
}

func (r *reader) uint32(field string) (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("data too short for %s length", field)
	}
	n := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return n, nil
}

// bytes reads a length prefixed field, the result aliases the input data
func (r *reader) bytes(field string) ([]byte, error) {
	n, err := r.uint32(field)
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.data) {
		return nil, fmt.Errorf("data too short for %s data", field)
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}
