package store

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// --------------------------------------------------------------------------
// Codec Interfaces
// --------------------------------------------------------------------------

// KeyCodec maps keys onto the string document ids of the database.
// EncodeKey must be injective, DecodeKey must invert it.
type KeyCodec[K comparable] interface {
	EncodeKey(key K) (string, error)
	DecodeKey(id string) (K, error)
}

// ValueCodec maps values onto the bytes stored in the database
type ValueCodec[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// --------------------------------------------------------------------------
// Key Codecs
// --------------------------------------------------------------------------

// DefaultKeyCodec returns the codec used when no key codec is configured:
// strings are used as they are, integers in decimal notation and all other
// key types are JSON encoded.
func DefaultKeyCodec[K comparable]() KeyCodec[K] {
	var zero K
	switch any(zero).(type) {
	case string:
		return stringKeyCodec[K]{}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return decimalKeyCodec[K]{}
	default:
		return JSONKeyCodec[K]{}
	}
}

// stringKeyCodec is the identity codec for string keys
type stringKeyCodec[K comparable] struct{}

func (stringKeyCodec[K]) EncodeKey(key K) (string, error) {
	return any(key).(string), nil
}

func (stringKeyCodec[K]) DecodeKey(id string) (K, error) {
	return any(id).(K), nil
}

// decimalKeyCodec encodes integer keys in decimal notation
type decimalKeyCodec[K comparable] struct{}

func (decimalKeyCodec[K]) EncodeKey(key K) (string, error) {
	return fmt.Sprint(key), nil
}

func (decimalKeyCodec[K]) DecodeKey(id string) (K, error) {
	var key K
	var err error
	var i int64
	var u uint64

	switch any(key).(type) {
	case int:
		i, err = strconv.ParseInt(id, 10, strconv.IntSize)
		key = any(int(i)).(K)
	case int8:
		i, err = strconv.ParseInt(id, 10, 8)
		key = any(int8(i)).(K)
	case int16:
		i, err = strconv.ParseInt(id, 10, 16)
		key = any(int16(i)).(K)
	case int32:
		i, err = strconv.ParseInt(id, 10, 32)
		key = any(int32(i)).(K)
	case int64:
		i, err = strconv.ParseInt(id, 10, 64)
		key = any(i).(K)
	case uint:
		u, err = strconv.ParseUint(id, 10, strconv.IntSize)
		key = any(uint(u)).(K)
	case uint8:
		u, err = strconv.ParseUint(id, 10, 8)
		key = any(uint8(u)).(K)
	case uint16:
		u, err = strconv.ParseUint(id, 10, 16)
		key = any(uint16(u)).(K)
	case uint32:
		u, err = strconv.ParseUint(id, 10, 32)
		key = any(uint32(u)).(K)
	case uint64:
		u, err = strconv.ParseUint(id, 10, 64)
		key = any(u).(K)
	default:
		return key, fmt.Errorf("decimal key codec does not support %T", key)
	}
	return key, err
}

// JSONKeyCodec encodes keys as JSON documents.
// Map keys of K are sorted by encoding/json, so equal keys encode equally.
type JSONKeyCodec[K comparable] struct{}

func (JSONKeyCodec[K]) EncodeKey(key K) (string, error) {
	b, err := json.Marshal(key)
	return string(b), err
}

func (JSONKeyCodec[K]) DecodeKey(id string) (K, error) {
	var key K
	err := json.Unmarshal([]byte(id), &key)
	return key, err
}

// --------------------------------------------------------------------------
// Value Codecs
// --------------------------------------------------------------------------

// JSONCodec stores values as JSON, it is the default value codec
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(value T) ([]byte, error) {
	return json.Marshal(value)
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var value T
	err := json.Unmarshal(data, &value)
	return value, err
}

// GobCodec stores values in the encoding/gob format
type GobCodec[T any] struct{}

func (GobCodec[T]) Encode(value T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec[T]) Decode(data []byte) (T, error) {
	var value T
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&value)
	return value, err
}

// YAMLCodec stores values as YAML documents
type YAMLCodec[T any] struct{}

func (YAMLCodec[T]) Encode(value T) ([]byte, error) {
	return yaml.Marshal(value)
}

func (YAMLCodec[T]) Decode(data []byte) (T, error) {
	var value T
	err := yaml.Unmarshal(data, &value)
	return value, err
}

// RawCodec stores byte slices unchanged
type RawCodec struct{}

func (RawCodec) Encode(value []byte) ([]byte, error) {
	return value, nil
}

func (RawCodec) Decode(data []byte) ([]byte, error) {
	return data, nil
}
