package cache

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// Encoded values carry a one-byte format tag.
const (
	formatMsgpack byte = 'm'
	formatProto   byte = 'p'
)

// encode serializes protobuf messages in wire format and everything else
// with msgpack.
func encode(v interface{}) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		data, err := proto.Marshal(m)
		if err != nil {
			return nil, err
		}
		return append([]byte{formatProto}, data...), nil
	}

	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte{formatMsgpack}, data...), nil
}

// decode fills dest, which must be a non-nil pointer. A pointer to a
// protobuf message pointer (as produced by GetOrSet[*pb.Msg]) gets a fresh
// message allocated.
func decode(data []byte, dest interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("empty cache payload")
	}
	format, body := data[0], data[1:]

	switch format {
	case formatProto:
		if m, ok := dest.(proto.Message); ok {
			return proto.Unmarshal(body, m)
		}
		rv := reflect.ValueOf(dest)
		if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Ptr {
			return fmt.Errorf("cannot decode protobuf payload into %T", dest)
		}
		m, ok := reflect.New(rv.Elem().Type().Elem()).Interface().(proto.Message)
		if !ok {
			return fmt.Errorf("cannot decode protobuf payload into %T", dest)
		}
		if err := proto.Unmarshal(body, m); err != nil {
			return err
		}
		rv.Elem().Set(reflect.ValueOf(m))
		return nil
	case formatMsgpack:
		return msgpack.Unmarshal(body, dest)
	default:
		return fmt.Errorf("unknown cache payload format %q", format)
	}
}

// isEmpty reports whether v is an absent result that must not be cached.
func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}
