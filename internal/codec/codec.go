// Package codec converts user metadata between its structured form and the
// byte buffer carried on the wire.  Values are modelled as *structpb.Value,
// a tagged sum over null, bool, number, string, list and object, so
// business code never handles an untyped blob.
package codec

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/rpcerr"
)

// Encode serializes v as UTF-8 JSON text.  A nil value encodes as an empty
// object.
func Encode(v *structpb.Value) ([]byte, error) {
	if v == nil {
		v = structpb.NewStructValue(&structpb.Struct{})
	}
	b, err := protojson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

// Decode parses JSON text back into a value.  Empty or whitespace-only input
// yields an empty object.  Malformed input is a VALIDATION error.
func Decode(b []byte) (*structpb.Value, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return structpb.NewStructValue(&structpb.Struct{}), nil
	}
	v := &structpb.Value{}
	if err := protojson.Unmarshal(b, v); err != nil {
		e := rpcerr.Validation(rpcerr.CodeInvalidMetadata, "metadata is not valid JSON")
		e.Err = err
		return nil, e
	}
	return v, nil
}

// EncodeStruct encodes an object.  A nil struct encodes as "{}".
func EncodeStruct(s *structpb.Struct) ([]byte, error) {
	if s == nil {
		s = &structpb.Struct{}
	}
	return Encode(structpb.NewStructValue(s))
}

// DecodeStruct decodes b and requires the result to be a JSON object.
func DecodeStruct(b []byte) (*structpb.Struct, error) {
	v, err := Decode(b)
	if err != nil {
		return nil, err
	}
	s := v.GetStructValue()
	if s == nil {
		return nil, rpcerr.Validation(rpcerr.CodeInvalidMetadata, "metadata must be a JSON object")
	}
	if s.Fields == nil {
		s.Fields = map[string]*structpb.Value{}
	}
	return s, nil
}

// FromMap builds an object from plain Go values (see structpb.NewStruct for
// the accepted types).
func FromMap(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, rpcerr.Validation(rpcerr.CodeInvalidMetadata, "metadata is not JSON compatible: %v", err)
	}
	return s, nil
}
