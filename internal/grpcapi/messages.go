package grpcapi

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/salon-face/internal/facecode"
	"github.com/example/salon-face/internal/imageintake"
)

// MaxMessageSize bounds a single request or response. It admits the largest
// image the HTTP intake accepts plus room for protobuf framing.
const MaxMessageSize = imageintake.MaxUploadSize + 64<<10

const (
	fieldHash      = "hash"
	fieldFeatures  = "features"
	fieldTimestamp = "timestamp"
	fieldA         = "a"
	fieldB         = "b"

	// NumberValue is a double, so integers past 2^53 do not round-trip.
	maxExactInteger = 1 << 53
)

// faceCodeStruct encodes a face code with the same field names as its JSON form.
func faceCodeStruct(code facecode.FaceCode) *structpb.Struct {
	features := make([]*structpb.Value, len(code.Features))
	for i, v := range code.Features {
		features[i] = structpb.NewNumberValue(float64(v))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldHash:      structpb.NewNumberValue(float64(code.Hash)),
		fieldFeatures:  structpb.NewListValue(&structpb.ListValue{Values: features}),
		fieldTimestamp: structpb.NewNumberValue(float64(code.Timestamp)),
	}}
}

// faceCodeFromStruct decodes and validates a face code sent by a peer.
func faceCodeFromStruct(s *structpb.Struct) (facecode.FaceCode, error) {
	fields := s.GetFields()

	hash, err := integral(fields[fieldHash], 0, math.MaxUint32)
	if err != nil {
		return facecode.FaceCode{}, fmt.Errorf("grpcapi: %s: %w", fieldHash, err)
	}
	timestamp, err := integral(fields[fieldTimestamp], -maxExactInteger, maxExactInteger)
	if err != nil {
		return facecode.FaceCode{}, fmt.Errorf("grpcapi: %s: %w", fieldTimestamp, err)
	}

	list := fields[fieldFeatures].GetListValue()
	if list == nil {
		return facecode.FaceCode{}, fmt.Errorf("grpcapi: %s missing", fieldFeatures)
	}
	features := make([]int, len(list.GetValues()))
	for i, v := range list.GetValues() {
		n, err := integral(v, 0, facecode.FeatureModulus-1)
		if err != nil {
			return facecode.FaceCode{}, fmt.Errorf("grpcapi: feature %d: %w", i, err)
		}
		features[i] = int(n)
	}

	code := facecode.FaceCode{Hash: uint32(hash), Features: features, Timestamp: int64(timestamp)}
	if err := code.Validate(); err != nil {
		return facecode.FaceCode{}, err
	}
	return code, nil
}

func integral(v *structpb.Value, lo, hi float64) (float64, error) {
	kind, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, errors.New("not a number")
	}
	n := kind.NumberValue
	if n != math.Trunc(n) || n < lo || n > hi {
		return 0, fmt.Errorf("%v out of range", n)
	}
	return n, nil
}

// vectorsStruct packs the two vectors of a Compare call.
func vectorsStruct(a, b []float64) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldA: vectorValue(a),
		fieldB: vectorValue(b),
	}}
}

// vectorValue keeps nil distinct from an empty list so both ends score the
// same inputs.
func vectorValue(v []float64) *structpb.Value {
	if v == nil {
		return structpb.NewNullValue()
	}
	values := make([]*structpb.Value, len(v))
	for i, x := range v {
		values[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

// vectorFromValue returns nil unless v is a list of numbers, which the
// scorer turns into a score of 0.
func vectorFromValue(v *structpb.Value) []float64 {
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]float64, len(list.GetValues()))
	for i, item := range list.GetValues() {
		kind, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil
		}
		out[i] = kind.NumberValue
	}
	return out
}
