// Package facecode derives fixed-shape face codes from raw image bytes and
// scores how closely two codes align.
//
// A face code is not a biometric template. It is a deterministic fingerprint
// of the base64 text of an image: identical bytes always yield an identical
// hash and feature vector, and the constants below must stay fixed so codes
// persisted by earlier releases keep comparing the same way.
package facecode

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

const (
	// FeatureCount is the length of every feature vector.
	FeatureCount = 128
	// FeatureModulus bounds each feature to [0, FeatureModulus-1].
	FeatureModulus = 255
	// HashPrefixLen caps how many base64 characters feed the hash.
	HashPrefixLen = 1000

	featureStride = 7
)

// ErrInvalidInput is returned when the image source cannot be encoded at all.
var ErrInvalidInput = errors.New("facecode: invalid input")

// FaceCode is the descriptor produced for one captured image. Treat it as a
// value: nothing in this package mutates a FaceCode after construction.
type FaceCode struct {
	Hash      uint32 `json:"hash"`
	Features  []int  `json:"features"`
	Timestamp int64  `json:"timestamp"`
}

// Extract builds a FaceCode for imageBytes stamped with the current time.
func Extract(imageBytes []byte) (FaceCode, error) {
	return ExtractAt(imageBytes, time.Now())
}

// ExtractAt builds a FaceCode for imageBytes stamped with capturedAt.
// A nil buffer is rejected; an empty one yields the degenerate code whose
// features are 7i mod 255.
func ExtractAt(imageBytes []byte, capturedAt time.Time) (FaceCode, error) {
	if imageBytes == nil {
		return FaceCode{}, ErrInvalidInput
	}

	encoded := base64.StdEncoding.EncodeToString(imageBytes)
	return FaceCode{
		Hash:      prefixHash(encoded),
		Features:  features(encoded),
		Timestamp: capturedAt.UnixMilli(),
	}, nil
}

// prefixHash runs hash = hash*31 + c with int32 wraparound over the first
// HashPrefixLen characters and returns the magnitude of the result.
func prefixHash(s string) uint32 {
	n := len(s)
	if n > HashPrefixLen {
		n = HashPrefixLen
	}

	var h int32
	for i := 0; i < n; i++ {
		h = (h << 5) - h + int32(s[i])
	}

	v := int64(h)
	if v < 0 {
		v = -v
	}
	return uint32(v)
}

func features(s string) []int {
	out := make([]int, FeatureCount)
	for i := range out {
		seed := 0
		if len(s) > 0 {
			seed = int(s[i%len(s)])
		}
		out[i] = (seed + i*featureStride) % FeatureModulus
	}
	return out
}

// Validate reports whether a decoded FaceCode has the shape Extract produces.
func (fc FaceCode) Validate() error {
	if len(fc.Features) != FeatureCount {
		return fmt.Errorf("facecode: expected %d features, got %d", FeatureCount, len(fc.Features))
	}
	for i, v := range fc.Features {
		if v < 0 || v >= FeatureModulus {
			return fmt.Errorf("facecode: feature %d out of range: %d", i, v)
		}
	}
	return nil
}

// Vector returns the features as float64 values for scoring.
func (fc FaceCode) Vector() []float64 {
	if fc.Features == nil {
		return nil
	}
	out := make([]float64, len(fc.Features))
	for i, v := range fc.Features {
		out[i] = float64(v)
	}
	return out
}

// CapturedAt returns the timestamp as a time.Time.
func (fc FaceCode) CapturedAt() time.Time {
	return time.UnixMilli(fc.Timestamp)
}
