package facecode

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestExtractRejectsNil(t *testing.T) {
	_, err := Extract(nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExtractEmptyBufferIsDegenerate(t *testing.T) {
	code, err := Extract([]byte{})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if code.Hash != 0 {
		t.Fatalf("expected zero hash, got %d", code.Hash)
	}
	for i, v := range code.Features {
		if want := (i * 7) % 255; v != want {
			t.Fatalf("feature %d: expected %d, got %d", i, want, v)
		}
	}
}

func TestExtractKnownValues(t *testing.T) {
	// base64 of a single zero byte is "AA=="
	code, err := ExtractAt([]byte{0}, time.UnixMilli(1700000000000))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if code.Hash != 2000832 {
		t.Fatalf("expected hash 2000832, got %d", code.Hash)
	}
	want := []int{65, 72, 75, 82, 93}
	for i, v := range want {
		if code.Features[i] != v {
			t.Fatalf("feature %d: expected %d, got %d", i, v, code.Features[i])
		}
	}
	if code.Timestamp != 1700000000000 {
		t.Fatalf("unexpected timestamp: %d", code.Timestamp)
	}
}

func TestExtractRepeatingA(t *testing.T) {
	// 750 zero bytes encode to 1000 'A' characters
	code, err := Extract(make([]byte, 750))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	for i, want := range []int{65, 72, 79} {
		if code.Features[i] != want {
			t.Fatalf("feature %d: expected %d, got %d", i, want, code.Features[i])
		}
	}
	// 65 + 7*27 = 254, then wraps
	if code.Features[27] != 254 || code.Features[28] != 6 {
		t.Fatalf("unexpected wraparound: %d %d", code.Features[27], code.Features[28])
	}
}

func TestExtractHashIgnoresDataPastPrefix(t *testing.T) {
	base := make([]byte, 750)
	tail := append(append([]byte{}, base...), []byte("trailing bytes differ")...)

	a, err := Extract(base)
	if err != nil {
		t.Fatalf("extract base: %v", err)
	}
	b, err := Extract(tail)
	if err != nil {
		t.Fatalf("extract tail: %v", err)
	}
	if a.Hash != b.Hash {
		t.Fatalf("expected colliding hashes, got %d and %d", a.Hash, b.Hash)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, size := range []int{1, 3, 64, 95, 96, 97, 1024, 64 * 1024} {
		buf := make([]byte, size)
		rng.Read(buf)

		first, err := ExtractAt(buf, time.UnixMilli(1))
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		second, err := ExtractAt(bytes.Clone(buf), time.UnixMilli(2))
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}

		if first.Hash != second.Hash {
			t.Fatalf("size %d: hash mismatch %d vs %d", size, first.Hash, second.Hash)
		}
		for i := range first.Features {
			if first.Features[i] != second.Features[i] {
				t.Fatalf("size %d: feature %d mismatch", size, i)
			}
		}
		if err := first.Validate(); err != nil {
			t.Fatalf("size %d: invalid code: %v", size, err)
		}
	}
}

func TestPrefixHashIsNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		s := make([]byte, 1+rng.Intn(2000))
		for j := range s {
			s[j] = byte(32 + rng.Intn(95))
		}
		// wraparound must never leak a sign bit into the stored magnitude
		if h := prefixHash(string(s)); int64(h) > 1<<31 {
			t.Fatalf("hash out of range: %d", h)
		}
	}
}

func TestValidate(t *testing.T) {
	good, err := Extract([]byte("salon"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	tests := []struct {
		name    string
		code    FaceCode
		wantErr bool
	}{
		{"extracted", good, false},
		{"short", FaceCode{Features: make([]int, 127)}, true},
		{"nil features", FaceCode{}, true},
		{"feature 255", FaceCode{Features: withValue(255)}, true},
		{"negative feature", FaceCode{Features: withValue(-1)}, true},
		{"feature 254", FaceCode{Features: withValue(254)}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.code.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestFaceCodeJSONShape(t *testing.T) {
	code, err := ExtractAt([]byte("x"), time.UnixMilli(5))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	raw, err := json.Marshal(code)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"hash", "features", "timestamp"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing %q in %s", key, raw)
		}
	}
	if len(fields) != 3 {
		t.Fatalf("unexpected fields in %s", raw)
	}
}

func withValue(v int) []int {
	out := make([]int, FeatureCount)
	out[FeatureCount-1] = v
	return out
}
