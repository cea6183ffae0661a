// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// sampleMember mirrors the shape of a reduced API member: cbor tags,
// nested slices, optional fields.
type sampleMember struct {
	Name        string   `cbor:"name"`
	Descriptor  string   `cbor:"desc"`
	Exceptions  []string `cbor:"exceptions"`
	Annotations []string `cbor:"annotations,omitempty"`
}

// sampleSnapshotEntry uses json tags, relying on fxamacker's fallback.
type sampleSnapshotEntry struct {
	Name      string `json:"name"`
	Signature []byte `json:"signature"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleMember{
		Name:       "foo",
		Descriptor: "(I)V",
		Exceptions: []string{"java/io/IOException"},
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleMember
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Name != original.Name || decoded.Descriptor != original.Descriptor {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
	if len(decoded.Exceptions) != 1 || decoded.Exceptions[0] != "java/io/IOException" {
		t.Errorf("Exceptions = %v, want [java/io/IOException]", decoded.Exceptions)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestNilAndEmptySliceEncodeIdentically(t *testing.T) {
	withNil := sampleMember{Name: "foo", Descriptor: "()V"}
	withEmpty := sampleMember{Name: "foo", Descriptor: "()V", Exceptions: []string{}}

	nilData, err := Marshal(withNil)
	if err != nil {
		t.Fatal(err)
	}
	emptyData, err := Marshal(withEmpty)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(nilData, emptyData) {
		t.Errorf("nil slice encoded as %x, empty slice as %x", nilData, emptyData)
	}
}

func TestJSONTagFallback(t *testing.T) {
	original := sampleSnapshotEntry{Name: "com/example/A.class", Signature: []byte{1, 2, 3}}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleSnapshotEntry
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Name != original.Name || !bytes.Equal(decoded.Signature, original.Signature) {
		t.Errorf("json-tag roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	members := []sampleMember{
		{Name: "a", Descriptor: "()V"},
		{Name: "b", Descriptor: "(J)Z"},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, member := range members {
		if err := encoder.Encode(member); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range members {
		var got sampleMember
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode member %d: %v", i, err)
		}
		if got.Name != want.Name || got.Descriptor != want.Descriptor {
			t.Errorf("member %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var member sampleMember
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &member); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}
