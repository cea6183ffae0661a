// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package abi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/bureau-foundation/buildavoid/lib/classfile"
	"github.com/bureau-foundation/buildavoid/lib/operation"
)

func publicMethod(name, method, descriptor string, body []byte) []byte {
	b := classfile.NewBuilder(name)
	b.Method(classfile.AccPublic, method, descriptor).Code(1, 2, body)
	return b.Bytes()
}

func privateOnly(name string) []byte {
	b := classfile.NewBuilder(name)
	b.Method(classfile.AccPrivate, "secret", "()V").Code(0, 1, []byte{0xb1})
	return b.Bytes()
}

func fingerprint(t *testing.T, records ...Record) *Result {
	t.Helper()
	result, err := NewFingerprinter(NewExtractor(Options{}), nil).Fingerprint(context.Background(), records)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	return result
}

func entryNamed(t *testing.T, result *Result, name string) Entry {
	t.Helper()
	for _, entry := range result.Entries {
		if entry.Name == name {
			return entry
		}
	}
	t.Fatalf("no entry named %s in %+v", name, result.Entries)
	return Entry{}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	data := publicMethod("com/example/A", "foo", "()V", []byte{0xb1})
	first := fingerprint(t, RecordFromBytes("com/example/A.class", data))
	second := fingerprint(t, RecordFromBytes("com/example/A.class", append([]byte(nil), data...)))
	if first.Entries[0].Signature != second.Entries[0].Signature {
		t.Error("identical bytes produced different signatures")
	}
	if first.Aggregate() != second.Aggregate() {
		t.Error("identical inputs produced different aggregates")
	}
}

func TestFingerprintOmitsClassesWithoutSurface(t *testing.T) {
	result := fingerprint(t,
		RecordFromBytes("com/example/Hidden.class", privateOnly("com/example/Hidden")),
		RecordFromBytes("com/example/A.class", publicMethod("com/example/A", "foo", "()V", []byte{0xb1})),
	)
	if len(result.Entries) != 1 || result.Entries[0].Name != "com/example/A.class" {
		t.Errorf("entries = %+v, want only com/example/A.class", result.Entries)
	}
	if len(result.Diagnostics) != 0 {
		t.Errorf("diagnostics = %v, want none", result.Diagnostics)
	}
}

func TestFingerprintFallback(t *testing.T) {
	garbage := []byte("\xca\xfe\xba\xbe truncated")
	result := fingerprint(t,
		RecordFromBytes("com/example/C.class", garbage),
		RecordFromBytes("com/example/A.class", publicMethod("com/example/A", "foo", "()V", []byte{0xb1})),
	)

	if len(result.Entries) != 2 {
		t.Fatalf("got %d entries, want 2 (processing must continue past the malformed record)", len(result.Entries))
	}
	fallback := result.Entries[0]
	if fallback.Name != "com/example/C.class" || !fallback.Fallback {
		t.Errorf("first entry = %+v, want fallback for C", fallback)
	}
	if fallback.Signature != Digest(garbage) {
		t.Error("fallback signature is not the digest of the original bytes")
	}
	if result.Entries[1].Fallback {
		t.Error("well-formed record flagged as fallback")
	}

	if len(result.Diagnostics) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(result.Diagnostics))
	}
	diagnostic := result.Diagnostics[0]
	if diagnostic.Name != "com/example/C.class" {
		t.Errorf("diagnostic name = %q, want com/example/C.class", diagnostic.Name)
	}
	if !errors.Is(diagnostic, classfile.ErrMalformed) {
		t.Errorf("diagnostic %v does not match ErrMalformed", diagnostic)
	}
}

// TestClasspathEvolution runs two versions of a three-class classpath:
// A unchanged, B's public method gains a parameter, C is malformed.
func TestClasspathEvolution(t *testing.T) {
	malformed := []byte{0xca, 0xfe, 0xba, 0xbe, 0x00}
	version1 := []Record{
		RecordFromBytes("A.class", publicMethod("A", "foo", "()V", []byte{0xb1})),
		RecordFromBytes("B.class", publicMethod("B", "foo", "()V", []byte{0xb1})),
		RecordFromBytes("C.class", malformed),
	}
	version2 := []Record{
		RecordFromBytes("A.class", publicMethod("A", "foo", "()V", []byte{0x00, 0xb1})),
		RecordFromBytes("B.class", publicMethod("B", "foo", "(I)V", []byte{0xb1})),
		RecordFromBytes("C.class", malformed),
	}

	first := fingerprint(t, version1...)
	second := fingerprint(t, version2...)

	if entryNamed(t, first, "A.class").Signature != entryNamed(t, second, "A.class").Signature {
		t.Error("Signature(A) changed although only its body did")
	}
	if entryNamed(t, first, "B.class").Signature == entryNamed(t, second, "B.class").Signature {
		t.Error("Signature(B) unchanged although its public signature changed")
	}
	c := entryNamed(t, second, "C.class")
	if !c.Fallback || c.Signature != Digest(malformed) {
		t.Errorf("C entry = %+v, want fallback digest", c)
	}
	if len(second.Diagnostics) != 1 || second.Diagnostics[0].Name != "C.class" {
		t.Errorf("diagnostics = %v, want one for C.class", second.Diagnostics)
	}

	delta := Compare(NewSnapshot(first), NewSnapshot(second))
	if !delta.RequiresRecompile() {
		t.Error("delta does not require recompilation")
	}
	if len(delta.Changed) != 1 || delta.Changed[0] != "B.class" {
		t.Errorf("Changed = %v, want [B.class]", delta.Changed)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestFingerprintContentUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		record Record
	}{
		{
			name: "open fails",
			record: Record{Name: "gone.class", Size: -1, Open: func() (io.ReadCloser, error) {
				return nil, errors.New("no such file")
			}},
		},
		{
			name: "read fails",
			record: Record{Name: "gone.class", Size: -1, Open: func() (io.ReadCloser, error) {
				return io.NopCloser(failingReader{}), nil
			}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			valid := RecordFromBytes("A.class", publicMethod("A", "foo", "()V", []byte{0xb1}))
			_, err := NewFingerprinter(NewExtractor(Options{}), nil).
				Fingerprint(context.Background(), []Record{valid, test.record})
			if !errors.Is(err, ErrContentUnavailable) {
				t.Fatalf("err = %v, want ErrContentUnavailable", err)
			}
			if !strings.Contains(err.Error(), "gone.class") {
				t.Errorf("error %q does not name the record", err)
			}
		})
	}
}

func manyRecords() []Record {
	var records []Record
	for i := range 40 {
		name := fmt.Sprintf("com/example/C%02d", i)
		switch i % 4 {
		case 0:
			records = append(records, RecordFromBytes(name+".class", privateOnly(name)))
		case 1:
			records = append(records, RecordFromBytes(name+".class", []byte(name)))
		default:
			records = append(records, RecordFromBytes(name+".class", publicMethod(name, "run", "()V", []byte{0xb1})))
		}
	}
	return records
}

func TestFingerprintParallelMatchesSerial(t *testing.T) {
	records := manyRecords()
	fingerprinter := NewFingerprinter(NewExtractor(Options{}), nil)

	serial, err := fingerprinter.Fingerprint(context.Background(), records)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	parallel, err := fingerprinter.FingerprintParallel(context.Background(), records, 8)
	if err != nil {
		t.Fatalf("FingerprintParallel: %v", err)
	}

	if len(serial.Entries) != len(parallel.Entries) {
		t.Fatalf("parallel produced %d entries, serial %d", len(parallel.Entries), len(serial.Entries))
	}
	for i := range serial.Entries {
		if serial.Entries[i] != parallel.Entries[i] {
			t.Errorf("entry %d: parallel %+v, serial %+v", i, parallel.Entries[i], serial.Entries[i])
		}
	}
	if len(parallel.Diagnostics) != 10 {
		t.Errorf("got %d diagnostics, want 10", len(parallel.Diagnostics))
	}
	if serial.Aggregate() != parallel.Aggregate() {
		t.Error("aggregates differ between serial and parallel passes")
	}
}

func TestFingerprintParallelPropagatesUnavailable(t *testing.T) {
	records := manyRecords()
	records[17] = Record{Name: "gone.class", Size: -1, Open: func() (io.ReadCloser, error) {
		return nil, errors.New("permission denied")
	}}
	_, err := NewFingerprinter(NewExtractor(Options{}), nil).
		FingerprintParallel(context.Background(), records, 4)
	if !errors.Is(err, ErrContentUnavailable) {
		t.Errorf("err = %v, want ErrContentUnavailable", err)
	}
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	forward := &Result{Entries: []Entry{
		{Name: "a", Signature: Digest([]byte("1"))},
		{Name: "b", Signature: Digest([]byte("2"))},
	}}
	reversed := &Result{Entries: []Entry{forward.Entries[1], forward.Entries[0]}}
	if forward.Aggregate() != reversed.Aggregate() {
		t.Error("aggregate depends on entry order")
	}

	renamed := &Result{Entries: []Entry{
		{Name: "a", Signature: Digest([]byte("2"))},
		{Name: "b", Signature: Digest([]byte("1"))},
	}}
	if forward.Aggregate() == renamed.Aggregate() {
		t.Error("swapping signatures between names did not change the aggregate")
	}
}

func TestAggregateDomainDiffersFromDigest(t *testing.T) {
	empty := &Result{}
	if empty.Aggregate() == Digest(nil) {
		t.Error("aggregate and class digests share a domain")
	}
}

func TestStrict(t *testing.T) {
	clean := &Result{}
	if err := clean.Strict(); err != nil {
		t.Errorf("Strict on clean result = %v, want nil", err)
	}

	result := fingerprint(t,
		RecordFromBytes("one.class", []byte("x")),
		RecordFromBytes("two.class", []byte("y")),
	)
	err := result.Strict()
	if err == nil {
		t.Fatal("Strict returned nil with diagnostics present")
	}
	if !errors.Is(err, classfile.ErrMalformed) {
		t.Errorf("Strict error %v does not match ErrMalformed", err)
	}
	for _, name := range []string{"one.class", "two.class"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("Strict error does not mention %s: %v", name, err)
		}
	}
}

func TestFingerprintRecordsOperation(t *testing.T) {
	recorder := operation.NewRecorder(nil)
	fingerprinter := NewFingerprinter(NewExtractor(Options{}), recorder)
	_, err := fingerprinter.Fingerprint(context.Background(), []Record{
		RecordFromBytes("A.class", publicMethod("A", "foo", "()V", []byte{0xb1})),
		RecordFromBytes("bad.class", []byte("bad")),
		RecordFromBytes("Hidden.class", privateOnly("Hidden")),
	})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	recorded := recorder.Named("abi.fingerprint")
	if len(recorded) != 1 {
		t.Fatalf("recorded %d fingerprint operations, want 1", len(recorded))
	}
	summary, ok := recorded[0].Result.(Summary)
	if !ok {
		t.Fatalf("operation result is %T, want Summary", recorded[0].Result)
	}
	want := Summary{Records: 3, Entries: 2, Fallbacks: 1}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
}

func TestSignatureText(t *testing.T) {
	signature := Digest([]byte("text"))
	parsed, err := ParseSignature(signature.String())
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}
	if parsed != signature {
		t.Error("ParseSignature(String()) changed the signature")
	}
	if _, err := ParseSignature("abcd"); err == nil {
		t.Error("ParseSignature accepted a short signature")
	}
}
