// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filippo.io/age"
)

var created = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func generate(t *testing.T) *Keypair {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}

func writeIdentity(t *testing.T, keypair *Keypair) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys", "cache.key")
	if err := WriteIdentityFile(path, keypair, created); err != nil {
		t.Fatalf("WriteIdentityFile: %v", err)
	}
	return path
}

func TestGenerateKeypair(t *testing.T) {
	keypair := generate(t)
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want age1 prefix", keypair.PublicKey)
	}
	if !bytes.HasPrefix(keypair.PrivateKey.Bytes(), []byte("AGE-SECRET-KEY-1")) {
		t.Error("PrivateKey does not have AGE-SECRET-KEY-1 prefix")
	}
	if other := generate(t); other.PublicKey == keypair.PublicKey {
		t.Error("two generated keypairs share a public key")
	}
}

func TestWriteAndLoadIdentity(t *testing.T) {
	keypair := generate(t)
	path := writeIdentity(t, keypair)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("identity file mode = %v, want 0600", info.Mode().Perm())
	}
	content, _ := os.ReadFile(path)
	if !strings.Contains(string(content), "# public key: "+keypair.PublicKey) {
		t.Errorf("identity file lacks public key comment:\n%s", content)
	}

	keys, err := LoadIdentity(path, nil)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if keys.PublicKey != keypair.PublicKey {
		t.Errorf("loaded PublicKey = %q, want %q", keys.PublicKey, keypair.PublicKey)
	}
	if len(keys.Recipients) != 1 {
		t.Errorf("got %d recipients, want 1", len(keys.Recipients))
	}

	// The loaded keys interoperate with age directly.
	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, keys.Recipients...)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(writer, "compiled classes")
	writer.Close()
	reader, err := age.Decrypt(&sealed, keys.Identity)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	plaintext, _ := io.ReadAll(reader)
	if string(plaintext) != "compiled classes" {
		t.Errorf("round trip = %q", plaintext)
	}
}

func TestWriteIdentityFileRefusesOverwrite(t *testing.T) {
	keypair := generate(t)
	path := writeIdentity(t, keypair)
	if err := WriteIdentityFile(path, generate(t), created); err == nil {
		t.Fatal("WriteIdentityFile overwrote an existing identity")
	}
	keys, err := LoadIdentity(path, nil)
	if err != nil || keys.PublicKey != keypair.PublicKey {
		t.Errorf("original identity damaged: %v", err)
	}
}

func TestLoadIdentityWithRecipients(t *testing.T) {
	mine := generate(t)
	colleague := generate(t)

	keys, err := LoadIdentity(writeIdentity(t, mine), []string{colleague.PublicKey})
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if len(keys.Recipients) != 2 {
		t.Fatalf("got %d recipients, want 2", len(keys.Recipients))
	}

	// The colleague can read what this machine seals.
	var sealed bytes.Buffer
	writer, _ := age.Encrypt(&sealed, keys.Recipients...)
	io.WriteString(writer, "shared entry")
	writer.Close()

	colleagueIdentity, err := age.ParseX25519Identity(string(colleague.PrivateKey.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := age.Decrypt(&sealed, colleagueIdentity); err != nil {
		t.Errorf("colleague cannot decrypt: %v", err)
	}
}

func TestLoadIdentityErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		return path
	}
	first := generate(t)
	second := generate(t)
	two := write("two.key", string(first.PrivateKey.Bytes())+"\n"+string(second.PrivateKey.Bytes())+"\n")
	garbage := write("garbage.key", "not an identity\n")

	for _, path := range []string{filepath.Join(dir, "absent.key"), two, garbage} {
		if _, err := LoadIdentity(path, nil); err == nil {
			t.Errorf("LoadIdentity(%s) succeeded", filepath.Base(path))
		}
	}

	valid := writeIdentity(t, first)
	if _, err := LoadIdentity(valid, []string{"age1notakey"}); err == nil {
		t.Error("LoadIdentity accepted an invalid recipient")
	}
}

func TestParseRecipients(t *testing.T) {
	keypair := generate(t)
	recipients, err := ParseRecipients([]string{keypair.PublicKey})
	if err != nil || len(recipients) != 1 {
		t.Fatalf("ParseRecipients = (%d, %v)", len(recipients), err)
	}

	_, err = ParseRecipients([]string{"bad-one", keypair.PublicKey, "bad-two"})
	if err == nil {
		t.Fatal("ParseRecipients accepted invalid keys")
	}
	for _, key := range []string{"bad-one", "bad-two"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}
