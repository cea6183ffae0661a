// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"

	"github.com/bureau-foundation/buildavoid/lib/secret"
)

// Keypair is a freshly generated identity. The private key lives in a
// secret.Buffer; the caller must Close the Keypair.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... string. Never log it or
	// pass it on a command line.
	PrivateKey *secret.Buffer

	// PublicKey is the age1... recipient string. Safe to publish.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new X25519 identity.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	// identity.String's heap copy is unavoidable; the buffer is the
	// copy that outlives this function.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// WriteIdentityFile writes keypair to path in age-keygen format with
// mode 0600. It refuses to overwrite an existing file: replacing a
// shared identity makes every encrypted entry unreadable.
func WriteIdentityFile(path string, keypair *Keypair, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}

	var content bytes.Buffer
	fmt.Fprintf(&content, "# created: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&content, "# public key: %s\n", keypair.PublicKey)
	content.Write(keypair.PrivateKey.Bytes())
	content.WriteByte('\n')
	defer secret.Zero(content.Bytes())

	if _, err := file.Write(content.Bytes()); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("writing identity file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("closing identity file: %w", err)
	}
	return nil
}

// Keys is a loaded identity and the recipients entries are sealed to.
type Keys struct {
	Identity age.Identity

	// Recipients always starts with the identity's own recipient, so
	// this machine can read what it writes.
	Recipients []age.Recipient

	// PublicKey is the identity's own age1... recipient string.
	PublicKey string
}

// LoadIdentity reads an identity file holding exactly one X25519
// identity, and combines its recipient with extra, which are age1...
// strings.
func LoadIdentity(path string, extra []string) (*Keys, error) {
	buffer, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	defer buffer.Close()

	identities, err := age.ParseIdentities(bytes.NewReader(buffer.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	if len(identities) != 1 {
		return nil, fmt.Errorf("identity file %s holds %d identities, want exactly 1", path, len(identities))
	}
	identity, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("identity file %s: only X25519 identities are supported (got %T)", path, identities[0])
	}

	others, err := ParseRecipients(extra)
	if err != nil {
		return nil, err
	}
	own := identity.Recipient()
	return &Keys{
		Identity:   identity,
		Recipients: append([]age.Recipient{own}, others...),
		PublicKey:  own.String(),
	}, nil
}

// ParseRecipients parses age1... public keys, reporting every invalid
// key at once.
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(keys))
	var errs []error
	for _, key := range keys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid age public key %q: %w", key, err))
			continue
		}
		recipients = append(recipients, recipient)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return recipients, nil
}
