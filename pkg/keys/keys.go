// Package keys reads and writes ed25519 keypairs in the solana-keygen file
// format: a JSON array of the 64 bytes of seed followed by public key.
package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const fileMode = 0600

var (
	ErrInvalidLength    = errors.New("keypair must contain 64 bytes")
	ErrMismatchedPublic = errors.New("public key does not match private seed")
)

// KeyLoadError is returned when a keypair file cannot be turned into a
// usable private key.
type KeyLoadError struct {
	Path string
	Err  error
}

func (e *KeyLoadError) Error() string {
	return fmt.Sprintf("failed to load keypair %s: %v", e.Path, e.Err)
}

func (e *KeyLoadError) Unwrap() error {
	return e.Err
}

// KeyWriteError is returned when a keypair could not be persisted. The
// destination is left untouched.
type KeyWriteError struct {
	Path string
	Err  error
}

func (e *KeyWriteError) Error() string {
	return fmt.Sprintf("failed to write keypair %s: %v", e.Path, e.Err)
}

func (e *KeyWriteError) Unwrap() error {
	return e.Err
}

// Generate returns a new random keypair.
func Generate() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate keypair")
	}
	return key, nil
}

// Exists reports whether something is already present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load reads the keypair file at path.
func Load(path string) (ed25519.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyLoadError{Path: path, Err: err}
	}

	key, err := decode(b)
	if err != nil {
		return nil, &KeyLoadError{Path: path, Err: err}
	}

	return key, nil
}

// Write persists key to path. The file is written next to the destination
// and renamed into place, so readers see either the previous file or the
// complete new one.
func Write(key ed25519.PrivateKey, path string) error {
	if len(key) != ed25519.PrivateKeySize {
		return &KeyWriteError{Path: path, Err: ErrInvalidLength}
	}

	b, err := encode(key)
	if err != nil {
		return &KeyWriteError{Path: path, Err: err}
	}

	if err := writeAtomic(path, b); err != nil {
		return &KeyWriteError{Path: path, Err: err}
	}

	return nil
}

func decode(b []byte) (ed25519.PrivateKey, error) {
	var values []int
	if err := json.Unmarshal(bytes.TrimSpace(b), &values); err != nil {
		return nil, errors.Wrap(err, "keypair is not a json array of integers")
	}

	if len(values) != ed25519.PrivateKeySize {
		return nil, errors.Wrapf(ErrInvalidLength, "found %d", len(values))
	}

	raw := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, errors.Errorf("value %d at index %d is not a byte", v, i)
		}
		raw[i] = byte(v)
	}

	key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(key[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return nil, ErrMismatchedPublic
	}

	return key, nil
}

func encode(key ed25519.PrivateKey) ([]byte, error) {
	values := make([]int, len(key))
	for i, b := range key {
		values[i] = int(b)
	}
	return json.Marshal(values)
}

func writeAtomic(path string, b []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(b); err != nil {
		return errors.Wrap(err, "failed to write temporary file")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync temporary file")
	}
	if err = tmp.Chmod(fileMode); err != nil {
		return errors.Wrap(err, "failed to set file mode")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temporary file")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "failed to move keypair into place")
	}

	return nil
}
