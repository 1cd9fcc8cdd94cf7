package crypto

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadKeyFile reads a hex-encoded private key from disk.
func LoadKeyFile(path string) (*PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return PrivateKeyFromBytes(decoded)
}

// SaveKeyFile writes the private key hex to disk with owner-only permissions.
func SaveKeyFile(path string, key *PrivateKey) error {
	if key == nil {
		return fmt.Errorf("nil key")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	encoded := hex.EncodeToString(key.Bytes())
	return os.WriteFile(path, []byte(encoded+"\n"), 0o600)
}

// EnsureKeyFile loads the key at path, generating and persisting a fresh one
// when the file does not exist yet.
func EnsureKeyFile(path string) (*PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadKeyFile(path)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	key, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := SaveKeyFile(path, key); err != nil {
		return nil, err
	}
	return key, nil
}
