// Package credstore holds per-platform credentials in an AES-GCM encrypted
// file. The core engine only ever reads: Load returns nil for platforms
// without a stored credential so the fallback chain can skip the tier.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Credential is what a platform driver needs to call its API: an API key,
// a session cookie, or both.
type Credential struct {
	Platform string            `json:"platform"`
	APIKey   string            `json:"api_key,omitempty"`
	Cookie   string            `json:"cookie,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Store is the read-only view the engine consumes. Load returns (nil, nil)
// when no credential exists for the platform.
type Store interface {
	Load(platform string) (*Credential, error)
}

// FileStore keeps all credentials in one encrypted file: a random GCM nonce
// followed by the sealed JSON map of platform -> credential.
type FileStore struct {
	path string
	key  []byte
}

// NewFileStore derives the sealing key from the passphrase in keyEnv via
// SHA-256. An unset passphrase is allowed; Load then reports every platform
// as having no credential, which keeps tier 2 quietly unavailable.
func NewFileStore(path, keyEnv string) *FileStore {
	var key []byte
	if passphrase := os.Getenv(keyEnv); passphrase != "" {
		sum := sha256.Sum256([]byte(passphrase))
		key = sum[:]
	}
	return &FileStore{path: path, key: key}
}

func (s *FileStore) Load(platform string) (*Credential, error) {
	creds, err := s.readAll()
	if err != nil {
		return nil, err
	}
	c, ok := creds[platform]
	if !ok {
		return nil, nil
	}
	c.Platform = platform
	return &c, nil
}

// Save writes or replaces one platform's credential. Used by the CLI helper
// and tests; the engine itself never writes.
func (s *FileStore) Save(platform string, cred Credential) error {
	if s.key == nil {
		return errors.New("credential key not configured")
	}
	creds, err := s.readAll()
	if err != nil {
		return err
	}
	if creds == nil {
		creds = make(map[string]Credential)
	}
	cred.Platform = platform
	creds[platform] = cred

	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	gcm, err := s.sealer()
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	out := gcm.Seal(nonce, nonce, plain, nil)
	if err := os.WriteFile(s.path, out, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}

func (s *FileStore) readAll() (map[string]Credential, error) {
	if s.key == nil {
		return nil, nil
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	gcm, err := s.sealer()
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("credential file truncated")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential file: %w", err)
	}
	var creds map[string]Credential
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

func (s *FileStore) sealer() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
