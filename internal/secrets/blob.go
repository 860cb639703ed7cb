// Package secrets seals credential blobs at rest with AES-256-GCM.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyFileName    = "master.key"
	keyringService = "wagate.credentials"
	keyringUser    = "master-key"
	blobVersion    = "v1"
)

// ErrUnsealed is returned by Open for input that is not a sealed envelope.
var ErrUnsealed = errors.New("blob is not sealed")

type envelope struct {
	Version    string `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Sealer encrypts and decrypts blobs with a fixed 32-byte key. The
// tenant ID is bound as additional data so a blob cannot be swapped
// between tenants.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer builds a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid master key length: %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plain for the given tenant.
func (s *Sealer) Seal(tenantID string, plain []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := envelope{
		Version:    blobVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(s.gcm.Seal(nil, nonce, plain, []byte(tenantID))),
	}
	return json.Marshal(out)
}

// Open decrypts a blob sealed for tenantID.
func (s *Sealer) Open(tenantID string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty sealed blob")
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Nonce == "" || env.Ciphertext == "" {
		return nil, ErrUnsealed
	}
	if env.Version != blobVersion {
		return nil, fmt.Errorf("unsupported blob version: %s", env.Version)
	}
	nonce, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(env.Nonce))
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(env.Ciphertext))
	if err != nil {
		return nil, err
	}
	return s.gcm.Open(nil, nonce, ciphertext, []byte(tenantID))
}

// LoadOrCreateMasterKey returns the 32-byte master key, creating one if necessary.
// Priority: WAGATE_MASTER_KEY env → backend (keyring / file) selected by
// WAGATE_KEY_BACKEND. "auto" tries the OS keyring and falls back to a key
// file inside dir.
func LoadOrCreateMasterKey(dir string) ([]byte, error) {
	if envKey := strings.TrimSpace(os.Getenv("WAGATE_MASTER_KEY")); envKey != "" {
		key, err := DecodeMasterKey(envKey)
		if err != nil {
			return nil, fmt.Errorf("invalid WAGATE_MASTER_KEY: %w", err)
		}
		return key, nil
	}

	switch resolveKeyBackend() {
	case "keyring":
		return loadOrCreateKeyringKey()
	case "file":
		return loadOrCreateFileKey(dir)
	default:
		if key, err := loadOrCreateKeyringKey(); err == nil {
			return key, nil
		}
		return loadOrCreateFileKey(dir)
	}
}

// DecodeMasterKey base64-decodes a master key and validates its length (32 bytes).
func DecodeMasterKey(raw string) ([]byte, error) {
	decoded, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(raw), "="))
	if err != nil {
		return nil, err
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("invalid master key length: %d", len(decoded))
	}
	return decoded, nil
}

func resolveKeyBackend() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("WAGATE_KEY_BACKEND")))
	switch v {
	case "keyring", "file", "auto":
		return v
	default:
		return "file"
	}
}

func newKey() ([]byte, string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, "", err
	}
	return key, base64.RawStdEncoding.EncodeToString(key), nil
}

func loadOrCreateKeyringKey() ([]byte, error) {
	val, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		return DecodeMasterKey(val)
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, err
	}
	key, encoded, err := newKey()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(keyringService, keyringUser, encoded); err != nil {
		return nil, err
	}
	return key, nil
}

func loadOrCreateFileKey(dir string) ([]byte, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	keyPath := filepath.Join(dir, keyFileName)
	if data, err := os.ReadFile(keyPath); err == nil {
		return DecodeMasterKey(string(data))
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key, encoded, err := newKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
