// Package crypto provides the encrypted key vault, EIP-712 order and auth
// signing, and HMAC request authentication for the Polymarket CLOB API.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	// currentVersion is the encrypted-key JSON schema version.
	currentVersion = 1
	// MinPasswordLen is the shortest accepted vault password.
	MinPasswordLen = 8
)

var (
	ErrInvalidPassword  = errors.New("crypto: invalid password")
	ErrCorruptedKeyData = errors.New("crypto: corrupted key data")
	ErrWeakPassword     = fmt.Errorf("crypto: password must be at least %d characters", MinPasswordLen)
	ErrInvalidKey       = errors.New("crypto: invalid private key")
)

// EncryptedKey is the on-disk envelope for an encrypted private key. Salt and
// Encrypted use URL-safe base64; Encrypted holds the GCM nonce followed by
// the sealed key.
type EncryptedKey struct {
	Version   int    `json:"version"`
	Salt      string `json:"salt"`
	Encrypted string `json:"encrypted"`
	KeyLength int    `json:"key_length"`
}

// KeyConfig carries the information LoadKey needs to resolve a private key.
type KeyConfig struct {
	// RawPrivateKey is the hex-encoded private key (with or without 0x prefix).
	// If non-empty, LoadKey returns it directly.
	RawPrivateKey string

	// EncryptedKeyPath is the path to a file produced by SaveKeyFile.
	EncryptedKeyPath string

	KeyPassword string
}

// normalizeKey trims, lowercases and strips the 0x prefix.
func normalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	return strings.TrimPrefix(k, "0x")
}

// VerifyPrivateKey checks that key is 64 hex characters after normalisation
// and returns it with a 0x prefix.
func VerifyPrivateKey(key string) (string, error) {
	k := normalizeKey(key)
	if len(k) != 64 {
		return "", fmt.Errorf("%w: must be 64 hex characters", ErrInvalidKey)
	}
	if _, err := hex.DecodeString(k); err != nil {
		return "", fmt.Errorf("%w: contains invalid characters", ErrInvalidKey)
	}
	return "0x" + k, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
}

// EncryptKey encrypts a hex-encoded private key with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated encryption.
// Every call uses a fresh random salt.
func EncryptKey(privateKey, password string) (EncryptedKey, error) {
	if len(password) < MinPasswordLen {
		return EncryptedKey{}, ErrWeakPassword
	}
	key := normalizeKey(privateKey)
	if key == "" {
		return EncryptedKey{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if _, err := hex.DecodeString(key); err != nil {
		return EncryptedKey{}, fmt.Errorf("%w: not hex", ErrInvalidKey)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return EncryptedKey{}, fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return EncryptedKey{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedKey{}, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(key), nil)

	return EncryptedKey{
		Version:   currentVersion,
		Salt:      base64.URLEncoding.EncodeToString(salt),
		Encrypted: base64.URLEncoding.EncodeToString(sealed),
		KeyLength: len(key),
	}, nil
}

// DecryptKey opens an envelope produced by EncryptKey and returns the key
// with a 0x prefix. A failed authentication tag yields ErrInvalidPassword;
// a malformed envelope yields ErrCorruptedKeyData.
func DecryptKey(env EncryptedKey, password string) (string, error) {
	if env.Version != currentVersion {
		return "", fmt.Errorf("%w: unsupported version %d", ErrCorruptedKeyData, env.Version)
	}
	salt, err := base64.URLEncoding.DecodeString(env.Salt)
	if err != nil || len(salt) == 0 {
		return "", fmt.Errorf("%w: salt", ErrCorruptedKeyData)
	}
	sealed, err := base64.URLEncoding.DecodeString(env.Encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: payload", ErrCorruptedKeyData)
	}

	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
		return "", fmt.Errorf("%w: payload too short", ErrCorruptedKeyData)
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidPassword
	}
	return "0x" + string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// SaveKeyFile encrypts privateKey and writes the envelope to path with
// owner-only permissions.
func SaveKeyFile(path, privateKey, password string) error {
	env, err := EncryptKey(privateKey, password)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("crypto: encoding envelope: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("crypto: creating key dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("crypto: writing key file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("crypto: chmod key file: %w", err)
	}
	return nil
}

// LoadKeyFile reads and decrypts a key file.
func LoadKeyFile(path, password string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("crypto: reading key file: %w", err)
	}
	var env EncryptedKey
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptedKeyData, err)
	}
	return DecryptKey(env, password)
}

// LoadKey resolves a private key from the provided configuration.
//
// Resolution order:
//  1. If RawPrivateKey is set, validate and return it.
//  2. If EncryptedKeyPath is set, decrypt the file with KeyPassword.
//  3. Otherwise, return an error.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		return VerifyPrivateKey(cfg.RawPrivateKey)
	}
	if cfg.EncryptedKeyPath != "" {
		key, err := LoadKeyFile(cfg.EncryptedKeyPath, cfg.KeyPassword)
		if err != nil {
			return "", err
		}
		return VerifyPrivateKey(key)
	}
	return "", errors.New("crypto: no private key source configured (set RawPrivateKey or EncryptedKeyPath)")
}
