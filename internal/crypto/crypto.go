package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize          = 32     // Salt size in bytes
	KeySize           = 32     // AES-256 key size
	NonceSize         = 16     // GCM nonce size used by every blob
	TagSize           = 16     // GCM authentication tag size
	Overhead          = NonceSize + TagSize
	DefaultIterations = 210000 // Default PBKDF2 iterations (OWASP minimum)
	MinIterations     = 100000
	MaxIterations     = 10 * DefaultIterations
)

var (
	ErrInvalidKey = errors.New("invalid key length")
	// ErrDecryption covers every way a blob can fail to open: too short,
	// tampered, or sealed under another key.
	ErrDecryption = errors.New("decryption failed")
)

// NewSalt generates a random KDF salt
func NewSalt() ([]byte, error) {
	salt, err := GenerateRandom(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 256-bit encryption key from a password.
// The result depends only on its inputs.
func DeriveKey(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, KeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce and
// returns nonce || tag || ciphertext.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ctLen := len(sealed) - TagSize

	result := make([]byte, Overhead+ctLen)
	copy(result, nonce)
	copy(result[NonceSize:], sealed[ctLen:])
	copy(result[Overhead:], sealed[:ctLen])
	return result, nil
}

// Decrypt opens a blob produced by Encrypt. Any failure to authenticate is
// reported as ErrDecryption and no plaintext is returned.
func Decrypt(key, blob []byte) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, ErrDecryption
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := blob[:NonceSize]
	tag := blob[NonceSize:Overhead]
	ct := blob[Overhead:]

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// Subkey expands a purpose-bound key from the vault key using HKDF-SHA256.
func Subkey(key []byte, label string) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	sub := make([]byte, KeySize)
	r := hkdf.New(sha256.New, key, nil, []byte(label))
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("failed to expand subkey: %w", err)
	}
	return sub, nil
}

// Fingerprint returns HMAC-SHA256(subkey, data). Equal inputs under the same
// subkey yield equal fingerprints, which is what duplicate detection needs.
func Fingerprint(subkey, data []byte) []byte {
	mac := hmac.New(sha256.New, subkey)
	mac.Write(data)
	return mac.Sum(nil)
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
