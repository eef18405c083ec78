// Package crypto provides cryptographic operations for passvault.
//
// Encryption uses AES-256-GCM with:
//   - 32-byte key derived from the master password via PBKDF2
//   - 16-byte random nonce per encryption operation
//   - blobs laid out as nonce(16) || tag(16) || ciphertext
//
// Key derivation uses PBKDF2-HMAC-SHA256 with:
//   - 32-byte random salt (stored unencrypted)
//   - 210,000 iterations by default (never fewer than 100,000)
//
// Subkeys for fingerprints and backup bundles are expanded from the vault
// key with HKDF-SHA256, so the vault key itself never touches a MAC.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
package crypto
