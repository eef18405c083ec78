// Package storage provides the persistence layer for passvault.
//
// Two backends implement Store:
//   - BoltStore: a single BBolt file with four buckets
//   - SQLStore: a SQLite file with four tables, schema managed by goose
//
// BBolt bucket layout:
//   - settings: KDF parameters (salt, iterations), verifier, timestamps
//   - credentials: one JSON document per credential, keyed by id
//   - history: one nested bucket per credential id, records keyed by sequence
//   - notes: one JSON document per secure note, keyed by id
//
// Domains, usernames and note titles are stored in plaintext so they can be
// searched without a key. Every secret field is an opaque ciphertext blob
// produced by the crypto package; the store never sees a key.
//
// Writes are serialized by the underlying database. Pushing the previous
// password into history and pruning it happens in the same transaction as
// the credential update.
package storage
