// Package core provides the passvault engine.
//
// A Manager composes a session (lock state and resident key) with a store
// (encrypted rows). Every data operation checks the session first and fails
// with ErrVaultLocked without touching storage while the vault is locked.
// Operations that decrypt capture a private copy of the key on entry and
// clear it before returning, so a concurrent Lock never changes the key an
// in-flight call is using.
//
// Core operations include:
//   - SetupMasterPassword / Unlock / Lock: session lifecycle
//   - AddCredential, GetCredentials, UpdateCredential, SearchCredentials:
//     credential CRUD with password history and reuse warnings
//   - AddNote, GetNotes, UpdateNote, DeleteNote: secure notes
//   - ExportData / ImportData: encrypted backup bundles
//   - ChangeMasterPassword: re-encrypt the whole vault under a new key
//   - GeneratePassword / CheckStrength: password helpers
//
// Batch reads skip entries that fail to decrypt and report their ids in the
// result's Skipped field.
package core
