// Package sshkeys stores and resolves the SSH private keys that connect
// requests and profiles refer to by id.
//
// Keys are kept in the database encrypted with the fernet key from
// [crypto]. A key is parsed before it is stored so that unusable keys are
// rejected up front, and its SHA256 fingerprint is recorded for display.
//
// # Usage
//
//	kr := sshkeys.NewKeyring()
//	rec, err := kr.Store("deploy", pemText, "", "CI deploy key")
//	if err != nil { ... }
//
//	key, err := kr.LookupKey(rec.ID)
//	if errors.Is(err, sshkeys.ErrKeyNotFound) { ... }
//	cfg.PrivateKey, cfg.Passphrase = key.PrivateKey, key.Passphrase
package sshkeys
