package sshkeys

import (
	"errors"
	"fmt"
	"log"

	"github.com/webxterm/webxterm/internal/crypto"
	"github.com/webxterm/webxterm/internal/database"
	"gorm.io/gorm"
)

// ErrKeyNotFound is returned by LookupKey for an unknown id.
var ErrKeyNotFound = errors.New("ssh key not found")

// Key is a stored key with its secrets decrypted.
type Key struct {
	ID          string
	Name        string
	PrivateKey  string
	Passphrase  string
	Fingerprint string
}

// Keyring resolves stored key ids into usable credentials.
type Keyring struct{}

func NewKeyring() *Keyring { return &Keyring{} }

// LookupKey loads and decrypts the key with the given id and records its use.
func (k *Keyring) LookupKey(id string) (*Key, error) {
	key, err := k.load(id)
	if err != nil {
		return nil, err
	}
	if err := database.MarkSSHKeyUsed(id); err != nil {
		log.Printf("[sshkeys] mark key %s used: %v", id, err)
	}
	return key, nil
}

func (k *Keyring) load(id string) (*Key, error) {
	rec, err := database.GetSSHKey(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("load ssh key: %w", err)
	}

	privateKey, err := crypto.Decrypt(rec.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt private key %s: %w", rec.Name, err)
	}
	passphrase, err := crypto.Decrypt(rec.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt passphrase %s: %w", rec.Name, err)
	}

	return &Key{
		ID:          rec.ID,
		Name:        rec.Name,
		PrivateKey:  privateKey,
		Passphrase:  passphrase,
		Fingerprint: rec.Fingerprint,
	}, nil
}

// Store validates privateKeyPEM, encrypts it and saves it under name.
// An empty privateKeyPEM generates a fresh ED25519 key.
func (k *Keyring) Store(name, privateKeyPEM, passphrase, description string) (*database.SSHKey, error) {
	if privateKeyPEM == "" {
		_, priv, err := GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		privateKeyPEM = string(priv)
		passphrase = ""
	}

	fp, err := Fingerprint([]byte(privateKeyPEM), passphrase)
	if err != nil {
		return nil, err
	}
	encKey, err := crypto.Encrypt(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("encrypt private key: %w", err)
	}
	encPass, err := crypto.Encrypt(passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypt passphrase: %w", err)
	}

	rec := &database.SSHKey{
		Name:        name,
		PrivateKey:  encKey,
		Passphrase:  encPass,
		Description: description,
		Fingerprint: fp,
	}
	if err := database.CreateSSHKey(rec); err != nil {
		return nil, fmt.Errorf("save ssh key: %w", err)
	}
	log.Printf("[sshkeys] stored key %s (%s)", rec.ID, fp)
	return rec, nil
}

// PublicKey returns the authorized_keys line for a stored key.
func (k *Keyring) PublicKey(id string) (string, error) {
	key, err := k.load(id)
	if err != nil {
		return "", err
	}
	return AuthorizedKey([]byte(key.PrivateKey), key.Passphrase)
}
