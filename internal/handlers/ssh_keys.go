package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/webxterm/webxterm/internal/crypto"
	"github.com/webxterm/webxterm/internal/database"
	"github.com/webxterm/webxterm/internal/logutil"
	"github.com/webxterm/webxterm/internal/sshkeys"
	"github.com/webxterm/webxterm/internal/terminal"
	"gorm.io/gorm"
)

type sshKeyRequest struct {
	Name        *string `json:"name"`
	PrivateKey  *string `json:"private_key"`
	Passphrase  *string `json:"passphrase"`
	Description *string `json:"description"`
}

// CreateSSHKey stores a private key. An omitted private_key generates a
// new ED25519 key.
// POST /api/v1/ssh-keys
func (g *Gateway) CreateSSHKey(w http.ResponseWriter, r *http.Request) {
	var req sshKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := terminal.ValidateProfileName(*req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var pemKey, passphrase, description string
	if req.PrivateKey != nil {
		pemKey = *req.PrivateKey
	}
	if req.Passphrase != nil {
		passphrase = *req.Passphrase
	}
	if req.Description != nil {
		description = *req.Description
	}
	if pemKey != "" && !terminal.LooksLikePrivateKey(pemKey) {
		writeError(w, http.StatusBadRequest, "private key is not in PEM format")
		return
	}

	rec, err := g.Keyring.Store(*req.Name, pemKey, passphrase, description)
	if err != nil {
		log.Printf("[api] store ssh key %s: %v", logutil.SanitizeForLog(*req.Name), err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to store key: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListSSHKeys returns key metadata without secrets.
// GET /api/v1/ssh-keys
func ListSSHKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := database.ListSSHKeys()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}
	if keys == nil {
		keys = []database.SSHKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

// GetSSHKey returns key metadata plus its public half.
// GET /api/v1/ssh-keys/{id}
func (g *Gateway) GetSSHKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := database.GetSSHKey(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "SSH key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load key")
		return
	}

	pub, err := g.Keyring.PublicKey(id)
	if err != nil {
		log.Printf("[api] derive public key for %s: %v", id, err)
	}
	writeJSON(w, http.StatusOK, struct {
		*database.SSHKey
		PublicKey string `json:"public_key"`
	}{rec, pub})
}

// UpdateSSHKey changes name, description or the key material itself.
// PUT /api/v1/ssh-keys/{id}
func UpdateSSHKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req sshKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u := map[string]interface{}{}
	if req.Name != nil {
		if err := terminal.ValidateProfileName(*req.Name); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		u["name"] = *req.Name
	}
	if req.Description != nil {
		u["description"] = *req.Description
	}
	if req.PrivateKey != nil {
		passphrase := ""
		if req.Passphrase != nil {
			passphrase = *req.Passphrase
		}
		fp, err := sshkeys.Fingerprint([]byte(*req.PrivateKey), passphrase)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		encKey, err := crypto.Encrypt(*req.PrivateKey)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encrypt key")
			return
		}
		encPass, err := crypto.Encrypt(passphrase)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encrypt passphrase")
			return
		}
		u["private_key"] = encKey
		u["passphrase"] = encPass
		u["fingerprint"] = fp
	}

	if err := database.UpdateSSHKey(id, u); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "SSH key not found")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to update key: %v", err))
		return
	}
	rec, err := database.GetSSHKey(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load key")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteSSHKey removes a key and detaches it from profiles.
// DELETE /api/v1/ssh-keys/{id}
func DeleteSSHKey(w http.ResponseWriter, r *http.Request) {
	if err := database.DeleteSSHKey(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "SSH key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
