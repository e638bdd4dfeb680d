package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/webxterm/webxterm/internal/crypto"
	"github.com/webxterm/webxterm/internal/database"
	"github.com/webxterm/webxterm/internal/logutil"
	"github.com/webxterm/webxterm/internal/terminal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// profileRequest is the body of create and update. Nil fields are left
// unchanged on update.
type profileRequest struct {
	Name           *string                `json:"name"`
	ConnectionType *string                `json:"connection_type"`
	Hostname       *string                `json:"hostname"`
	Port           *int                   `json:"port"`
	Username       *string                `json:"username"`
	Password       *string                `json:"password"`
	PrivateKey     *string                `json:"private_key"`
	Passphrase     *string                `json:"passphrase"`
	SSHKeyID       *string                `json:"ssh_key_id"`
	GroupName      *string                `json:"group_name"`
	Encoding       *string                `json:"encoding"`
	Device         *string                `json:"device"`
	BaudRate       *int                   `json:"baud_rate"`
	Metadata       map[string]interface{} `json:"metadata"`
}

func (req *profileRequest) validate() error {
	if req.Name != nil {
		if err := terminal.ValidateProfileName(*req.Name); err != nil {
			return err
		}
	}
	if req.ConnectionType != nil {
		if _, ok := terminal.ParseKind(*req.ConnectionType); !ok {
			return fmt.Errorf("unsupported connection type %q", *req.ConnectionType)
		}
	}
	if req.Hostname != nil && *req.Hostname != "" && !terminal.IsValidHostname(*req.Hostname) {
		return fmt.Errorf("invalid hostname %q", *req.Hostname)
	}
	if req.Port != nil && *req.Port != 0 && !terminal.IsValidPort(*req.Port) {
		return fmt.Errorf("invalid port %d", *req.Port)
	}
	if req.Username != nil && *req.Username != "" && !terminal.IsValidUsername(*req.Username) {
		return fmt.Errorf("invalid username %q", *req.Username)
	}
	if req.GroupName != nil {
		if err := terminal.ValidateGroupName(*req.GroupName); err != nil {
			return err
		}
	}
	if req.Encoding != nil && !terminal.IsValidEncoding(*req.Encoding) {
		return fmt.Errorf("unsupported encoding %q", *req.Encoding)
	}
	if req.BaudRate != nil && *req.BaudRate != 0 && !terminal.IsStandardBaudRate(*req.BaudRate) {
		return fmt.Errorf("unsupported baud rate %d", *req.BaudRate)
	}
	if req.PrivateKey != nil && *req.PrivateKey != "" && !terminal.LooksLikePrivateKey(*req.PrivateKey) {
		return fmt.Errorf("private key is not in PEM format")
	}
	return nil
}

// updates converts the request into column updates, encrypting secrets.
func (req *profileRequest) updates() (map[string]interface{}, error) {
	u := make(map[string]interface{})
	plain := []struct {
		col string
		v   *string
	}{
		{"name", req.Name},
		{"connection_type", req.ConnectionType},
		{"hostname", req.Hostname},
		{"username", req.Username},
		{"ssh_key_id", req.SSHKeyID},
		{"group_name", req.GroupName},
		{"encoding", req.Encoding},
		{"device", req.Device},
	}
	for _, f := range plain {
		if f.v != nil {
			u[f.col] = *f.v
		}
	}
	if req.Port != nil {
		u["port"] = *req.Port
	}
	if req.BaudRate != nil {
		u["baud_rate"] = *req.BaudRate
	}

	secret := []struct {
		col string
		v   *string
	}{
		{"password", req.Password},
		{"private_key", req.PrivateKey},
		{"passphrase", req.Passphrase},
	}
	for _, f := range secret {
		if f.v == nil {
			continue
		}
		enc, err := crypto.Encrypt(*f.v)
		if err != nil {
			return nil, fmt.Errorf("encrypt %s: %w", f.col, err)
		}
		u[f.col] = enc
	}

	if req.Metadata != nil {
		data, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		u["metadata"] = string(data)
	}
	return u, nil
}

type profileResponse struct {
	database.Profile
	Metadata      map[string]interface{} `json:"metadata"`
	HasPassword   bool                   `json:"has_password"`
	HasPrivateKey bool                   `json:"has_private_key"`
}

func toProfileResponse(p *database.Profile) profileResponse {
	meta := map[string]interface{}{}
	if p.Metadata != "" {
		if err := json.Unmarshal([]byte(p.Metadata), &meta); err != nil {
			log.Printf("[api] profile %s has invalid metadata: %v", p.ID, err)
			meta = map[string]interface{}{}
		}
	}
	return profileResponse{
		Profile:       *p,
		Metadata:      meta,
		HasPassword:   p.Password != "",
		HasPrivateKey: p.PrivateKey != "",
	}
}

// CreateProfile saves a connection profile.
// POST /api/v1/profiles
func CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == nil || req.ConnectionType == nil {
		writeError(w, http.StatusBadRequest, "name and connection_type are required")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := req.newProfile()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := database.CreateProfile(p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to create profile: %v", err))
		return
	}
	log.Printf("[api] created profile %s (%s)", p.ID, logutil.SanitizeForLog(p.Name))
	writeJSON(w, http.StatusCreated, toProfileResponse(p))
}

// newProfile builds an unsaved profile from the request with secrets
// encrypted.
func (req *profileRequest) newProfile() (*database.Profile, error) {
	u, err := req.updates()
	if err != nil {
		return nil, err
	}
	p := &database.Profile{Encoding: terminal.EncodingAuto}
	for col, dst := range map[string]*string{
		"name":            &p.Name,
		"connection_type": &p.ConnectionType,
		"hostname":        &p.Hostname,
		"username":        &p.Username,
		"ssh_key_id":      &p.SSHKeyID,
		"group_name":      &p.GroupName,
		"encoding":        &p.Encoding,
		"device":          &p.Device,
		"password":        &p.Password,
		"private_key":     &p.PrivateKey,
		"passphrase":      &p.Passphrase,
		"metadata":        &p.Metadata,
	} {
		if v, ok := u[col].(string); ok {
			*dst = v
		}
	}
	if v, ok := u["port"].(int); ok {
		p.Port = v
	}
	if v, ok := u["baud_rate"].(int); ok {
		p.BaudRate = v
	}
	return p, nil
}

// ListProfiles returns saved profiles, optionally filtered.
// GET /api/v1/profiles?group_name=&connection_type=
func ListProfiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	profiles, err := database.ListProfiles(q.Get("group_name"), q.Get("connection_type"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list profiles")
		return
	}
	result := make([]profileResponse, 0, len(profiles))
	for i := range profiles {
		result = append(result, toProfileResponse(&profiles[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

// GetProfile returns one profile without secrets.
// GET /api/v1/profiles/{id}
func GetProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := loadProfile(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func loadProfile(w http.ResponseWriter, id string) (*database.Profile, bool) {
	p, err := database.GetProfile(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
		} else {
			writeError(w, http.StatusInternalServerError, "Failed to load profile")
		}
		return nil, false
	}
	return p, true
}

// UpdateProfile applies a partial update.
// PUT /api/v1/profiles/{id}
func UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := req.updates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := database.UpdateProfile(id, u); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to update profile: %v", err))
		return
	}
	p, ok := loadProfile(w, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// DeleteProfile removes a profile.
// DELETE /api/v1/profiles/{id}
func DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := database.DeleteProfile(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type profileWithSecrets struct {
	profileResponse
	Password   string `json:"password"`
	PrivateKey string `json:"private_key"`
	Passphrase string `json:"passphrase"`
}

// UseProfile returns a profile with decrypted secrets and records its use.
// POST /api/v1/profiles/{id}/use
func UseProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := loadProfile(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	resp := profileWithSecrets{profileResponse: toProfileResponse(p)}
	for _, s := range []struct {
		dst *string
		enc string
	}{
		{&resp.Password, p.Password},
		{&resp.PrivateKey, p.PrivateKey},
		{&resp.Passphrase, p.Passphrase},
	} {
		plain, err := crypto.Decrypt(s.enc)
		if err != nil {
			log.Printf("[api] decrypt profile %s: %v", p.ID, err)
			writeError(w, http.StatusInternalServerError, "Failed to decrypt profile secrets")
			return
		}
		*s.dst = plain
	}

	if err := database.MarkProfileUsed(p.ID); err != nil {
		log.Printf("[api] mark profile %s used: %v", p.ID, err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListProfileGroups returns the distinct group names.
// GET /api/v1/profiles/groups
func ListProfileGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := database.ListGroups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list groups")
		return
	}
	if groups == nil {
		groups = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"groups": groups})
}

// exportedProfile is the secret-free form of a profile used for backups.
type exportedProfile struct {
	Name           string                 `yaml:"name"`
	ConnectionType string                 `yaml:"connection_type"`
	Hostname       string                 `yaml:"hostname,omitempty"`
	Port           int                    `yaml:"port,omitempty"`
	Username       string                 `yaml:"username,omitempty"`
	GroupName      string                 `yaml:"group_name,omitempty"`
	Encoding       string                 `yaml:"encoding,omitempty"`
	Device         string                 `yaml:"device,omitempty"`
	BaudRate       int                    `yaml:"baud_rate,omitempty"`
	Metadata       map[string]interface{} `yaml:"metadata,omitempty"`
}

type profileExport struct {
	ExportedAt time.Time         `yaml:"exported_at"`
	Profiles   []exportedProfile `yaml:"profiles"`
}

// ExportProfiles writes profiles as YAML without any secrets.
// GET /api/v1/profiles/export?group_name=
func ExportProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := database.ListProfiles(r.URL.Query().Get("group_name"), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list profiles")
		return
	}

	doc := profileExport{ExportedAt: time.Now().UTC(), Profiles: make([]exportedProfile, 0, len(profiles))}
	for i := range profiles {
		p := &profiles[i]
		doc.Profiles = append(doc.Profiles, exportedProfile{
			Name:           p.Name,
			ConnectionType: p.ConnectionType,
			Hostname:       p.Hostname,
			Port:           p.Port,
			Username:       p.Username,
			GroupName:      p.GroupName,
			Encoding:       p.Encoding,
			Device:         p.Device,
			BaudRate:       p.BaudRate,
			Metadata:       toProfileResponse(p).Metadata,
		})
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode export")
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="webxterm-profiles.yaml"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type importSkip struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ImportProfiles creates profiles from an export document. Invalid entries
// are skipped and reported.
// POST /api/v1/profiles/import
func ImportProfiles(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	var doc profileExport
	if err := yaml.Unmarshal(body, &doc); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid YAML: %v", err))
		return
	}

	imported := 0
	skipped := []importSkip{}
	for _, ep := range doc.Profiles {
		req := profileRequest{
			Name:           &ep.Name,
			ConnectionType: &ep.ConnectionType,
			Hostname:       &ep.Hostname,
			Port:           &ep.Port,
			Username:       &ep.Username,
			GroupName:      &ep.GroupName,
			Device:         &ep.Device,
			BaudRate:       &ep.BaudRate,
			Metadata:       ep.Metadata,
		}
		if ep.Encoding != "" {
			req.Encoding = &ep.Encoding
		}
		if err := req.validate(); err != nil {
			skipped = append(skipped, importSkip{Name: ep.Name, Reason: err.Error()})
			continue
		}
		p, err := req.newProfile()
		if err != nil {
			skipped = append(skipped, importSkip{Name: ep.Name, Reason: err.Error()})
			continue
		}
		if err := database.CreateProfile(p); err != nil {
			skipped = append(skipped, importSkip{Name: ep.Name, Reason: err.Error()})
			continue
		}
		imported++
	}

	log.Printf("[api] imported %d profiles, skipped %d", imported, len(skipped))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported": imported,
		"skipped":  skipped,
	})
}
