package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/webxterm/webxterm/internal/crypto"
	"github.com/webxterm/webxterm/internal/database"
	"github.com/webxterm/webxterm/internal/logutil"
	"github.com/webxterm/webxterm/internal/sshkeys"
	"github.com/webxterm/webxterm/internal/terminal"
	"gorm.io/gorm"
)

type connectRequest struct {
	ConnectionType string `json:"connection_type"`
	Hostname       string `json:"hostname"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	PrivateKey     string `json:"private_key"`
	Passphrase     string `json:"passphrase"`
	SSHKeyID       string `json:"ssh_key_id"`
	ProfileID      string `json:"profile_id"`
	TerminalType   string `json:"terminal_type"`
	Encoding       string `json:"encoding"`
	Device         string `json:"device"`
	BaudRate       int    `json:"baud_rate"`
	Cols           int    `json:"cols"`
	Rows           int    `json:"rows"`
}

// applyProfile fills every field the request left empty from p.
func (req *connectRequest) applyProfile(p *database.Profile) error {
	if req.ConnectionType == "" {
		req.ConnectionType = p.ConnectionType
	}
	if req.Hostname == "" {
		req.Hostname = p.Hostname
	}
	if req.Port == 0 {
		req.Port = p.Port
	}
	if req.Username == "" {
		req.Username = p.Username
	}
	if req.Encoding == "" {
		req.Encoding = p.Encoding
	}
	if req.Device == "" {
		req.Device = p.Device
	}
	if req.BaudRate == 0 {
		req.BaudRate = p.BaudRate
	}
	if req.SSHKeyID == "" {
		req.SSHKeyID = p.SSHKeyID
	}

	secrets := []struct {
		dst *string
		enc string
	}{
		{&req.Password, p.Password},
		{&req.PrivateKey, p.PrivateKey},
		{&req.Passphrase, p.Passphrase},
	}
	for _, s := range secrets {
		if *s.dst != "" || s.enc == "" {
			continue
		}
		plain, err := crypto.Decrypt(s.enc)
		if err != nil {
			return err
		}
		*s.dst = plain
	}
	return nil
}

func (req *connectRequest) config() (terminal.Config, error) {
	kind, ok := terminal.ParseKind(req.ConnectionType)
	if !ok {
		return terminal.Config{}, errors.New("unsupported connection type " + req.ConnectionType)
	}
	cfg := terminal.Config{
		Kind:         kind,
		Hostname:     req.Hostname,
		Port:         req.Port,
		Username:     req.Username,
		Password:     req.Password,
		PrivateKey:   req.PrivateKey,
		Passphrase:   req.Passphrase,
		TerminalType: req.TerminalType,
		Encoding:     req.Encoding,
		Cols:         req.Cols,
		Rows:         req.Rows,
		Device:       req.Device,
		BaudRate:     req.BaudRate,
	}
	if err := terminal.ValidateConfig(&cfg); err != nil {
		return terminal.Config{}, err
	}
	return cfg, nil
}

// Connect opens a session and registers it.
// POST /api/v1/connections/connect
func (g *Gateway) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var profile *database.Profile
	if req.ProfileID != "" {
		p, err := database.GetProfile(req.ProfileID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				writeError(w, http.StatusBadRequest, "Profile not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to load profile")
			return
		}
		if err := req.applyProfile(p); err != nil {
			log.Printf("[api] decrypt profile %s: %v", p.ID, err)
			writeError(w, http.StatusInternalServerError, "Failed to decrypt profile secrets")
			return
		}
		profile = p
	}

	if req.SSHKeyID != "" && g.Keyring != nil {
		key, err := g.Keyring.LookupKey(req.SSHKeyID)
		switch {
		case errors.Is(err, sshkeys.ErrKeyNotFound):
			log.Printf("[api] ssh key %s not found, proceeding without it", logutil.SanitizeForLog(req.SSHKeyID))
		case err != nil:
			log.Printf("[api] load ssh key %s: %v", logutil.SanitizeForLog(req.SSHKeyID), err)
		default:
			req.PrivateKey = key.PrivateKey
			req.Passphrase = key.Passphrase
			log.Printf("[api] using ssh key %s for connection", logutil.SanitizeForLog(key.Name))
		}
	}

	if req.Encoding == "" {
		req.Encoding = g.DefaultEncoding
	}
	cfg, err := req.config()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.NewString()
	s, err := terminal.New(id, cfg, g.Options)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if ss, ok := s.(*terminal.SSHSession); ok {
		ss.HostKeyCallback = sshkeys.LogHostKey(id)
	}

	log.Printf("[api] connecting %s session %s to %s", cfg.Kind, id, logutil.SanitizeForLog(target(cfg)))
	if err := s.Connect(r.Context()); err != nil {
		log.Printf("[api] connection %s failed: %s", id, logutil.Truncate(err.Error(), 200))
		writeSessionError(w, err)
		return
	}
	if err := g.Registry.Add(id, s); err != nil {
		s.Close()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if profile != nil {
		if err := database.MarkProfileUsed(profile.ID); err != nil {
			log.Printf("[api] mark profile %s used: %v", profile.ID, err)
		}
	}

	encoding := s.Encoding()
	if encoding == "" || encoding == terminal.EncodingAuto {
		encoding = terminal.EncodingUTF8
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"connection_id": id,
		"status":        "success",
		"encoding":      encoding,
	})
}

func target(cfg terminal.Config) string {
	switch cfg.Kind {
	case terminal.KindSerial:
		return cfg.Device
	case terminal.KindLocal:
		return "localhost"
	}
	if cfg.Username != "" {
		return cfg.Username + "@" + cfg.Hostname
	}
	return cfg.Hostname
}

// ConnectionStatus reports registry counters.
// GET /api/v1/connections/status
func (g *Gateway) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	stats := g.Registry.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_connections": stats.Active,
		"total_connections":  stats.TotalEverCreated,
		"status":             "healthy",
	})
}

// ListConnections returns the live sessions.
// GET /api/v1/connections
func (g *Gateway) ListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]terminal.Info{"connections": g.Registry.List()})
}

// CloseConnection closes and removes one session.
// DELETE /api/v1/connections/{id}
func (g *Gateway) CloseConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !g.Registry.Remove(id) {
		writeError(w, http.StatusNotFound, "Connection not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// ConnectionWS bridges a WebSocket to a registered session. The session is
// removed once either side ends.
// GET /api/v1/connections/ws/{id}
func (g *Gateway) ConnectionWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[api] failed to accept websocket for %s: %v", logutil.SanitizeForLog(id), err)
		return
	}
	defer conn.CloseNow()

	s, ok := g.Registry.Get(id)
	if !ok {
		conn.Close(terminal.StatusConnectionNotFound, "Connection not found")
		return
	}

	opts := g.Bridge
	opts.OnActivity = func() { g.Registry.Touch(id) }
	terminal.Bridge(r.Context(), conn, s, opts)
	g.Registry.Remove(id)
}
