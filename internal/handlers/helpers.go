package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/webxterm/webxterm/internal/terminal"
)

// maxRequestBody caps JSON request bodies; private keys are the largest field.
const maxRequestBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeSessionError reports a failed connect with its error kind. Transport
// failures map to 502, everything else to 400.
func writeSessionError(w http.ResponseWriter, err error) {
	kind := terminal.KindOf(err)
	status := http.StatusBadRequest
	switch kind {
	case terminal.TransportReset, terminal.Timeout, terminal.ProtocolError:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{
		"detail": err.Error(),
		"kind":   string(kind),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
