package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/webxterm/webxterm/internal/database"
	"github.com/webxterm/webxterm/internal/sshkeys"
	"github.com/webxterm/webxterm/internal/terminal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates a fresh in-memory SQLite database for each test.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	prev := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.DB = prev
		sqlDB.Close()
	})
}

// newTestRouter returns a gateway with an empty registry mounted on a router.
func newTestRouter(t *testing.T) (*Gateway, http.Handler) {
	t.Helper()
	setupTestDB(t)
	reg := terminal.NewRegistry()
	t.Cleanup(reg.CloseAll)
	g := NewGateway(reg, sshkeys.NewKeyring(), terminal.Options{})
	r := chi.NewRouter()
	g.Mount(r)
	return g, r
}

func doJSON(t *testing.T, h http.Handler, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
}

func TestWriteSessionErrorStatus(t *testing.T) {
	cases := []struct {
		kind terminal.ErrorKind
		want int
	}{
		{terminal.AuthenticationFailure, http.StatusBadRequest},
		{terminal.UnsupportedTransport, http.StatusBadRequest},
		{terminal.TransportReset, http.StatusBadGateway},
		{terminal.Timeout, http.StatusBadGateway},
		{terminal.ProtocolError, http.StatusBadGateway},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeSessionError(rec, &terminal.Error{Kind: tc.kind, Op: "test", Err: http.ErrHandlerTimeout})
		if rec.Code != tc.want {
			t.Errorf("%s: status %d, want %d", tc.kind, rec.Code, tc.want)
		}
		var body map[string]string
		decodeBody(t, rec, &body)
		if body["kind"] != string(tc.kind) || body["detail"] == "" {
			t.Errorf("%s: unexpected body %v", tc.kind, body)
		}
	}
}
