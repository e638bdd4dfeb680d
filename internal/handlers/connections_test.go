package handlers

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/webxterm/webxterm/internal/database"
	"github.com/webxterm/webxterm/internal/terminal"
)

// startEchoTelnet serves one connection: a banner, then an echo of every line.
func startEchoTelnet(t *testing.T) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("welcome to the switch\r\n"))
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			conn.Write([]byte("echo: " + line))
		}
	}()
	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, want string) {
	t.Helper()
	var seen strings.Builder
	for !strings.Contains(seen.String(), want) {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read waiting for %q (seen %q): %v", want, seen.String(), err)
		}
		seen.Write(data)
	}
}

func TestConnect_Validation(t *testing.T) {
	_, h := newTestRouter(t)

	cases := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"unknown type", map[string]interface{}{"connection_type": "rdp", "hostname": "h"}},
		{"missing hostname", map[string]interface{}{"connection_type": "ssh"}},
		{"bad port", map[string]interface{}{"connection_type": "telnet", "hostname": "h", "port": 70000}},
		{"odd baud", map[string]interface{}{"connection_type": "serial", "device": "ttyUSB0", "baud_rate": 12345}},
		{"device traversal", map[string]interface{}{"connection_type": "serial", "device": "../etc/passwd"}},
	}
	for _, tc := range cases {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/connections/connect", tc.payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", tc.name, rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/connections/connect", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty body: expected 400, got %d", rec.Code)
	}
}

func TestConnect_RefusedIsBadGateway(t *testing.T) {
	g, h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/connections/connect", map[string]interface{}{
		"connection_type": "telnet",
		"hostname":        "127.0.0.1",
		"port":            closedPort(t),
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["kind"] != string(terminal.TransportReset) {
		t.Errorf("kind = %q", body["kind"])
	}
	if g.Registry.Stats().Active != 0 {
		t.Error("failed session must not be registered")
	}
}

func TestConnect_WebSocketRoundTrip(t *testing.T) {
	g, h := newTestRouter(t)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	host, port := startEchoTelnet(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/connections/connect", map[string]interface{}{
		"connection_type": "telnet",
		"hostname":        host,
		"port":            port,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: %d %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	id := resp["connection_id"]
	if id == "" || resp["status"] != "success" || resp["encoding"] == "" {
		t.Fatalf("unexpected connect response %v", resp)
	}

	status := doJSON(t, h, http.MethodGet, "/api/v1/connections/status", nil)
	var stats map[string]interface{}
	decodeBody(t, status, &stats)
	if stats["active_connections"] != float64(1) || stats["total_connections"] != float64(1) {
		t.Errorf("unexpected stats %v", stats)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/connections/ws/" + id
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.CloseNow()

	readUntil(t, ctx, conn, "welcome to the switch")
	conn.Write(ctx, websocket.MessageText, []byte(`{"data":"show version\r\n"}`))
	readUntil(t, ctx, conn, "echo: show version")

	conn.Close(websocket.StatusNormalClosure, "done")
	deadline := time.Now().Add(3 * time.Second)
	for g.Registry.Stats().Active != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not removed after websocket closed")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestConnectionWS_UnknownID(t *testing.T) {
	_, h := newTestRouter(t)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/connections/ws/does-not-exist"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != terminal.StatusConnectionNotFound {
		t.Errorf("expected close code 4000, got %v", err)
	}
}

func TestCloseConnection(t *testing.T) {
	g, h := newTestRouter(t)
	host, port := startEchoTelnet(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/connections/connect", map[string]interface{}{
		"connection_type": "telnet",
		"hostname":        host,
		"port":            port,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: %d %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)

	list := doJSON(t, h, http.MethodGet, "/api/v1/connections", nil)
	var listed map[string][]terminal.Info
	decodeBody(t, list, &listed)
	if len(listed["connections"]) != 1 || listed["connections"][0].Kind != terminal.KindTelnet {
		t.Errorf("unexpected list %v", listed)
	}

	del := doJSON(t, h, http.MethodDelete, "/api/v1/connections/"+resp["connection_id"], nil)
	if del.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", del.Code, del.Body.String())
	}
	if g.Registry.Stats().Active != 0 {
		t.Error("session still registered")
	}
	again := doJSON(t, h, http.MethodDelete, "/api/v1/connections/"+resp["connection_id"], nil)
	if again.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", again.Code)
	}
}

func TestConnect_FillsFromProfile(t *testing.T) {
	_, h := newTestRouter(t)
	host, port := startEchoTelnet(t)

	p := &database.Profile{Name: "lab switch", ConnectionType: "telnet", Hostname: host, Port: port}
	if err := database.CreateProfile(p); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/connections/connect", map[string]interface{}{
		"profile_id": p.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: %d %s", rec.Code, rec.Body.String())
	}
	loaded, _ := database.GetProfile(p.ID)
	if loaded.LastUsed == nil {
		t.Error("profile last_used not updated")
	}

	missing := doJSON(t, h, http.MethodPost, "/api/v1/connections/connect", map[string]interface{}{
		"profile_id": "nope",
	})
	if missing.Code != http.StatusBadRequest {
		t.Errorf("missing profile: expected 400, got %d", missing.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	_, h := newTestRouter(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["status"] != "healthy" || body["database"] != "connected" || body["active_sessions"] != float64(0) {
		t.Errorf("unexpected health %v", body)
	}
}
