package terminal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// telnetScript drives one accepted connection in a fake Telnet server.
type telnetScript func(conn net.Conn, r *bufio.Reader)

func startTelnetServer(t *testing.T, script telnetScript) (host string, port int) {
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
		script(conn, bufio.NewReader(conn))
	}()
	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func newTestTelnetSession(t *testing.T, cfg Config) *TelnetSession {
	t.Helper()
	s := NewTelnetSession("telnet-test", cfg, Options{TelnetTimeout: 2 * time.Second})
	s.usernameTimeout = time.Second
	s.passwordTimeout = time.Second
	s.settle = 300 * time.Millisecond
	s.poll = 50 * time.Millisecond
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTelnetSession_LoginIncorrect(t *testing.T) {
	gotUser := make(chan string, 1)
	gotPass := make(chan string, 1)
	host, port := startTelnetServer(t, func(conn net.Conn, r *bufio.Reader) {
		conn.Write([]byte("Ubuntu 22.04\r\nlogin: "))
		gotUser <- readLine(r)
		conn.Write([]byte("Password: "))
		gotPass <- readLine(r)
		conn.Write([]byte("\r\nLogin incorrect\r\nlogin: "))
		time.Sleep(time.Second)
	})

	s := newTestTelnetSession(t, Config{Kind: KindTelnet, Hostname: host, Port: port, Username: "admin", Password: "wrong"})
	err := s.Connect(context.Background())
	if KindOf(err) != AuthenticationFailure {
		t.Fatalf("expected AuthenticationFailure, got %v", err)
	}
	if u := <-gotUser; u != "admin" {
		t.Errorf("server saw username %q", u)
	}
	if p := <-gotPass; p != "wrong" {
		t.Errorf("server saw password %q", p)
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}

	// The banner was relayed before the failure.
	var out string
	for c := range s.Output() {
		out += c.Text
	}
	if !strings.Contains(out, "Ubuntu 22.04") {
		t.Errorf("banner not relayed: %q", out)
	}
}

func TestTelnetSession_LoginAndEcho(t *testing.T) {
	host, port := startTelnetServer(t, func(conn net.Conn, r *bufio.Reader) {
		conn.Write([]byte("User name: "))
		readLine(r)
		conn.Write([]byte("User password: "))
		readLine(r)
		conn.Write([]byte("\r\n<switch>"))
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			conn.Write([]byte("got:" + line))
		}
	})

	s := newTestTelnetSession(t, Config{Kind: KindTelnet, Hostname: host, Port: port, Username: "admin", Password: "pw"})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	collectOutput(t, s, "<switch>", 2*time.Second)

	if err := s.SendText("display version\r\n"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	collectOutput(t, s, "got:display version", 2*time.Second)

	if err := s.Resize(100, 40); err != nil {
		t.Errorf("Resize should be a no-op, got %v", err)
	}
}

func TestTelnetSession_PromptTimeoutKeepsConnection(t *testing.T) {
	host, port := startTelnetServer(t, func(conn net.Conn, r *bufio.Reader) {
		conn.Write([]byte("Welcome, no prompt here\r\n"))
		line, _ := r.ReadString('\n')
		conn.Write([]byte("got:" + line))
		time.Sleep(time.Second)
	})

	s := newTestTelnetSession(t, Config{Kind: KindTelnet, Hostname: host, Port: port, Username: "admin", Password: "pw"})
	s.usernameTimeout = 200 * time.Millisecond
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("expected connected after prompt timeout, got %s", s.State())
	}
	s.SendText("hi\n")
	collectOutput(t, s, "got:hi", 2*time.Second)
}

func TestTelnetSession_FailurePatternAfterLogin(t *testing.T) {
	host, port := startTelnetServer(t, func(conn net.Conn, r *bufio.Reader) {
		conn.Write([]byte("$ "))
		readLine(r)
		conn.Write([]byte("telnet: connect to 10.0.0.9: Connection refused\r\n"))
		time.Sleep(time.Second)
	})

	s := newTestTelnetSession(t, Config{Kind: KindTelnet, Hostname: host, Port: port})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s.SendText("telnet 10.0.0.9\r\n")

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session stayed open after connection refused output")
	}
	if KindOf(s.Err()) != TransportReset {
		t.Errorf("expected TransportReset cause, got %v", s.Err())
	}
}

func TestTelnetSession_RemoteCloseIsCleanEnd(t *testing.T) {
	host, port := startTelnetServer(t, func(conn net.Conn, r *bufio.Reader) {
		conn.Write([]byte("bye\r\n"))
	})
	s := newTestTelnetSession(t, Config{Kind: KindTelnet, Hostname: host, Port: port})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end after remote close")
	}
	if s.Err() != nil {
		t.Errorf("expected clean end, got %v", s.Err())
	}
	if err := s.SendText("x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestTelnetSession_DialFailure(t *testing.T) {
	l, _ := net.Listen("tcp", "127.0.0.1:0")
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	s := newTestTelnetSession(t, Config{Kind: KindTelnet, Hostname: "127.0.0.1", Port: port})
	if err := s.Connect(context.Background()); KindOf(err) != TransportReset {
		t.Fatalf("expected TransportReset, got %v", err)
	}
}

func TestTelnetSession_SendBinaryForwardsRawBytes(t *testing.T) {
	got := make(chan []byte, 1)
	host, port := startTelnetServer(t, func(conn net.Conn, r *bufio.Reader) {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		buf := make([]byte, 6)
		n, _ := io.ReadFull(r, buf)
		got <- buf[:n]
	})

	s := newTestTelnetSession(t, Config{Kind: KindTelnet, Hostname: host, Port: port})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.SendBinary([]byte{'a', 0xc4, 0xe3, 0xff, 'b'}); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}
	want := []byte{'a', 0xc4, 0xe3, 0xff, 0xff, 'b'}
	if b := <-got; !bytes.Equal(b, want) {
		t.Errorf("server received % x, want % x", b, want)
	}
}

func TestTelnetSession_CloseUnblocksStuckWriter(t *testing.T) {
	release := make(chan struct{})
	host, port := startTelnetServer(t, func(conn net.Conn, r *bufio.Reader) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	s := newTestTelnetSession(t, Config{Kind: KindTelnet, Hostname: host, Port: port})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sendErr := make(chan error, 1)
	go func() { sendErr <- s.SendBinary(make([]byte, 32<<20)) }()
	time.Sleep(300 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatalf("Close blocked behind a stuck write, state %s", s.State())
	}
	select {
	case err := <-sendErr:
		if err == nil {
			t.Error("expected the interrupted write to fail")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("writer still blocked after Close")
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}
}

func TestTelnetSession_ReportsTerminalTypeAndSize(t *testing.T) {
	got := make(chan []byte, 1)
	want := []byte{
		tnIAC, tnWill, tnOptNAWS,
		tnIAC, tnSB, tnOptNAWS, 0, 100, 0, 30, tnIAC, tnSE,
		tnIAC, tnWill, tnOptTTYPE,
		tnIAC, tnSB, tnOptTTYPE, tnTTYPEIs, 'v', 't', '1', '0', '0', tnIAC, tnSE,
	}
	host, port := startTelnetServer(t, func(conn net.Conn, r *bufio.Reader) {
		conn.Write([]byte{
			tnIAC, tnDo, tnOptNAWS,
			tnIAC, tnDo, tnOptTTYPE,
			tnIAC, tnSB, tnOptTTYPE, tnTTYPESend, tnIAC, tnSE,
			'$', ' ',
		})
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		buf := make([]byte, len(want))
		n, _ := io.ReadFull(r, buf)
		got <- buf[:n]
		time.Sleep(500 * time.Millisecond)
	})

	s := newTestTelnetSession(t, Config{
		Kind: KindTelnet, Hostname: host, Port: port,
		TerminalType: "vt100", Cols: 100, Rows: 30,
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	out := collectOutput(t, s, "$ ", 2*time.Second)
	if strings.ContainsRune(out, 0xFFFD) {
		t.Errorf("negotiation bytes leaked into output: %q", out)
	}
	if b := <-got; !bytes.Equal(b, want) {
		t.Errorf("negotiation reply\n got % x\nwant % x", b, want)
	}
}

// scriptedConn replays fixed reads and records writes.
type scriptedConn struct {
	net.Conn
	in      [][]byte
	written bytes.Buffer
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	if len(c.in) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.in[0])
	c.in[0] = c.in[0][n:]
	if len(c.in[0]) == 0 {
		c.in = c.in[1:]
	}
	return n, nil
}

func (c *scriptedConn) Write(p []byte) (int, error) { return c.written.Write(p) }

func TestTelnetNegotiator_SplitCommandsAndDefaults(t *testing.T) {
	stream := []byte{
		'h', 'i',
		tnIAC, 241, // NOP is dropped
		tnIAC, tnIAC, // escaped IAC passes through for telnet.Conn to unescape
		tnIAC, tnWill, 1, // ECHO is left to telnet.Conn
		tnIAC, tnDo, tnOptNAWS,
		tnIAC, tnSB, 42, 1, 2, tnIAC, tnSE, // unknown subnegotiation is dropped
		'!',
	}
	conn := &scriptedConn{}
	for _, b := range stream {
		conn.in = append(conn.in, []byte{b})
	}
	n := newTelnetNegotiator(conn, "", 0, 0)

	var out []byte
	buf := make([]byte, 2)
	for {
		k, err := n.Read(buf)
		out = append(out, buf[:k]...)
		if err != nil {
			break
		}
	}

	wantOut := []byte{'h', 'i', tnIAC, tnIAC, tnIAC, tnWill, 1, '!'}
	if !bytes.Equal(out, wantOut) {
		t.Errorf("data\n got % x\nwant % x", out, wantOut)
	}
	wantReply := []byte{tnIAC, tnWill, tnOptNAWS, tnIAC, tnSB, tnOptNAWS, 0, 120, 0, 26, tnIAC, tnSE}
	if !bytes.Equal(conn.written.Bytes(), wantReply) {
		t.Errorf("reply\n got % x\nwant % x", conn.written.Bytes(), wantReply)
	}
}
