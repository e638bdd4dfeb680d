package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ziutek/telnet"

	"github.com/webxterm/webxterm/internal/logutil"
)

const (
	telnetUsernameTimeout = 15 * time.Second
	telnetPasswordTimeout = 10 * time.Second
	telnetLoginSettle     = 3 * time.Second
	// telnetLoginPoll is the read deadline used while Connect owns the
	// connection, so prompt timeouts and ctx are checked between reads.
	telnetLoginPoll    = time.Second
	telnetReadBuffer   = 4096
	telnetCloseTimeout = 500 * time.Millisecond
)

// telnetLogoutCommands are sent best effort on Close.
var telnetLogoutCommands = []string{"logout", "exit", "quit"}

// TelnetSession is a raw-mode Telnet connection with optional automated login.
//
// While the login automaton runs, Connect is the only reader of the
// connection. The background read goroutine starts after automation ends,
// so there is never a second reader competing for the same bytes.
type TelnetSession struct {
	lifecycle

	cfg  Config
	opts Options

	conn    *telnet.Conn
	dec     *streamDecoder
	writeMu sync.Mutex

	usernameTimeout time.Duration
	passwordTimeout time.Duration
	settle          time.Duration
	poll            time.Duration
}

func NewTelnetSession(id string, cfg Config, opts Options) *TelnetSession {
	opts = opts.withDefaults()
	s := &TelnetSession{
		cfg:             cfg,
		opts:            opts,
		usernameTimeout: telnetUsernameTimeout,
		passwordTimeout: telnetPasswordTimeout,
		settle:          telnetLoginSettle,
		poll:            telnetLoginPoll,
	}
	s.init(id, KindTelnet, cfg.Encoding, opts.RelayCapacity)
	s.dec = newStreamDecoder(cfg.Encoding)
	return s
}

func (s *TelnetSession) addr() string {
	port := s.cfg.Port
	if port == 0 {
		port = KindTelnet.DefaultPort()
	}
	return net.JoinHostPort(s.cfg.Hostname, strconv.Itoa(port))
}

// Connect dials the host and, when a username is configured, types the
// credentials as prompts appear.
func (s *TelnetSession) Connect(ctx context.Context) error {
	if s.State() != StateConnecting {
		return ErrNotConnected
	}
	if err := s.dial(ctx); err != nil {
		s.setCause(err)
		s.Close()
		return err
	}
	if s.cfg.Username != "" {
		if err := s.login(ctx); err != nil {
			s.setCause(err)
			s.Close()
			return err
		}
	}
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		err = newError(TransportReset, "telnet", err)
		s.setCause(err)
		s.Close()
		return err
	}
	s.advance(StateConnected)
	log.Printf("[telnet] session %s: connected to %s", s.id, s.addr())
	s.runReader(s.readLoop, s.Close)
	return nil
}

func (s *TelnetSession) dial(ctx context.Context) error {
	addr := s.addr()
	type dialResult struct {
		conn *telnet.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		raw, err := net.DialTimeout("tcp", addr, s.opts.TelnetTimeout)
		if err != nil {
			ch <- dialResult{nil, err}
			return
		}
		c, err := telnet.NewConn(newTelnetNegotiator(raw, s.cfg.TerminalType, s.cfg.Cols, s.cfg.Rows))
		if err != nil {
			raw.Close()
		}
		ch <- dialResult{c, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			return classify("telnet dial", fmt.Errorf("dial %s: %w", addr, res.err))
		}
		s.conn = res.conn
		return nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return newError(Timeout, "telnet dial", fmt.Errorf("dial %s: %w", addr, ctx.Err()))
	}
}

// login runs the automaton in three phases: username prompt, password
// prompt, then a settle period that watches for failure messages. A prompt
// timeout aborts automation but keeps the connection.
func (s *TelnetSession) login(ctx context.Context) error {
	auto := NewLoginAutomaton(TelnetLoginPolicy(), s.cfg.Username, s.cfg.Password)
	auto.Start()

	phases := []struct {
		name    string
		timeout time.Duration
		until   func(LoginState) bool
	}{
		{"username prompt", s.usernameTimeout, func(st LoginState) bool { return st != LoginWaitingUsername }},
		{"password prompt", s.passwordTimeout, func(st LoginState) bool { return st != LoginWaitingPassword }},
		{"login result", s.settle, func(st LoginState) bool { return st == LoginFailed }},
	}
	for _, p := range phases {
		st := auto.State()
		if st == LoginFailed {
			break
		}
		if st == LoginDone && p.name != "login result" {
			continue
		}
		reached, err := s.readLogin(ctx, auto, p.timeout, p.until)
		if err != nil {
			return err
		}
		if !reached && p.name != "login result" {
			log.Printf("[telnet] session %s: no %s within %s, automation stopped", s.id, p.name, p.timeout)
			auto.Abort()
		}
	}

	if auto.State() == LoginFailed {
		return errorf(AuthenticationFailure, "telnet login", "server rejected credentials for %s: %s",
			logutil.SanitizeForLog(s.cfg.Username), auto.Failure())
	}
	log.Printf("[telnet] session %s: login automation finished", s.id)
	return nil
}

// readLogin reads until cond holds for the automaton state or timeout
// elapses. Output is relayed to the client and fed to the automaton.
func (s *TelnetSession) readLogin(ctx context.Context, auto *LoginAutomaton, timeout time.Duration, cond func(LoginState) bool) (bool, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, telnetReadBuffer)
	for {
		if cond(auto.State()) {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, newError(Timeout, "telnet login", err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(min(remaining, s.poll))); err != nil {
			return false, newError(TransportReset, "telnet login", err)
		}
		n, err := s.conn.Read(buf)
		if n > 0 {
			text, enc := s.dec.Decode(buf[:n])
			s.resolveEncoding(enc)
			s.emit(text)
			if m := matchAny(connectionRefusedPatterns, text); m != "" {
				return false, errorf(TransportReset, "telnet login", "remote refused: %s", m)
			}
			if reply := auto.Feed(text); reply != "" {
				if werr := s.write([]byte(reply)); werr != nil {
					return false, werr
				}
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return false, newError(TransportReset, "telnet login", errors.New("connection closed during login"))
			}
			return false, newError(TransportReset, "telnet login", err)
		}
	}
}

func (s *TelnetSession) readLoop() error {
	buf := make([]byte, telnetReadBuffer)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			text, enc := s.dec.Decode(buf[:n])
			s.resolveEncoding(enc)
			if !s.emit(text) {
				return nil
			}
			if m := matchAny(loginFailurePatterns, text); m != "" {
				return errorf(AuthenticationFailure, "telnet", "remote reported: %s", m)
			}
			if m := matchAny(connectionRefusedPatterns, text); m != "" {
				return errorf(TransportReset, "telnet", "remote refused: %s", m)
			}
		}
		if err != nil {
			if tail, _ := s.dec.Flush(); tail != "" {
				s.emit(tail)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return newError(TransportReset, "telnet read", err)
		}
	}
}

// write sends b as Telnet data. IAC bytes are doubled here and the result
// goes straight to the socket; telnet.Conn.Write drops non-UTF-8 bytes.
func (s *TelnetSession) write(b []byte) error {
	b = bytes.ReplaceAll(b, []byte{tnIAC}, []byte{tnIAC, tnIAC})
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Conn.Write(b); err != nil {
		return newError(TransportReset, "telnet write", err)
	}
	return nil
}

func (s *TelnetSession) SendText(text string) error {
	return s.SendBinary([]byte(text))
}

func (s *TelnetSession) SendBinary(b []byte) error {
	if !s.isConnected() {
		return ErrNotConnected
	}
	return s.write(b)
}

// Resize is a no-op: the window size is reported once, when the server
// asks for NAWS, and never updated.
func (s *TelnetSession) Resize(cols, rows int) error {
	if !s.isConnected() {
		return ErrNotConnected
	}
	log.Printf("[telnet] session %s: resize to %dx%d ignored", s.id, cols, rows)
	return nil
}

func (s *TelnetSession) Close() error {
	wasConnected := s.isConnected()
	if !s.beginClose() {
		return nil
	}
	if s.conn != nil {
		if wasConnected {
			s.sendLogout()
		}
		s.conn.Close()
	}
	s.joinReader()
	s.finishClose()
	log.Printf("[telnet] session %s: closed", s.id)
	return nil
}

// sendLogout sets the write deadline before taking writeMu, so a writer
// stuck on a peer that stopped reading fails and releases the lock.
func (s *TelnetSession) sendLogout() {
	if err := s.conn.SetWriteDeadline(time.Now().Add(telnetCloseTimeout)); err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, cmd := range telnetLogoutCommands {
		if _, err := s.conn.Conn.Write([]byte(cmd + "\r\n")); err != nil {
			return
		}
	}
}
