package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// sshWriteChunk is the largest single write to the channel. Bigger
	// payloads are split and written in order.
	sshWriteChunk = 4096
	sshReadBuffer = 4096
	sshWakeDelay  = 1500 * time.Millisecond
	// sshWakeSequence is a space, a backspace and a carriage return; enough to
	// make most shells and network devices print a prompt.
	sshWakeSequence = " \b\r"
)

// sshKeyTypes lists accepted private key types, most preferred first.
var sshKeyTypes = []string{
	ssh.KeyAlgoRSA,
	ssh.KeyAlgoECDSA256,
	ssh.KeyAlgoECDSA384,
	ssh.KeyAlgoECDSA521,
	ssh.KeyAlgoED25519,
	ssh.KeyAlgoDSA, //nolint:staticcheck // old network gear still ships DSA keys
}

var (
	sshKeyExchanges = []string{
		"curve25519-sha256",
		"curve25519-sha256@libssh.org",
		"ecdh-sha2-nistp256",
		"ecdh-sha2-nistp384",
		"ecdh-sha2-nistp521",
		"diffie-hellman-group16-sha512",
		"diffie-hellman-group14-sha256",
		"diffie-hellman-group14-sha1",
		"diffie-hellman-group1-sha1",
	}
	sshHostKeyAlgorithms = []string{
		ssh.KeyAlgoRSASHA512,
		ssh.KeyAlgoRSASHA256,
		ssh.KeyAlgoRSA,
		ssh.KeyAlgoECDSA256,
		ssh.KeyAlgoECDSA384,
		ssh.KeyAlgoECDSA521,
		ssh.KeyAlgoED25519,
	}
	sshCiphers = []string{
		"aes128-ctr",
		"aes192-ctr",
		"aes256-ctr",
		"aes128-gcm@openssh.com",
		"aes256-gcm@openssh.com",
		"chacha20-poly1305@openssh.com",
		"aes128-cbc",
		"3des-cbc",
	}
)

// SSHSession is a PTY shell on a remote host.
type SSHSession struct {
	lifecycle

	cfg  Config
	opts Options

	// HostKeyCallback verifies the server. Nil accepts any host key.
	HostKeyCallback ssh.HostKeyCallback

	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
	dec    *streamDecoder

	writeMu   sync.Mutex
	wakeDelay time.Duration
}

func NewSSHSession(id string, cfg Config, opts Options) *SSHSession {
	opts = opts.withDefaults()
	s := &SSHSession{cfg: cfg, opts: opts, wakeDelay: sshWakeDelay}
	s.init(id, KindSSH, cfg.Encoding, opts.RelayCapacity)
	s.dec = newStreamDecoder(cfg.Encoding)
	return s
}

// sshAuthMethods builds the auth list: a private key if one is configured,
// otherwise the password offered as password and keyboard-interactive.
func sshAuthMethods(cfg Config) ([]ssh.AuthMethod, error) {
	if cfg.PrivateKey != "" {
		signer, err := parseSigner(cfg.PrivateKey, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if cfg.Password != "" {
		password := cfg.Password
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}, nil
	}
	return nil, errors.New("no password or private key supplied")
}

// parseSigner parses a PEM private key and checks its type against the
// accepted list.
func parseSigner(pemKey, passphrase string) (ssh.Signer, error) {
	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(pemKey), []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(pemKey))
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errors.New("private key is encrypted and no passphrase was supplied")
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	keyType := signer.PublicKey().Type()
	for _, t := range sshKeyTypes {
		if t == keyType {
			return signer, nil
		}
	}
	return nil, fmt.Errorf("unsupported private key type %q", keyType)
}

func (s *SSHSession) clientConfig() (*ssh.ClientConfig, error) {
	auth, err := sshAuthMethods(s.cfg)
	if err != nil {
		return nil, newError(AuthenticationFailure, "ssh auth", err)
	}
	hostKey := s.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey() //nolint:gosec // web terminal accepts any host key unless a callback is supplied
	}
	return &ssh.ClientConfig{
		Config: ssh.Config{
			KeyExchanges: sshKeyExchanges,
			Ciphers:      sshCiphers,
		},
		User:              s.cfg.Username,
		Auth:              auth,
		HostKeyCallback:   hostKey,
		HostKeyAlgorithms: sshHostKeyAlgorithms,
		Timeout:           s.opts.SSHTimeout,
	}, nil
}

// Connect dials, authenticates and starts an interactive shell.
func (s *SSHSession) Connect(ctx context.Context) error {
	if s.State() != StateConnecting {
		return ErrNotConnected
	}
	if err := s.connect(ctx); err != nil {
		s.setCause(err)
		s.Close()
		return err
	}
	s.advance(StateConnected)
	log.Printf("[ssh] session %s: connected to %s@%s", s.id, s.cfg.Username, s.addr())
	s.runReader(s.readLoop, s.Close)
	go s.wake()
	return nil
}

func (s *SSHSession) addr() string {
	port := s.cfg.Port
	if port == 0 {
		port = KindSSH.DefaultPort()
	}
	return net.JoinHostPort(s.cfg.Hostname, strconv.Itoa(port))
}

func (s *SSHSession) connect(ctx context.Context) error {
	config, err := s.clientConfig()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.SSHTimeout)
	defer cancel()

	addr := s.addr()
	dialer := net.Dialer{Timeout: s.opts.SSHTimeout}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return classify("ssh dial", fmt.Errorf("dial %s: %w", addr, err))
	}

	type handshakeResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan handshakeResult, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		if err != nil {
			ch <- handshakeResult{err: err}
			return
		}
		ch <- handshakeResult{client: ssh.NewClient(c, chans, reqs)}
	}()

	var client *ssh.Client
	select {
	case res := <-ch:
		if res.err != nil {
			conn.Close()
			return classifyHandshake(res.err)
		}
		client = res.client
	case <-dialCtx.Done():
		conn.Close()
		return newError(Timeout, "ssh handshake", fmt.Errorf("handshake with %s: %w", addr, dialCtx.Err()))
	}
	s.client = client

	sess, err := client.NewSession()
	if err != nil {
		return newError(ProtocolError, "ssh session", fmt.Errorf("create ssh session: %w", err))
	}
	s.sess = sess

	term := s.cfg.TerminalType
	if term == "" {
		term = "xterm-256color"
	}
	cols, rows := s.cfg.Cols, s.cfg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(term, rows, cols, modes); err != nil {
		return newError(ProtocolError, "ssh pty", fmt.Errorf("request pty: %w", err))
	}
	if s.stdin, err = sess.StdinPipe(); err != nil {
		return newError(ProtocolError, "ssh pty", fmt.Errorf("stdin pipe: %w", err))
	}
	if s.stdout, err = sess.StdoutPipe(); err != nil {
		return newError(ProtocolError, "ssh pty", fmt.Errorf("stdout pipe: %w", err))
	}
	if err := sess.Shell(); err != nil {
		return newError(ProtocolError, "ssh shell", fmt.Errorf("start shell: %w", err))
	}
	return nil
}

// classifyHandshake maps x/crypto/ssh handshake errors onto error kinds.
func classifyHandshake(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"):
		return newError(AuthenticationFailure, "ssh handshake", err)
	case isTimeout(err):
		return newError(Timeout, "ssh handshake", err)
	case isReset(err):
		return newError(TransportReset, "ssh handshake", err)
	}
	return newError(ProtocolError, "ssh handshake", err)
}

func (s *SSHSession) wake() {
	t := time.NewTimer(s.wakeDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.readCtx.Done():
		return
	}
	if err := s.SendText(sshWakeSequence); err != nil && !errors.Is(err, ErrNotConnected) {
		log.Printf("[ssh] session %s: wake sequence: %v", s.id, err)
	}
}

func (s *SSHSession) readLoop() error {
	buf := make([]byte, sshReadBuffer)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			text, enc := s.dec.Decode(buf[:n])
			s.resolveEncoding(enc)
			if !s.emit(text) {
				return nil
			}
		}
		if err != nil {
			if tail, _ := s.dec.Flush(); tail != "" {
				s.emit(tail)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return newError(TransportReset, "ssh read", err)
		}
	}
}

func (s *SSHSession) SendText(text string) error {
	return s.SendBinary([]byte(text))
}

// SendBinary writes b in chunks of at most sshWriteChunk bytes.
func (s *SSHSession) SendBinary(b []byte) error {
	if !s.isConnected() {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for len(b) > 0 {
		n := min(len(b), sshWriteChunk)
		if _, err := s.stdin.Write(b[:n]); err != nil {
			return newError(TransportReset, "ssh write", err)
		}
		b = b[n:]
		if len(b) > 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

func (s *SSHSession) Resize(cols, rows int) error {
	if !s.isConnected() {
		return ErrNotConnected
	}
	if err := s.sess.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("window change: %w", err)
	}
	return nil
}

func (s *SSHSession) Close() error {
	if !s.beginClose() {
		return nil
	}
	if s.sess != nil {
		s.sess.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
	s.joinReader()
	s.finishClose()
	log.Printf("[ssh] session %s: closed", s.id)
	return nil
}
