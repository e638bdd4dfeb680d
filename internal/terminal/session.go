package terminal

import (
	"context"
	"log"
	"sync"
	"time"
)

// Kind identifies the transport behind a session.
type Kind string

const (
	KindSSH    Kind = "ssh"
	KindTelnet Kind = "telnet"
	KindSerial Kind = "serial"
	KindLocal  Kind = "local"
)

// ParseKind maps a connection type from the API onto a Kind. "usbserial" is
// accepted as an alias for serial.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "ssh":
		return KindSSH, true
	case "telnet":
		return KindTelnet, true
	case "serial", "usbserial":
		return KindSerial, true
	case "local":
		return KindLocal, true
	}
	return "", false
}

// DefaultPort returns the well-known port for network transports.
func (k Kind) DefaultPort() int {
	switch k {
	case KindSSH:
		return 22
	case KindTelnet:
		return 23
	}
	return 0
}

// State is the lifecycle state of a session. States only move forward.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config holds the immutable connection parameters of a session.
type Config struct {
	Kind         Kind
	Hostname     string
	Port         int
	Username     string
	Password     string
	PrivateKey   string
	Passphrase   string
	TerminalType string
	// Encoding is "auto" (or empty) for detection, otherwise the name of the
	// legacy encoding tried after UTF-8.
	Encoding string
	Cols     int
	Rows     int
	Device   string
	BaudRate int
}

// Options are process-wide tunables shared by every adapter.
type Options struct {
	SSHTimeout    time.Duration
	TelnetTimeout time.Duration
	RelayCapacity int
	LoginProgram  string
}

// DefaultOptions returns the options used when the caller leaves fields zero.
func DefaultOptions() Options {
	return Options{
		SSHTimeout:    10 * time.Second,
		TelnetTimeout: 10 * time.Second,
		RelayCapacity: DefaultRelayCapacity,
		LoginProgram:  DefaultLoginProgram,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SSHTimeout <= 0 {
		o.SSHTimeout = d.SSHTimeout
	}
	if o.TelnetTimeout <= 0 {
		o.TelnetTimeout = d.TelnetTimeout
	}
	if o.RelayCapacity <= 0 {
		o.RelayCapacity = d.RelayCapacity
	}
	if o.LoginProgram == "" {
		o.LoginProgram = d.LoginProgram
	}
	return o
}

// Session is the contract every transport adapter implements.
//
// SendText, SendBinary and Resize fail fast with ErrNotConnected outside the
// connected state. Close is idempotent. Output is closed once the session
// reaches StateClosed; Err then reports the cause, or nil for a clean end.
type Session interface {
	ID() string
	Kind() Kind
	Connect(ctx context.Context) error
	SendText(s string) error
	SendBinary(b []byte) error
	Resize(cols, rows int) error
	Close() error
	Output() <-chan Chunk
	State() State
	Encoding() string
	Err() error
	Done() <-chan struct{}
}

// readerJoinTimeout bounds how long Close waits for a read goroutine.
const readerJoinTimeout = time.Second

// lifecycle is the state every adapter carries: identity, state machine,
// stored cause, resolved encoding and the output relay.
type lifecycle struct {
	id     string
	kind   Kind
	prefix string
	relay  *Relay

	// readCtx is cancelled when closing starts so a producer blocked on a
	// full relay lets go.
	readCtx    context.Context
	readCancel context.CancelFunc
	readerDone chan struct{}
	readerOn   bool

	mu           sync.Mutex
	state        State
	closeStarted bool
	cause        error
	encoding     string
	done         chan struct{}
}

func (l *lifecycle) init(id string, kind Kind, encoding string, capacity int) {
	if encoding == "" {
		encoding = EncodingAuto
	}
	l.id = id
	l.kind = kind
	l.prefix = "[" + string(kind) + "]"
	l.relay = NewRelay(capacity)
	l.readCtx, l.readCancel = context.WithCancel(context.Background())
	l.readerDone = make(chan struct{})
	l.state = StateConnecting
	l.encoding = encoding
	l.done = make(chan struct{})
}

func (l *lifecycle) ID() string            { return l.id }
func (l *lifecycle) Kind() Kind            { return l.kind }
func (l *lifecycle) Output() <-chan Chunk  { return l.relay.C() }
func (l *lifecycle) Done() <-chan struct{} { return l.done }

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cause
}

func (l *lifecycle) Encoding() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoding
}

// advance moves the state forward; it never goes back.
func (l *lifecycle) advance(s State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s <= l.state {
		return false
	}
	l.state = s
	return true
}

func (l *lifecycle) isConnected() bool {
	return l.State() == StateConnected
}

// setCause keeps the first cause recorded.
func (l *lifecycle) setCause(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cause == nil {
		l.cause = err
	}
}

// resolveEncoding replaces "auto" with the first concrete encoding seen.
func (l *lifecycle) resolveEncoding(name string) {
	if name == "" || name == EncodingASCII {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.encoding == EncodingAuto {
		l.encoding = name
	}
}

// beginClose reports whether the caller is the one that must tear down.
func (l *lifecycle) beginClose() bool {
	l.mu.Lock()
	if l.closeStarted {
		l.mu.Unlock()
		return false
	}
	l.closeStarted = true
	if l.state < StateClosing {
		l.state = StateClosing
	}
	l.mu.Unlock()
	l.readCancel()
	return true
}

// runReader starts the read goroutine. When loop returns on its own, the
// error is stored as the cause and the session closes itself.
func (l *lifecycle) runReader(loop func() error, closeFn func() error) {
	l.mu.Lock()
	l.readerOn = true
	l.mu.Unlock()
	go func() {
		err := loop()
		close(l.readerDone)
		if l.readCtx.Err() == nil {
			if err != nil {
				log.Printf("%s session %s: read loop ended: %v", l.prefix, l.id, err)
				l.setCause(err)
			} else {
				log.Printf("%s session %s: remote side closed the stream", l.prefix, l.id)
			}
		}
		closeFn()
	}()
}

// joinReader waits a bounded time for the read goroutine to exit.
func (l *lifecycle) joinReader() {
	l.mu.Lock()
	on := l.readerOn
	l.mu.Unlock()
	if !on {
		return
	}
	select {
	case <-l.readerDone:
	case <-time.After(readerJoinTimeout):
		log.Printf("%s session %s: reader did not stop within %s, continuing teardown", l.prefix, l.id, readerJoinTimeout)
	}
}

// finishClose closes the relay and marks the session closed.
func (l *lifecycle) finishClose() {
	l.relay.Close()
	l.mu.Lock()
	l.state = StateClosed
	l.mu.Unlock()
	close(l.done)
}

// emit pushes decoded text into the relay. It returns false once the
// session is shutting down.
func (l *lifecycle) emit(text string) bool {
	if text == "" {
		return true
	}
	return l.relay.Push(l.readCtx, Chunk{Text: text}) == nil
}
