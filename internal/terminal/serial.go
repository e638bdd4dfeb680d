package terminal

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 115200
	serialSettleDelay  = 500 * time.Millisecond
	serialReadTimeout  = time.Second
	serialReadBuffer   = 4096
	serialDevicePrefix = "/dev/"
)

// serialPort is the part of serial.Port the adapter uses.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

type serialOpener func(device string, baud int) (serialPort, error)

func openSerialPort(device string, baud int) (serialPort, error) {
	return serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// SerialDevicePath turns a bare device name such as ttyUSB0 into /dev/ttyUSB0.
func SerialDevicePath(device string) string {
	if device == "" || strings.HasPrefix(device, "/") {
		return device
	}
	return serialDevicePrefix + device
}

// SerialSession talks to a local serial device at 8N1 without flow control.
type SerialSession struct {
	lifecycle

	cfg  Config
	opts Options

	open    serialOpener
	port    serialPort
	dec     *streamDecoder
	writeMu sync.Mutex
	settle  time.Duration
}

func NewSerialSession(id string, cfg Config, opts Options) *SerialSession {
	opts = opts.withDefaults()
	s := &SerialSession{cfg: cfg, opts: opts, open: openSerialPort, settle: serialSettleDelay}
	s.init(id, KindSerial, cfg.Encoding, opts.RelayCapacity)
	s.dec = newStreamDecoder(cfg.Encoding)
	return s
}

func (s *SerialSession) Connect(ctx context.Context) error {
	if s.State() != StateConnecting {
		return ErrNotConnected
	}
	if err := s.connect(ctx); err != nil {
		s.setCause(err)
		s.Close()
		return err
	}
	s.advance(StateConnected)
	s.runReader(s.readLoop, s.Close)
	return nil
}

func (s *SerialSession) connect(ctx context.Context) error {
	device := SerialDevicePath(s.cfg.Device)
	if device == "" {
		return errorf(ProtocolError, "serial open", "no serial device configured")
	}
	baud := s.cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := s.open(device, baud)
	if err != nil {
		return newError(TransportReset, "serial open", fmt.Errorf("open %s: %w", device, err))
	}
	s.port = port
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		return newError(ProtocolError, "serial open", fmt.Errorf("set read timeout: %w", err))
	}
	log.Printf("[serial] session %s: opened %s at %d baud", s.id, device, baud)

	t := time.NewTimer(s.settle)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return newError(Timeout, "serial open", ctx.Err())
	}
	if _, err := port.Write([]byte("\r")); err != nil {
		return newError(TransportReset, "serial write", err)
	}
	return nil
}

// readLoop polls the port. A read that returns nothing is the per-read
// timeout expiring; any error means the port went away.
func (s *SerialSession) readLoop() error {
	buf := make([]byte, serialReadBuffer)
	for {
		if s.readCtx.Err() != nil {
			return nil
		}
		n, err := s.port.Read(buf)
		if err != nil {
			return newError(TransportReset, "serial read", err)
		}
		if n == 0 {
			continue
		}
		text, enc := s.dec.Decode(buf[:n])
		s.resolveEncoding(enc)
		if !s.emit(text) {
			return nil
		}
	}
}

func (s *SerialSession) SendText(text string) error {
	return s.SendBinary([]byte(text))
}

// SendBinary writes b to the port. A failed write closes the session.
func (s *SerialSession) SendBinary(b []byte) error {
	if !s.isConnected() {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	_, err := s.port.Write(b)
	s.writeMu.Unlock()
	if err != nil {
		werr := newError(TransportReset, "serial write", err)
		log.Printf("[serial] session %s: write failed, closing: %v", s.id, err)
		s.setCause(werr)
		go s.Close()
		return werr
	}
	return nil
}

// Resize does nothing; a serial line has no window size.
func (s *SerialSession) Resize(cols, rows int) error {
	if !s.isConnected() {
		return ErrNotConnected
	}
	return nil
}

func (s *SerialSession) Close() error {
	if !s.beginClose() {
		return nil
	}
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			log.Printf("[serial] session %s: close port: %v", s.id, err)
		}
	}
	s.joinReader()
	s.finishClose()
	log.Printf("[serial] session %s: closed", s.id)
	return nil
}
