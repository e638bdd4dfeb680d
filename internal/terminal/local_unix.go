//go:build !windows

package terminal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

const (
	localTypeDelay  = 100 * time.Millisecond
	localReadBuffer = 4096
)

// LocalSession runs the system login program on a fresh pseudo-terminal.
// It never falls back to a plain shell: without a usable login program the
// transport is unsupported.
type LocalSession struct {
	lifecycle

	cfg  Config
	opts Options

	cmd     *exec.Cmd
	ptmx    *os.File
	dec     *streamDecoder
	auto    *LoginAutomaton
	writeMu sync.Mutex
}

func NewLocalSession(id string, cfg Config, opts Options) *LocalSession {
	opts = opts.withDefaults()
	s := &LocalSession{cfg: cfg, opts: opts}
	s.init(id, KindLocal, cfg.Encoding, opts.RelayCapacity)
	s.dec = newStreamDecoder(cfg.Encoding)
	s.auto = NewLoginAutomaton(LocalLoginPolicy(), cfg.Username, cfg.Password)
	return s
}

func checkLoginProgram(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errorf(UnsupportedTransport, "local", "login program %s: %v", path, err)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return errorf(UnsupportedTransport, "local", "login program %s is not executable", path)
	}
	return nil
}

func (s *LocalSession) Connect(ctx context.Context) error {
	if s.State() != StateConnecting {
		return ErrNotConnected
	}
	if err := s.start(ctx); err != nil {
		s.setCause(err)
		s.Close()
		return err
	}
	s.auto.Start()
	s.advance(StateConnected)
	log.Printf("[local] session %s: started %s (pid %d)", s.id, s.opts.LoginProgram, s.cmd.Process.Pid)
	s.runReader(s.readLoop, s.Close)
	return nil
}

func (s *LocalSession) start(ctx context.Context) error {
	program := s.opts.LoginProgram
	if err := checkLoginProgram(program); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return newError(Timeout, "local", err)
	}

	term := s.cfg.TerminalType
	if term == "" {
		term = "xterm-256color"
	}
	cmd := exec.Command(program)
	cmd.Env = []string{
		"TERM=" + term,
		"HOME=" + envOr("HOME", "/root"),
		"SHELL=" + envOr("SHELL", "/bin/bash"),
		"PATH=" + envOr("PATH", "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"),
	}

	cols, rows := s.cfg.Cols, s.cfg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	// StartWithSize puts the child in a new session with the pty slave as
	// its controlling terminal and stdio.
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return errorf(UnsupportedTransport, "local", "start %s: %v", program, err)
	}
	s.cmd = cmd
	s.ptmx = ptmx
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// readLoop pumps the pty master. EIO means every slave descriptor is closed,
// which is how a finished login session looks from the master side.
func (s *LocalSession) readLoop() error {
	buf := make([]byte, localReadBuffer)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			text, enc := s.dec.Decode(buf[:n])
			s.resolveEncoding(enc)
			if !s.emit(text) {
				return nil
			}
			if reply := s.auto.Feed(text); reply != "" {
				time.Sleep(localTypeDelay)
				if werr := s.write([]byte(reply)); werr != nil {
					log.Printf("[local] session %s: automated login stopped: %v", s.id, werr)
					s.auto.Abort()
				}
			}
		}
		if err != nil {
			if tail, _ := s.dec.Flush(); tail != "" {
				s.emit(tail)
			}
			if errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return newError(TransportReset, "local read", err)
		}
	}
}

func (s *LocalSession) write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.ptmx.Write(b); err != nil {
		return newError(TransportReset, "local write", err)
	}
	return nil
}

func (s *LocalSession) SendText(text string) error {
	return s.SendBinary([]byte(text))
}

func (s *LocalSession) SendBinary(b []byte) error {
	if !s.isConnected() {
		return ErrNotConnected
	}
	return s.write(b)
}

func (s *LocalSession) Resize(cols, rows int) error {
	if !s.isConnected() {
		return ErrNotConnected
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("set pty size: %w", err)
	}
	return nil
}

// Close terminates the child and releases the pty. Each step runs even if
// an earlier one failed.
func (s *LocalSession) Close() error {
	if !s.beginClose() {
		return nil
	}
	var pid int
	if s.cmd != nil && s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
		if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			log.Printf("[local] session %s: signal pid %d: %v", s.id, pid, err)
		}
	}
	if s.ptmx != nil {
		if err := s.ptmx.Close(); err != nil {
			log.Printf("[local] session %s: close pty: %v", s.id, err)
		}
	}
	if pid > 0 {
		s.reap(pid)
	}
	s.joinReader()
	s.finishClose()
	log.Printf("[local] session %s: closed", s.id)
	return nil
}

// reap collects the child without blocking. A child that has not exited
// yet is waited for in the background.
func (s *LocalSession) reap(pid int) {
	var ws unix.WaitStatus
	got, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if err == nil && got == pid {
		return
	}
	if err != nil && errors.Is(err, unix.ECHILD) {
		return
	}
	go func() {
		if err := s.cmd.Wait(); err != nil {
			log.Printf("[local] session %s: login program exited: %v", s.id, err)
		}
	}()
}
