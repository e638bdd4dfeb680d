package terminal

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSession is an in-memory Session. Input lands in sent; output is
// produced with push.
type fakeSession struct {
	lifecycle

	mu      sync.Mutex
	sent    []string
	resizes [][2]int
	closes  int
}

func newFakeSession(id string) *fakeSession {
	s := &fakeSession{}
	s.init(id, KindSSH, EncodingAuto, 16)
	return s
}

func (s *fakeSession) Connect(ctx context.Context) error {
	s.advance(StateConnected)
	return nil
}

func (s *fakeSession) push(text string) bool { return s.emit(text) }

func (s *fakeSession) SendText(text string) error {
	if !s.isConnected() {
		return ErrNotConnected
	}
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) SendBinary(b []byte) error { return s.SendText(string(b)) }

func (s *fakeSession) Resize(cols, rows int) error {
	if !s.isConnected() {
		return ErrNotConnected
	}
	s.mu.Lock()
	s.resizes = append(s.resizes, [2]int{cols, rows})
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Close() error {
	if !s.beginClose() {
		return nil
	}
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.finishClose()
	return nil
}

// fail ends the session the way a transport error would.
func (s *fakeSession) fail(err error) {
	s.setCause(err)
	s.Close()
}

func (s *fakeSession) sentInput() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// waitFor polls cond until it holds or timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// collectOutput drains s.Output() until it contains want or timeout passes.
func collectOutput(t *testing.T, s Session, want string, timeout time.Duration) string {
	t.Helper()
	deadline := time.After(timeout)
	var got string
	for {
		select {
		case c, ok := <-s.Output():
			if !ok {
				t.Fatalf("output closed before %q appeared, got: %q", want, got)
			}
			got += c.Text
			if strings.Contains(got, want) {
				return got
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q, got: %q", want, got)
		}
	}
}
