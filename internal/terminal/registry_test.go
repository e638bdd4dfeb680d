package terminal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry()
	s := newFakeSession("a")
	s.Connect(context.Background())

	if err := r.Add("a", s); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add("a", s); err == nil {
		t.Error("expected duplicate Add to fail")
	}

	got, ok := r.Get("a")
	if !ok || got != Session(s) {
		t.Fatalf("Get returned %v, %v", got, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get found an unregistered id")
	}

	if !r.Remove("a") {
		t.Fatal("first Remove should succeed")
	}
	if s.State() != StateClosed {
		t.Errorf("Remove should close the session, state=%s", s.State())
	}
	if r.Remove("a") {
		t.Error("second Remove should return false")
	}
	if s.closeCount() != 1 {
		t.Errorf("session closed %d times", s.closeCount())
	}

	st := r.Stats()
	if st.Active != 0 || st.TotalEverCreated != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestRegistry_ConcurrentRemoveClosesOnce(t *testing.T) {
	r := NewRegistry()
	s := newFakeSession("x")
	s.Connect(context.Background())
	r.Add("x", s)

	var wg sync.WaitGroup
	var mu sync.Mutex
	removed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Remove("x") {
				mu.Lock()
				removed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if removed != 1 {
		t.Errorf("expected exactly one successful Remove, got %d", removed)
	}
	if s.closeCount() != 1 {
		t.Errorf("session closed %d times", s.closeCount())
	}
}

func TestRegistry_EvictIdle(t *testing.T) {
	r := NewRegistry()
	idle := newFakeSession("idle")
	fresh := newFakeSession("fresh")
	dead := newFakeSession("dead")
	for _, s := range []*fakeSession{idle, fresh, dead} {
		s.Connect(context.Background())
		r.Add(s.ID(), s)
	}
	dead.fail(errors.New("gone"))

	r.mu.Lock()
	r.sessions["idle"].lastActivity = time.Now().Add(-2 * time.Hour)
	r.mu.Unlock()

	if n := r.EvictIdle(time.Hour); n != 2 {
		t.Errorf("expected 2 evictions, got %d", n)
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Error("fresh session was evicted")
	}
	if idle.State() != StateClosed {
		t.Error("idle session not closed")
	}
	if st := r.Stats(); st.Active != 1 || st.TotalEverCreated != 3 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestRegistry_ListAndTouch(t *testing.T) {
	r := NewRegistry()
	a := newFakeSession("a")
	b := newFakeSession("b")
	r.Add("a", a)
	time.Sleep(2 * time.Millisecond)
	r.Add("b", b)

	list := r.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[0].State != "connecting" || list[0].Kind != KindSSH {
		t.Errorf("unexpected info %+v", list[0])
	}

	before := list[0].LastActivity
	time.Sleep(2 * time.Millisecond)
	r.Touch("a")
	if after := r.List()[0].LastActivity; !after.After(before) {
		t.Error("Touch did not refresh last activity")
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a := newFakeSession("a")
	b := newFakeSession("b")
	r.Add("a", a)
	r.Add("b", b)
	r.CloseAll()
	if a.State() != StateClosed || b.State() != StateClosed {
		t.Error("CloseAll left sessions open")
	}
	if r.Stats().Active != 0 {
		t.Error("CloseAll left entries behind")
	}
}

func TestSession_ClosedSendsFailFast(t *testing.T) {
	s := newFakeSession("f")
	if err := s.SendText("early"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send before connect: %v", err)
	}
	s.Connect(context.Background())
	if err := s.SendText("ok"); err != nil {
		t.Fatalf("send while connected: %v", err)
	}
	s.Close()
	if err := s.SendText("late"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send after close: %v", err)
	}
	if err := s.Resize(80, 24); !errors.Is(err, ErrNotConnected) {
		t.Errorf("resize after close: %v", err)
	}
	if s.push("dropped") {
		t.Error("output after close should be discarded")
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	s := newFakeSession("c")
	s.Connect(context.Background())
	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i, err)
		}
	}
	if s.closeCount() != 1 {
		t.Errorf("teardown ran %d times", s.closeCount())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed")
	}
	if _, ok := <-s.Output(); ok {
		t.Error("output channel still open")
	}
	if s.advance(StateConnected) {
		t.Error("state moved backwards")
	}
}
