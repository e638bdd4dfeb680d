package logging

import (
	"log"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitTailClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "webxterm.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(Close)

	for i := 0; i < 5; i++ {
		log.Printf("[test] line %d", i)
	}

	tail, err := ReadTail(2)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	lines := strings.Split(tail, "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "line 3") || !strings.HasSuffix(lines[1], "line 4") {
		t.Errorf("unexpected tail %q", tail)
	}

	if err := Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	tail, _ = ReadTail(10)
	if tail != "" {
		t.Errorf("expected empty log after Clear, got %q", tail)
	}

	log.Printf("[test] after clear")
	tail, _ = ReadTail(10)
	if !strings.Contains(tail, "after clear") {
		t.Errorf("writes after Clear missing: %q", tail)
	}
}
