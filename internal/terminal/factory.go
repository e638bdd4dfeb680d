package terminal

import (
	"context"

	"github.com/google/uuid"
)

// DefaultLoginProgram is spawned by local sessions.
const DefaultLoginProgram = "/usr/bin/login"

// New builds an unconnected session for cfg.Kind.
func New(id string, cfg Config, opts Options) (Session, error) {
	switch cfg.Kind {
	case KindSSH:
		return NewSSHSession(id, cfg, opts), nil
	case KindTelnet:
		return NewTelnetSession(id, cfg, opts), nil
	case KindSerial:
		return NewSerialSession(id, cfg, opts), nil
	case KindLocal:
		return NewLocalSession(id, cfg, opts), nil
	}
	return nil, errorf(UnsupportedTransport, "new session", "unsupported connection type %q", cfg.Kind)
}

// Open creates a session with a fresh id and connects it. On failure the
// session is already closed and only the error is returned.
func Open(ctx context.Context, cfg Config, opts Options) (Session, error) {
	s, err := New(uuid.NewString(), cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
