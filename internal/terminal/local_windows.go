//go:build windows

package terminal

import (
	"context"
)

// LocalSession is unavailable without unix pseudo-terminals.
type LocalSession struct {
	lifecycle
}

func NewLocalSession(id string, cfg Config, opts Options) *LocalSession {
	opts = opts.withDefaults()
	s := &LocalSession{}
	s.init(id, KindLocal, cfg.Encoding, opts.RelayCapacity)
	return s
}

func (s *LocalSession) Connect(ctx context.Context) error {
	err := errorf(UnsupportedTransport, "local", "local terminals need a unix pseudo-terminal")
	s.setCause(err)
	s.Close()
	return err
}

func (s *LocalSession) SendText(string) error       { return ErrNotConnected }
func (s *LocalSession) SendBinary([]byte) error     { return ErrNotConnected }
func (s *LocalSession) Resize(cols, rows int) error { return ErrNotConnected }

func (s *LocalSession) Close() error {
	if !s.beginClose() {
		return nil
	}
	s.finishClose()
	return nil
}
