package handlers

import (
	"github.com/webxterm/webxterm/internal/sshkeys"
	"github.com/webxterm/webxterm/internal/terminal"
)

// Gateway carries the shared state the HTTP handlers work on. main builds
// one and mounts its methods on the router.
type Gateway struct {
	Registry *terminal.Registry
	Keyring  *sshkeys.Keyring
	Options  terminal.Options
	// DefaultEncoding applies to connect requests that name none.
	DefaultEncoding string
	Bridge          terminal.BridgeOptions
}

func NewGateway(reg *terminal.Registry, kr *sshkeys.Keyring, opts terminal.Options) *Gateway {
	return &Gateway{
		Registry:        reg,
		Keyring:         kr,
		Options:         opts,
		DefaultEncoding: terminal.EncodingAuto,
	}
}
