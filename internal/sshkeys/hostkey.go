package sshkeys

import (
	"log"
	"net"

	"github.com/webxterm/webxterm/internal/logutil"
	"golang.org/x/crypto/ssh"
)

// LogHostKey returns a callback that accepts any host key and logs its
// fingerprint against sessionID.
func LogHostKey(sessionID string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		log.Printf("[sshkeys] session %s: host %s presented %s key %s",
			sessionID, logutil.SanitizeForLog(hostname), key.Type(), ssh.FingerprintSHA256(key))
		return nil
	}
}
