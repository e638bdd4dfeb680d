// Package terminal connects browser terminals to SSH, Telnet, serial and
// local pseudo-terminal sessions.
//
// Every transport implements [Session]. An adapter owns one read goroutine,
// the only producer for its [Relay]; writes run on the caller's goroutine
// under a per-session mutex. Output is decoded to UTF-8 by an
// [EncodingDetector] before it reaches the relay.
//
// # Components
//
//   - [SSHSession]: PTY shell over golang.org/x/crypto/ssh.
//   - [TelnetSession]: raw Telnet via github.com/ziutek/telnet with login automation.
//   - [SerialSession]: 8N1 serial device via go.bug.st/serial.
//   - [LocalSession]: /usr/bin/login on a pty from github.com/creack/pty.
//   - [LoginAutomaton]: prompt-driven credential typing shared by Telnet and local.
//   - [Registry]: id to session table with idle eviction.
//   - [Bridge]: WebSocket pump pair with input rate limiting.
//
// # Lifecycle
//
// Sessions move connecting → connected → closing → closed and never back.
// Close is idempotent. Sends outside the connected state fail with
// [ErrNotConnected]. When a session ends on its own, [Session.Err] holds the
// categorized cause (see [ErrorKind]).
//
// # Log Prefixes
//
// Adapters log at [ssh], [telnet], [serial] and [local]. The registry logs at
// [registry] and the bridge at [bridge].
package terminal
