package terminal

import (
	"regexp"
	"sync"
)

// LoginState is the position of a LoginAutomaton.
type LoginState int

const (
	LoginIdle LoginState = iota
	LoginWaitingUsername
	LoginWaitingPassword
	LoginDone
	LoginFailed
)

func (s LoginState) String() string {
	switch s {
	case LoginIdle:
		return "idle"
	case LoginWaitingUsername:
		return "waitingUsername"
	case LoginWaitingPassword:
		return "waitingPassword"
	case LoginDone:
		return "done"
	case LoginFailed:
		return "failed"
	}
	return "unknown"
}

// LoginPolicy is the prompt vocabulary a LoginAutomaton matches against.
type LoginPolicy struct {
	UsernamePrompts []*regexp.Regexp
	PasswordPrompts []*regexp.Regexp
	FailurePatterns []*regexp.Regexp
	LineEnding      string
	// BufferLimit caps the rolling output buffer, in runes.
	BufferLimit int
}

func mustCompileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

var (
	telnetUsernamePrompts = mustCompileAll(
		`(?im)(User name|username|login):?\s*$`,
		`(?im)>>?\s*User\s+name:?\s*$`,
		`(?im)Please\s+enter\s+(username|login):?\s*$`,
	)
	telnetPasswordPrompts = mustCompileAll(
		`(?im)password:?\s*$`,
		`(?im)>>?\s*User\s+password:?\s*$`,
		`(?im)Please\s+enter\s+password:?\s*$`,
	)
	loginFailurePatterns = mustCompileAll(
		`(?im)Username or password invalid|Login incorrect`,
		`(?im)has been locked|Account locked`,
		`(?im)Reenter times have reached the upper limit`,
		`(?im)Authentication failed`,
		`(?im)Invalid (username|password)`,
		`(?im)Login failed`,
	)
	connectionRefusedPatterns = mustCompileAll(
		`(?im)telnet:.*: (Connection refused|No route to host|Connection timed out)`,
		`(?im)connection refused by remote host`,
	)
)

// TelnetLoginPolicy matches the prompts of network gear and unix telnetd.
func TelnetLoginPolicy() LoginPolicy {
	return LoginPolicy{
		UsernamePrompts: telnetUsernamePrompts,
		PasswordPrompts: telnetPasswordPrompts,
		FailurePatterns: loginFailurePatterns,
		LineEnding:      "\r\n",
		BufferLimit:     4096,
	}
}

// LocalLoginPolicy matches login(1) on a local pty. It has no failure
// patterns: if the prompts never show up automation stays inactive.
func LocalLoginPolicy() LoginPolicy {
	return LoginPolicy{
		UsernamePrompts: mustCompileAll(`(?i)(login|username|user):`),
		PasswordPrompts: mustCompileAll(`(?i)(password|passwd):`),
		LineEnding:      "\n",
		BufferLimit:     500,
	}
}

// LoginAutomaton types credentials when prompts appear in session output.
// It knows nothing about the transport: Feed returns what to send and the
// caller writes it.
type LoginAutomaton struct {
	policy   LoginPolicy
	username string
	password string

	mu      sync.Mutex
	state   LoginState
	buf     []rune
	failure string
}

func NewLoginAutomaton(policy LoginPolicy, username, password string) *LoginAutomaton {
	if policy.BufferLimit <= 0 {
		policy.BufferLimit = 4096
	}
	return &LoginAutomaton{policy: policy, username: username, password: password}
}

// Start arms the automaton. Without a username there is nothing to do and it
// goes straight to done.
func (a *LoginAutomaton) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != LoginIdle {
		return
	}
	if a.username == "" {
		a.state = LoginDone
		return
	}
	a.state = LoginWaitingUsername
}

// Feed appends output text and returns the input to type, if any. The
// buffer is cleared after every send so one prompt triggers one answer.
func (a *LoginAutomaton) Feed(text string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == LoginIdle || a.state == LoginFailed {
		return ""
	}
	a.buf = append(a.buf, []rune(text)...)
	if over := len(a.buf) - a.policy.BufferLimit; over > 0 {
		a.buf = a.buf[over:]
	}
	buffered := string(a.buf)

	switch a.state {
	case LoginWaitingUsername:
		if matchAny(a.policy.UsernamePrompts, buffered) != "" {
			a.state = LoginWaitingPassword
			a.buf = a.buf[:0]
			return a.username + a.policy.LineEnding
		}
	case LoginWaitingPassword:
		if m := matchAny(a.policy.FailurePatterns, buffered); m != "" {
			a.fail(m)
			return ""
		}
		if matchAny(a.policy.PasswordPrompts, buffered) != "" {
			a.state = LoginDone
			a.buf = a.buf[:0]
			return a.password + a.policy.LineEnding
		}
	case LoginDone:
		if m := matchAny(a.policy.FailurePatterns, buffered); m != "" {
			a.fail(m)
		}
	}
	return ""
}

func (a *LoginAutomaton) fail(match string) {
	a.state = LoginFailed
	a.failure = match
	a.buf = nil
}

// Abort stops automation without marking failure. Used on prompt timeouts.
func (a *LoginAutomaton) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != LoginFailed {
		a.state = LoginDone
	}
	a.buf = nil
}

func (a *LoginAutomaton) State() LoginState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Failure returns the text that matched a failure pattern.
func (a *LoginAutomaton) Failure() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failure
}

func matchAny(patterns []*regexp.Regexp, s string) string {
	for _, re := range patterns {
		if m := re.FindString(s); m != "" {
			return m
		}
	}
	return ""
}
