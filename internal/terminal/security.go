package terminal

// Limits applied to client traffic on the WebSocket bridge.
const (
	// MaxInputMessageSize is the largest client message forwarded to a
	// session. Bigger messages are dropped.
	MaxInputMessageSize = 64 * 1024 // 64 KB
	// MaxReadLimit is the WebSocket read limit; frames above it end the
	// connection rather than being dropped.
	MaxReadLimit = 1024 * 1024

	MaxTermCols = 500
	MaxTermRows = 200

	// MessageRateLimit is the sustained number of client messages per second.
	MessageRateLimit = 200
	// MessageRateBurst allows short bursts such as pastes.
	MessageRateBurst = 200
)

// ClampSize bounds a terminal size to 1..MaxTermCols by 1..MaxTermRows.
func ClampSize(cols, rows int) (int, int) {
	return clamp(cols, 1, MaxTermCols), clamp(rows, 1, MaxTermRows)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
