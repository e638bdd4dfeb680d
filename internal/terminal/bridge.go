package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// StatusConnectionNotFound is the close code sent for an unknown session id.
const StatusConnectionNotFound websocket.StatusCode = 4000

// BridgeOptions tune one bridge. Zero values pick the package limits.
type BridgeOptions struct {
	RateLimit      rate.Limit
	Burst          int
	MaxMessageSize int
	// OnActivity is called for every message in either direction.
	OnActivity func()
}

func (o BridgeOptions) withDefaults() BridgeOptions {
	if o.RateLimit <= 0 {
		o.RateLimit = MessageRateLimit
	}
	if o.Burst <= 0 {
		o.Burst = MessageRateBurst
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = MaxInputMessageSize
	}
	if o.OnActivity == nil {
		o.OnActivity = func() {}
	}
	return o
}

// clientMessage is a text frame from the browser: either input data or a
// [cols, rows] resize.
type clientMessage struct {
	Data   *string `json:"data"`
	Resize []int   `json:"resize"`
}

// Bridge pumps s to conn and conn to s until either side ends. The first
// pump to stop cancels the other, and Bridge returns once both are done.
// It does not close the session; the caller removes it from the registry.
func Bridge(ctx context.Context, conn *websocket.Conn, s Session, opts BridgeOptions) {
	opts = opts.withDefaults()
	conn.SetReadLimit(MaxReadLimit)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		bridgeOutbound(ctx, conn, s, opts)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		bridgeInbound(ctx, conn, s, opts)
	}()
	wg.Wait()
	log.Printf("[bridge] session %s: bridge finished", s.ID())
}

func bridgeOutbound(ctx context.Context, conn *websocket.Conn, s Session, opts BridgeOptions) {
	out := s.Output()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-out:
			if !ok {
				if cause := s.Err(); cause != nil {
					msg := fmt.Sprintf("\r\n[session closed: %v]\r\n", cause)
					if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
						log.Printf("[bridge] session %s: write close notice: %v", s.ID(), err)
					}
				}
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			var err error
			if c.Binary() {
				err = conn.Write(ctx, websocket.MessageBinary, c.Data)
			} else {
				err = conn.Write(ctx, websocket.MessageText, []byte(c.Text))
			}
			if err != nil {
				return
			}
			opts.OnActivity()
		}
	}
}

func bridgeInbound(ctx context.Context, conn *websocket.Conn, s Session, opts BridgeOptions) {
	limiter := rate.NewLimiter(opts.RateLimit, opts.Burst)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if len(data) > opts.MaxMessageSize {
			log.Printf("[bridge] session %s: dropped %d byte message (limit %d)", s.ID(), len(data), opts.MaxMessageSize)
			continue
		}
		if !limiter.Allow() {
			continue
		}
		opts.OnActivity()

		if typ == websocket.MessageBinary {
			if err := s.SendBinary(data); err != nil && !errors.Is(err, ErrNotConnected) {
				log.Printf("[bridge] session %s: send: %v", s.ID(), err)
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[bridge] session %s: ignoring malformed message", s.ID())
			continue
		}
		switch {
		case msg.Data != nil:
			if err := s.SendText(*msg.Data); err != nil && !errors.Is(err, ErrNotConnected) {
				log.Printf("[bridge] session %s: send: %v", s.ID(), err)
			}
		case len(msg.Resize) == 2:
			cols, rows := ClampSize(msg.Resize[0], msg.Resize[1])
			if err := s.Resize(cols, rows); err != nil && !errors.Is(err, ErrNotConnected) {
				log.Printf("[bridge] session %s: resize: %v", s.ID(), err)
			}
		}
	}
}
