package terminal

import (
	"net"
)

const (
	tnIAC  = 255
	tnDont = 254
	tnDo   = 253
	tnWont = 252
	tnWill = 251
	tnSB   = 250
	tnSE   = 240

	tnOptTTYPE = 24
	tnOptNAWS  = 31

	tnTTYPEIs   = 0
	tnTTYPESend = 1

	// telnetDefaultCols and telnetDefaultRows are reported through NAWS when
	// the connect request names no size.
	telnetDefaultCols = 120
	telnetDefaultRows = 26

	// tnMaxSubneg bounds a buffered subnegotiation payload.
	tnMaxSubneg = 512
)

const (
	tnStateData = iota
	tnStateIAC
	tnStateVerb
	tnStateSB
	tnStateSBIAC
)

// telnetNegotiator sits between the socket and the telnet.Conn. It answers
// window size (NAWS) and terminal type (TTYPE) negotiation with the
// configured values and drops commands the client has no use for. Data,
// escaped IAC pairs and the remaining option verbs pass through unchanged.
//
// Only the reading goroutine calls Read. Replies are single Write calls, so
// they never interleave with user input on the socket.
type telnetNegotiator struct {
	net.Conn

	termType   string
	cols, rows int

	state int
	verb  byte
	sb    []byte
	out   []byte
	rbuf  []byte

	naws  bool
	ttype bool
}

func newTelnetNegotiator(conn net.Conn, termType string, cols, rows int) *telnetNegotiator {
	if termType == "" {
		termType = "xterm-256color"
	}
	if cols <= 0 {
		cols = telnetDefaultCols
	}
	if rows <= 0 {
		rows = telnetDefaultRows
	}
	cols, rows = ClampSize(cols, rows)
	return &telnetNegotiator{
		Conn:     conn,
		termType: termType,
		cols:     cols,
		rows:     rows,
		rbuf:     make([]byte, telnetReadBuffer),
	}
}

func (c *telnetNegotiator) Read(p []byte) (int, error) {
	for len(c.out) == 0 {
		n, err := c.Conn.Read(c.rbuf)
		if n > 0 {
			if werr := c.filter(c.rbuf[:n]); werr != nil {
				return 0, werr
			}
		}
		if err != nil {
			if len(c.out) > 0 {
				break
			}
			return 0, err
		}
	}
	n := copy(p, c.out)
	c.out = c.out[n:]
	if len(c.out) == 0 {
		c.out = nil
	}
	return n, nil
}

func (c *telnetNegotiator) filter(b []byte) error {
	for _, x := range b {
		switch c.state {
		case tnStateData:
			if x == tnIAC {
				c.state = tnStateIAC
				continue
			}
			c.out = append(c.out, x)
		case tnStateIAC:
			switch {
			case x == tnIAC:
				c.out = append(c.out, tnIAC, tnIAC)
				c.state = tnStateData
			case x >= tnWill && x <= tnDont:
				c.verb, c.state = x, tnStateVerb
			case x == tnSB:
				c.sb, c.state = c.sb[:0], tnStateSB
			default:
				// GA, NOP and friends carry nothing for a raw terminal.
				c.state = tnStateData
			}
		case tnStateVerb:
			c.state = tnStateData
			if x == tnOptNAWS || x == tnOptTTYPE {
				if err := c.negotiate(c.verb, x); err != nil {
					return err
				}
				continue
			}
			c.out = append(c.out, tnIAC, c.verb, x)
		case tnStateSB:
			if x == tnIAC {
				c.state = tnStateSBIAC
				continue
			}
			if len(c.sb) < tnMaxSubneg {
				c.sb = append(c.sb, x)
			}
		case tnStateSBIAC:
			if x == tnSE {
				c.state = tnStateData
				if err := c.subnegotiate(c.sb); err != nil {
					return err
				}
				continue
			}
			if len(c.sb) < tnMaxSubneg {
				c.sb = append(c.sb, x)
			}
			c.state = tnStateSB
		}
	}
	return nil
}

func (c *telnetNegotiator) negotiate(verb, opt byte) error {
	enabled := &c.naws
	if opt == tnOptTTYPE {
		enabled = &c.ttype
	}
	switch verb {
	case tnDo:
		if *enabled {
			return nil
		}
		*enabled = true
		reply := []byte{tnIAC, tnWill, opt}
		if opt == tnOptNAWS {
			reply = append(reply, c.windowSize()...)
		}
		return c.send(reply)
	case tnDont:
		if !*enabled {
			return nil
		}
		*enabled = false
		return c.send([]byte{tnIAC, tnWont, opt})
	case tnWill:
		return c.send([]byte{tnIAC, tnDont, opt})
	}
	return nil
}

func (c *telnetNegotiator) subnegotiate(sb []byte) error {
	if len(sb) >= 2 && sb[0] == tnOptTTYPE && sb[1] == tnTTYPESend && c.ttype {
		reply := []byte{tnIAC, tnSB, tnOptTTYPE, tnTTYPEIs}
		reply = append(reply, c.termType...)
		reply = append(reply, tnIAC, tnSE)
		return c.send(reply)
	}
	return nil
}

// windowSize encodes the NAWS subnegotiation. Size bytes equal to IAC are
// doubled.
func (c *telnetNegotiator) windowSize() []byte {
	b := []byte{tnIAC, tnSB, tnOptNAWS}
	for _, v := range []int{c.cols, c.rows} {
		for _, x := range []byte{byte(v >> 8), byte(v)} {
			b = append(b, x)
			if x == tnIAC {
				b = append(b, tnIAC)
			}
		}
	}
	return append(b, tnIAC, tnSE)
}

func (c *telnetNegotiator) send(b []byte) error {
	_, err := c.Conn.Write(b)
	return err
}
