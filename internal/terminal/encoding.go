package terminal

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const (
	EncodingAuto   = "auto"
	EncodingASCII  = "ascii"
	EncodingUTF8   = "utf-8"
	EncodingGBK    = "gbk"
	EncodingLatin1 = "latin-1"
)

// EncodingDetector turns raw transport bytes into UTF-8 text. Valid UTF-8 is
// passed through; anything else is decoded with a legacy fallback (GBK unless
// configured otherwise). Bytes the fallback cannot map become U+FFFD. Latin-1
// is used only when the fallback decoder itself reports an error, which the
// x/text GBK decoder never does. The heuristic is not an accuracy guarantee:
// short Latin-1 runs can look like GBK.
type EncodingDetector struct {
	fallback     encoding.Encoding
	fallbackName string
}

// NewEncodingDetector returns a detector for the configured encoding. "auto",
// "utf-8" and unknown names keep GBK as the fallback; gb2312 is treated as gbk.
func NewEncodingDetector(name string) *EncodingDetector {
	d := &EncodingDetector{fallback: simplifiedchinese.GBK, fallbackName: EncodingGBK}
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", EncodingAuto, EncodingUTF8, "utf8", EncodingGBK, "gb2312":
		return d
	case EncodingLatin1, "latin1", "iso-8859-1":
		d.fallback, d.fallbackName = charmap.ISO8859_1, EncodingLatin1
		return d
	}
	if enc, err := htmlindex.Get(n); err == nil {
		if canonical, err := htmlindex.Name(enc); err == nil && canonical != EncodingUTF8 {
			d.fallback, d.fallbackName = enc, canonical
		}
	}
	return d
}

// Decode classifies b and returns the UTF-8 text with the encoding name it
// was read as. It never panics on arbitrary input.
func (d *EncodingDetector) Decode(b []byte) (string, string) {
	if len(b) == 0 {
		return "", ""
	}
	if isASCII(b) {
		return string(b), EncodingASCII
	}
	if utf8.Valid(b) {
		return string(b), EncodingUTF8
	}
	if out, err := d.fallback.NewDecoder().Bytes(b); err == nil {
		return string(out), d.fallbackName
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�"), EncodingUTF8
	}
	return string(out), EncodingLatin1
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// streamDecoder wraps a detector for one session's read loop. A multi-byte
// UTF-8 sequence split across two reads is held back until the rest arrives,
// so a boundary split is not misread as legacy text.
type streamDecoder struct {
	det     *EncodingDetector
	pending []byte
}

func newStreamDecoder(name string) *streamDecoder {
	return &streamDecoder{det: NewEncodingDetector(name)}
}

func (s *streamDecoder) Decode(b []byte) (string, string) {
	if len(s.pending) > 0 {
		b = append(s.pending, b...)
		s.pending = nil
	}
	if n := incompleteTail(b); n > 0 {
		s.pending = append([]byte(nil), b[len(b)-n:]...)
		b = b[:len(b)-n]
	}
	return s.det.Decode(b)
}

// Flush returns whatever is still held back.
func (s *streamDecoder) Flush() (string, string) {
	b := s.pending
	s.pending = nil
	return s.det.Decode(b)
}

// incompleteTail returns the length of a truncated UTF-8 sequence at the end
// of b, or 0. Only a prefix that is itself valid UTF-8 is considered.
func incompleteTail(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return 0
		}
		if utf8.RuneStart(c) {
			tail := b[len(b)-i:]
			if utf8.FullRune(tail) {
				return 0
			}
			if !utf8.Valid(b[:len(b)-i]) {
				return 0
			}
			return i
		}
	}
	return 0
}
