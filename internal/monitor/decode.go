package monitor

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
)

// Encoding names accepted by alert.encoding.
const (
	EncodingUTF8     = "utf-8"
	EncodingShiftJIS = "shift_jis"
	EncodingUTF16LE  = "utf-16le"
)

// lineCodec splits raw bytes into lines and decodes them to UTF-8.
type lineCodec struct {
	name string
	dec  *encoding.Decoder // nil for UTF-8
	wide bool              // two-byte code units
}

func newLineCodec(name string) (lineCodec, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "", "utf-8", "utf8":
		return lineCodec{name: EncodingUTF8}, nil
	case "shift-jis", "sjis", "cp932":
		return lineCodec{name: EncodingShiftJIS, dec: japanese.ShiftJIS.NewDecoder()}, nil
	case "utf-16le", "utf-16":
		return lineCodec{
			name: EncodingUTF16LE,
			dec:  unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder(),
			wide: true,
		}, nil
	default:
		return lineCodec{}, fmt.Errorf("monitor: unsupported encoding %q", name)
	}
}

// split returns the complete lines in buf (without terminators) and the
// number of bytes they occupy. The remainder is an unfinished line.
func (c lineCodec) split(buf []byte) ([][]byte, int) {
	var (
		lines    [][]byte
		consumed int
	)
	if !c.wide {
		for {
			i := bytes.IndexByte(buf[consumed:], '\n')
			if i < 0 {
				return lines, consumed
			}
			lines = append(lines, buf[consumed:consumed+i])
			consumed += i + 1
		}
	}
	for i := consumed; i+1 < len(buf); i += 2 {
		if buf[i] == '\n' && buf[i+1] == 0 {
			lines = append(lines, buf[consumed:i])
			consumed = i + 2
		}
	}
	return lines, consumed
}

// decode converts one raw line to trimmed UTF-8 text.
func (c lineCodec) decode(raw []byte) (string, error) {
	text := raw
	if c.dec != nil {
		out, err := c.dec.Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("monitor: decode %s: %w", c.name, err)
		}
		text = out
	}
	s := strings.TrimPrefix(string(text), "\ufeff")
	return strings.TrimSpace(s), nil
}
