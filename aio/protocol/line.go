package protocol

import (
	"bytes"
	"fmt"
	"strings"
)

// LineProtocol transfers newline delimited text. A trailing carriage return is
// stripped from decoded lines, an unterminated last line is delivered at the end
// of the stream.
type LineProtocol struct {
	maxLineLength int
}

// NewLineProtocol creates a line protocol that rejects lines longer than maxLineLength
func NewLineProtocol(maxLineLength int) *LineProtocol {
	return &LineProtocol{maxLineLength: maxLineLength}
}

func (p *LineProtocol) Decode(buf []byte, eof bool) (string, int, error) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		if len(buf) > p.maxLineLength {
			return "", 0, fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, p.maxLineLength)
		}
		if eof && len(buf) > 0 {
			return string(bytes.TrimSuffix(buf, []byte{'\r'})), len(buf), nil
		}
		return "", 0, nil
	}

	if i > p.maxLineLength {
		return "", 0, fmt.Errorf("%w: %d > %d bytes", ErrLineTooLong, i, p.maxLineLength)
	}
	return string(bytes.TrimSuffix(buf[:i], []byte{'\r'})), i + 1, nil
}

func (p *LineProtocol) Encode(line string) ([]byte, error) {
	if strings.ContainsRune(line, '\n') {
		return nil, fmt.Errorf("protocol: line contains a newline")
	}
	if len(line) > p.maxLineLength {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrLineTooLong, len(line), p.maxLineLength)
	}
	return append([]byte(line), '\n'), nil
}
