package tail

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var errUnknownEncoding = errors.New("unknown encoding")

// Windows builds of the server write their log in the system ANSI code page.
var encodings = map[string]encoding.Encoding{ //nolint:gochecknoglobals
	"windows-1250": charmap.Windows1250,
	"windows-1251": charmap.Windows1251,
	"windows-1252": charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
}

// LineSplitter turns Data chunks into lines. A line split across chunks is
// held until its newline arrives.
type LineSplitter struct {
	pending []byte
	decoder *encoding.Decoder
}

// NewLineSplitter returns a splitter for the named encoding. An empty name
// or "utf-8" keeps the bytes as they are, replacing invalid sequences.
func NewLineSplitter(encodingName string) (*LineSplitter, error) {
	name := strings.ToLower(strings.TrimSpace(encodingName))
	if name == "" || name == "utf-8" || name == "utf8" {
		return &LineSplitter{}, nil
	}

	enc, found := encodings[name]
	if !found {
		return nil, errors.Wrapf(errUnknownEncoding, "%q", encodingName)
	}

	return &LineSplitter{decoder: enc.NewDecoder()}, nil
}

// Feed returns the complete lines in chunk, without their line endings.
// Empty lines are dropped.
func (s *LineSplitter) Feed(chunk []byte) []string {
	data := append(s.pending, chunk...)
	s.pending = nil

	var lines []string

	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}

		if line := s.decode(data[:idx]); line != "" {
			lines = append(lines, line)
		}

		data = data[idx+1:]
	}

	if len(data) > 0 {
		s.pending = append([]byte(nil), data...)
	}

	return lines
}

// Flush returns the buffered partial line, if any, as a final line. Used
// when the file it came from was replaced or truncated.
func (s *LineSplitter) Flush() []string {
	if len(s.pending) == 0 {
		return nil
	}

	line := s.decode(s.pending)
	s.pending = nil

	if line == "" {
		return nil
	}

	return []string{line}
}

func (s *LineSplitter) decode(raw []byte) string {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	if len(raw) == 0 {
		return ""
	}

	if s.decoder != nil {
		decoded, errDecode := s.decoder.Bytes(raw)
		if errDecode == nil {
			return string(decoded)
		}
	}

	return strings.ToValidUTF8(string(raw), "�")
}
