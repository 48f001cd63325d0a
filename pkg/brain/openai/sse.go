package openai

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// sseReader yields the data payload of each server-sent event. Event names
// are ignored; the chat-completions stream carries everything in data lines.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReader(r)}
}

// Next returns the next event's data payload, with multi-line data joined by
// newlines. It returns io.EOF once the underlying stream ends.
func (s *sseReader) Next() ([]byte, error) {
	var data [][]byte

	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) == 0 {
				continue
			}
			return bytes.Join(data, []byte("\n")), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		data = append(data, []byte(strings.TrimPrefix(value, " ")))
	}
}
