package recovery

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// bomReader drops a leading UTF-8 byte order mark. Windows exporters add it
// even to files that are otherwise single-byte encoded, and it would end up
// glued to the first column name.
func bomReader(r io.Reader) *bufio.Reader {
	br := bufio.NewReaderSize(r, 64*1024)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	return br
}

// LoadFrame reads r line by line and keeps, for each line, the text before the
// first outer delimiter. Lines whose payload is empty or whitespace-only are
// discarded. With outer set to NoOuterFraming the whole line is the payload.
//
// Line endings may be "\n" or "\r\n". A read error is returned as *IOError, a
// decoding error as *EncodingError.
func LoadFrame(r io.Reader, codec Codec, outer rune) (RawFrame, error) {
	frame := RawFrame{
		Encoding:       codec.Name(),
		OuterDelimiter: outer,
	}
	decode := codec.decoder()
	br := bomReader(r)

	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			frame.TotalLines++
			raw = bytes.TrimSuffix(raw, []byte{'\n'})
			raw = bytes.TrimSuffix(raw, []byte{'\r'})

			text, decErr := decode(raw)
			if decErr != nil {
				return frame, &EncodingError{Encoding: codec.Name(), Line: frame.TotalLines, Err: decErr}
			}

			payload := outerPayload(text, outer)
			if strings.TrimSpace(payload) != "" {
				frame.Lines = append(frame.Lines, payload)
				frame.Origins = append(frame.Origins, frame.TotalLines)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return frame, &IOError{Op: "read", Err: err}
		}
	}

	return frame, nil
}

// outerPayload returns the first outer field of a line.
func outerPayload(line string, outer rune) string {
	if outer == NoOuterFraming {
		return line
	}
	if i := strings.IndexRune(line, outer); i >= 0 {
		return line[:i]
	}
	return line
}

// Reassemble joins the frame payloads with newlines, in order.
func Reassemble(frame RawFrame) ReassembledStream {
	return ReassembledStream(strings.Join(frame.Lines, "\n"))
}

// Lines splits the stream back into its lines. An empty stream has no lines.
func (s ReassembledStream) Lines() []string {
	if s == "" {
		return nil
	}
	return strings.Split(string(s), "\n")
}
