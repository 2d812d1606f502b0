package resp

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrIncomplete signals that buf holds a valid prefix of a frame and the
// caller must read more bytes before retrying
var ErrIncomplete = errors.New("incomplete frame")

const (
	// maxArgs bounds the argument count of one command so a corrupt
	// array header cannot drive a huge allocation
	maxArgs = 1024 * 1024
	// maxBulkLen bounds a single argument (512 MB)
	maxBulkLen = 512 * 1024 * 1024
)

// ProtocolError marks malformed input, as opposed to incomplete input.
// The framing is unrecoverable once one is returned: the session reports
// it to the client and closes
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "Protocol error: " + e.Reason
}

func protoErr(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// ParseCommand consumes exactly one command frame from the front of buf:
// an array of bulk strings, argv[0] being the command name. It returns the
// arguments, the number of bytes consumed, and nil; or ErrIncomplete when
// buf ends mid-frame; or a *ProtocolError for malformed input.
//
// The returned argument slices alias buf. The caller owns buf and must not
// compact or reuse it until the arguments have been consumed or copied
func ParseCommand(buf []byte) ([][]byte, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrIncomplete
	}
	if buf[0] != TypeArray {
		return nil, 0, protoErr("expected '%c', got '%c'", TypeArray, buf[0])
	}

	pos := 1
	line, next, err := readLine(buf, pos)
	if err != nil {
		return nil, 0, err
	}
	pos = next

	count, ok := parseLen(line)
	if !ok || count < 1 {
		return nil, 0, protoErr("invalid multibulk length")
	}
	if count > maxArgs {
		return nil, 0, protoErr("invalid multibulk length")
	}

	// cap the hint: the count is attacker-controlled until the bulk
	// strings actually arrive
	args := make([][]byte, 0, min(count, 64))
	for range count {
		if pos >= len(buf) {
			return nil, 0, ErrIncomplete
		}
		if buf[pos] != TypeBulkString {
			return nil, 0, protoErr("expected '%c', got '%c'", TypeBulkString, buf[pos])
		}

		line, next, err = readLine(buf, pos+1)
		if err != nil {
			return nil, 0, err
		}
		pos = next

		size, ok := parseLen(line)
		if !ok || size < 0 || size > maxBulkLen {
			return nil, 0, protoErr("invalid bulk length")
		}

		end := pos + int(size)
		if end+2 > len(buf) {
			return nil, 0, ErrIncomplete
		}
		if buf[end] != '\r' || buf[end+1] != '\n' {
			return nil, 0, protoErr("bulk string not terminated by CRLF")
		}

		args = append(args, buf[pos:end])
		pos = end + 2
	}

	return args, pos, nil
}

// readLine returns the bytes between pos and the next CRLF, and the offset
// just past it
func readLine(buf []byte, pos int) ([]byte, int, error) {
	i := bytes.Index(buf[pos:], []byte("\r\n"))
	if i < 0 {
		// a length prefix has a bounded textual form; anything longer
		// is garbage, not a frame still in flight
		if len(buf)-pos > 32 {
			return nil, 0, protoErr("too big inline request")
		}
		return nil, 0, ErrIncomplete
	}
	return buf[pos : pos+i], pos + i + 2, nil
}

// parseLen parses a non-negative decimal length prefix.
// A leading '-' is accepted so "-1" surfaces as a negative count for the
// caller to reject with the right message
func parseLen(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}

	neg := b[0] == '-'
	if neg {
		b = b[1:]
		if len(b) == 0 {
			return 0, false
		}
	}

	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
		if n > maxBulkLen*2 {
			return 0, false
		}
	}

	if neg {
		n = -n
	}
	return n, true
}

// EncodeCommand uses a standard Encoder to convert the command to bytes
func EncodeCommand(args ...string) []byte {
	elements := make([]Value, len(args))
	for i, arg := range args {
		elements[i] = MakeBulkString(arg)
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Write(MakeArray(elements)); err != nil {
		return nil
	}
	if err := enc.Flush(); err != nil {
		return nil
	}
	return buf.Bytes()
}
