package server

import (
	"errors"
	"io"
	"net"

	"github.com/oklog/ulid/v2"
	"github.com/umbradb/umbra/internal/metrics"
	"github.com/umbradb/umbra/internal/resp"
	"go.uber.org/zap"
)

// Session owns one client connection: the transport, the reply encoder and
// a single reusable receive buffer. Sessions share nothing but the store
type Session struct {
	conn net.Conn
	enc  *resp.Encoder
	buf  []byte // len = pending bytes, cap = current arena size
	log  *zap.Logger
}

// NewSession wraps an accepted connection. bufSize is the initial receive
// buffer capacity; the buffer grows only when a single frame exceeds it
func NewSession(conn net.Conn, bufSize int, log *zap.Logger) *Session {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &Session{
		conn: conn,
		enc:  resp.NewEncoder(conn),
		buf:  make([]byte, 0, bufSize),
		log: log.With(
			zap.String("session", ulid.Make().String()),
			zap.String("addr", conn.RemoteAddr().String()),
		),
	}
}

// Serve runs the session loop until the peer disconnects or a protocol
// error makes the stream unrecoverable: read into the buffer's free tail,
// execute every complete frame, repeat. The store lock is only ever taken
// inside Execute, never across a transport read or write
func (s *Session) Serve(engine *Engine) {
	defer s.Close()

	if s.log.Core().Enabled(zap.DebugLevel) {
		s.log.Debug("client connected")
	}

	for {
		if len(s.buf) == cap(s.buf) {
			// the pending frame is bigger than the arena; a full
			// buffer means grow, never EOF
			grown := make([]byte, len(s.buf), cap(s.buf)*2)
			copy(grown, s.buf)
			s.buf = grown
		}

		n, err := s.conn.Read(s.buf[len(s.buf):cap(s.buf)])
		s.buf = s.buf[:len(s.buf)+n]

		if n > 0 {
			if !s.drain(engine) {
				return
			}
		}

		if err != nil {
			if err != io.EOF {
				s.log.Warn("read failed", zap.Error(err))
			}
			return
		}
	}
}

// drain executes every complete frame currently buffered, compacting the
// consumed prefix after each one, then flushes the batched replies.
// Returns false when the session must close
func (s *Session) drain(engine *Engine) bool {
	for {
		args, consumed, err := resp.ParseCommand(s.buf)
		if errors.Is(err, resp.ErrIncomplete) {
			break
		}
		if err != nil {
			metrics.ProtocolErrorsTotal.Inc()
			s.log.Warn("malformed frame", zap.Error(err))
			s.enc.Write(resp.MakeError("ERR " + err.Error())) //nolint:errcheck
			s.enc.Flush()                                     //nolint:errcheck
			return false
		}

		reply := engine.Execute(string(args[0]), args[1:])
		werr := s.enc.Write(reply)

		// discard the consumed frame, keep the start of the next one.
		// args alias the buffer and are dead past this point
		rem := copy(s.buf, s.buf[consumed:])
		s.buf = s.buf[:rem]

		if werr != nil {
			s.log.Warn("write failed", zap.Error(werr))
			return false
		}
	}

	if err := s.enc.Flush(); err != nil {
		s.log.Warn("flush failed", zap.Error(err))
		return false
	}
	return true
}

// Close terminates the underlying network connection
func (s *Session) Close() {
	s.conn.Close() //nolint:errcheck
	if s.log.Core().Enabled(zap.DebugLevel) {
		s.log.Debug("client disconnected")
	}
}
