package tcp

import (
	"github.com/turtacn/certforge/internal/domain/models"
	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/protocol"
)

// State is the protocol state of a Session. States only advance.
type State int

const (
	StateReadingName State = iota
	StateAwaitingCredential
	StateWriting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReadingName:
		return "reading_name"
	case StateAwaitingCredential:
		return "awaiting_credential"
	case StateWriting:
		return "writing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// errWouldBlock is returned by a socketWriter when the socket buffer is full.
var errWouldBlock = errors.New(errors.CodeTransport, "write would block")

// socketWriter writes p to the peer and reports how many bytes were accepted.
type socketWriter func(p []byte) (int, error)

// Session is the per-connection protocol state. It is owned by the reactor goroutine.
type Session struct {
	id uint64
	fd int

	state State

	readBuf []byte
	filled  int

	name    []byte
	maxName int

	outbound        [][]byte
	written         int
	closeAfterFlush bool
	wantWrite       bool
}

func newSession(id uint64, fd, readBufferSize, maxName int) *Session {
	return &Session{
		id:      id,
		fd:      fd,
		state:   StateReadingName,
		readBuf: make([]byte, readBufferSize),
		maxName: maxName,
	}
}

// ID returns the connection identifier.
func (s *Session) ID() uint64 { return s.id }

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// readSpace returns the free tail of the read buffer.
func (s *Session) readSpace() []byte {
	return s.readBuf[s.filled:]
}

// consume accounts for n bytes just read into readSpace and parses them. complete is true
// when the terminator was seen in this pass; err is a protocol error.
func (s *Session) consume(n int) (name string, complete bool, err error) {
	s.filled += n

	consumed := 0
	defer func() { s.compact(consumed) }()

	for consumed < s.filled {
		if s.state != StateReadingName {
			// strictly request then response; anything further is ignored
			consumed = s.filled
			return "", false, nil
		}

		b := s.readBuf[consumed]
		consumed++

		if b == constants.NameTerminator {
			if len(s.name) == 0 {
				return "", false, errors.ErrEmptyName
			}
			s.state = StateAwaitingCredential
			consumed = s.filled
			return string(s.name), true, nil
		}
		if len(s.name) >= s.maxName {
			return "", false, errors.ErrNameTooLong
		}
		s.name = append(s.name, b)
	}
	return "", false, nil
}

func (s *Session) compact(consumed int) {
	if consumed == 0 {
		return
	}
	s.filled = copy(s.readBuf, s.readBuf[consumed:s.filled])
}

// respond queues the two response frames and marks the session to close once they are
// flushed. A nil bundle queues the zero-length failure pair. Only the first call has effect.
func (s *Session) respond(bundle *models.CredentialBundle) bool {
	if s.state == StateWriting || s.state == StateClosed {
		return false
	}
	var key, cert []byte
	if bundle != nil {
		key, cert = bundle.PrivateKeyPEM, bundle.CertificatePEM
	}
	s.outbound = append(s.outbound, protocol.EncodeFrame(key), protocol.EncodeFrame(cert))
	s.state = StateWriting
	s.closeAfterFlush = true
	return true
}

// flush writes queued frames in order until the queue is empty or the socket would block.
// A partially written frame stays at the front with its offset remembered.
func (s *Session) flush(write socketWriter) (drained bool, err error) {
	for len(s.outbound) > 0 {
		front := s.outbound[0]
		n, err := write(front[s.written:])
		if n > 0 {
			s.written += n
		}
		if err == errWouldBlock || (n == 0 && err == nil) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if s.written < len(front) {
			continue
		}
		s.outbound[0] = nil
		s.outbound = s.outbound[1:]
		s.written = 0
	}
	return true, nil
}

// pending returns the number of unsent bytes.
func (s *Session) pending() int {
	total := 0
	for _, frame := range s.outbound {
		total += len(frame)
	}
	return total - s.written
}
