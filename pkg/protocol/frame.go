// Package protocol implements the certforge wire format.
//
// A request is an ASCII name followed by a single NUL byte. A response is two frames,
// each a 4-byte big-endian length followed by that many payload bytes: the private key
// first, then the certificate. Two zero-length frames signal failure.
package protocol

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
)

// MaxFrameSize bounds the payload length a reader will accept.
const MaxFrameSize = 16 << 20

// EncodeFrame returns payload prefixed with its big-endian length.
func EncodeFrame(payload []byte) []byte {
	frame := make([]byte, constants.FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[constants.FrameHeaderSize:], payload)
	return frame
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [constants.FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errors.Wrap(err, errors.CodeTransport, "read frame header")
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, errors.New(errors.CodeProtocol, "frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, errors.CodeTransport, "read frame payload")
	}
	return payload, nil
}

// EncodeRequest returns name followed by the terminator. Names containing NUL are rejected.
func EncodeRequest(name string) ([]byte, error) {
	if bytes.IndexByte([]byte(name), constants.NameTerminator) >= 0 {
		return nil, errors.New(errors.CodeInvalidArgument, "name must not contain NUL")
	}
	return append([]byte(name), constants.NameTerminator), nil
}
