package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/certforge/pkg/errors"
)

func TestEncodeFrame(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 3, 'a', 'b', 'c'}, EncodeFrame([]byte("abc")))
	assert.Equal(t, []byte{0, 0, 0, 0}, EncodeFrame(nil))
}

func TestReadFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeFrame([]byte("key")))
	buf.Write(EncodeFrame(nil))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("key"), first)

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, second)

	_, err = ReadFrame(&buf)
	assert.True(t, errors.IsCode(err, errors.CodeTransport))
}

func TestReadFrame_Truncated(t *testing.T) {
	frame := EncodeFrame([]byte("certificate"))
	_, err := ReadFrame(bytes.NewReader(frame[:len(frame)-2]))
	assert.True(t, errors.IsCode(err, errors.CodeTransport))
}

func TestReadFrame_TooLarge(t *testing.T) {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(header))
	assert.True(t, errors.IsCode(err, errors.CodeProtocol))
}

func TestEncodeRequest(t *testing.T) {
	req, err := EncodeRequest("alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("alice\x00"), req)

	_, err = EncodeRequest("al\x00ice")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument))
}
