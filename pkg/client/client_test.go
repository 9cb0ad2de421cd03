package client

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/protocol"
)

// fakeServer answers one connection per call with respond(name).
func fakeServer(t *testing.T, respond func(name string) (key, cert []byte)) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	names := make(chan string, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				raw, err := bufio.NewReader(c).ReadString(0)
				if err != nil {
					return
				}
				name := raw[:len(raw)-1]
				names <- name
				key, cert := respond(name)
				_, _ = c.Write(protocol.EncodeFrame(key))
				_, _ = c.Write(protocol.EncodeFrame(cert))
			}(conn)
		}
	}()
	return ln.Addr().String(), names
}

func TestRequest_Success(t *testing.T) {
	addr, names := fakeServer(t, func(name string) ([]byte, []byte) {
		return []byte("key:" + name), []byte("cert:" + name)
	})

	cred, err := Request(context.Background(), addr, "alice", Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte("key:alice"), cred.PrivateKey)
	assert.Equal(t, []byte("cert:alice"), cred.Certificate)
	assert.Equal(t, "alice", <-names)
}

func TestRequest_Rejected(t *testing.T) {
	addr, _ := fakeServer(t, func(string) ([]byte, []byte) { return nil, nil })

	_, err := Request(context.Background(), addr, "bob", Options{Delay: 10 * time.Millisecond})
	assert.ErrorIs(t, err, ErrServerRejected)
	assert.True(t, errors.IsCode(err, errors.CodeRejected))
}

func TestRequest_Abort(t *testing.T) {
	addr, names := fakeServer(t, func(string) ([]byte, []byte) { return []byte("k"), []byte("c") })

	cred, err := Request(context.Background(), addr, "carol", Options{Abort: true})
	require.NoError(t, err)
	assert.Nil(t, cred)
	assert.Equal(t, "carol", <-names)
}

func TestRequest_InvalidName(t *testing.T) {
	_, err := Request(context.Background(), "127.0.0.1:1", "a\x00b", Options{})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument))
}

func TestRequest_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Request(context.Background(), addr, "dave", Options{DialTimeout: time.Second})
	assert.True(t, errors.IsCode(err, errors.CodeTransport))
}

func TestRequest_ContextDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(time.Second)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Request(ctx, ln.Addr().String(), "slow", Options{})
	assert.True(t, errors.IsCode(err, errors.CodeTransport))
}
