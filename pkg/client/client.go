// Package client requests credentials from a certforge server.
package client

import (
	"context"
	"net"
	"time"

	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/protocol"
)

// ErrServerRejected is returned when the server answers with the empty failure response.
var ErrServerRejected = errors.New(errors.CodeRejected, "server rejected the request")

// Options tunes a single request.
type Options struct {
	// Abort closes the connection right after the name is sent.
	Abort bool
	// Delay waits before reading the response.
	Delay time.Duration
	// DialTimeout bounds the connect; zero means constants.DefaultConnectTimeout.
	DialTimeout time.Duration
}

// Credential is a successful response.
type Credential struct {
	PrivateKey  []byte
	Certificate []byte
}

// Request sends name to the server at addr and reads the two response frames. With
// Options.Abort it returns (nil, nil) as soon as the name is written.
func Request(ctx context.Context, addr, name string, opts Options) (*Credential, error) {
	req, err := protocol.EncodeRequest(name)
	if err != nil {
		return nil, err
	}

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = constants.DefaultConnectTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeTransport, "dial %s", addr)
	}
	defer conn.Close()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(req); err != nil {
		return nil, errors.Wrap(err, errors.CodeTransport, "send name")
	}
	if opts.Abort {
		return nil, nil
	}

	if opts.Delay > 0 {
		timer := time.NewTimer(opts.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(ctx.Err(), errors.CodeTransport, "request cancelled")
		}
	}

	key, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	cert, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 && len(cert) == 0 {
		return nil, ErrServerRejected
	}
	return &Credential{PrivateKey: key, Certificate: cert}, nil
}
