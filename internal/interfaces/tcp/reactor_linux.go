// Package tcp serves the credential protocol from a single epoll-driven reactor goroutine.
//
// The reactor owns every socket and Session. Issuance runs on the worker pool behind the
// Coalescer, and outcomes come back through the Inbox so that Session state is only ever
// touched from the reactor goroutine.
package tcp

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	appservice "github.com/turtacn/certforge/internal/application/service"
	"github.com/turtacn/certforge/internal/config"
	"github.com/turtacn/certforge/internal/domain/models"
	"github.com/turtacn/certforge/internal/domain/service"
	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

// acceptRetryInterval is how long accepting stays paused after descriptor exhaustion when
// no connection closes in the meantime.
const acceptRetryInterval = 100 * time.Millisecond

// CredentialSource hands out credentials by name. Request must not block; deliver is
// posted back to the reactor inbox.
type CredentialSource interface {
	Request(ctx context.Context, name string, deliver appservice.Delivery)
}

// Reactor is the single-threaded connection loop.
type Reactor struct {
	cfg     config.ServerConfig
	inbox   *Inbox
	source  CredentialSource
	metrics service.Metrics
	logger  logger.Logger

	poller   *poller
	listenFD int
	addr     *net.TCPAddr
	accept   func(fd int, flags int) (int, unix.Sockaddr, error)

	// reactor goroutine only
	sessions map[uint64]*Session
	byFD     map[int]uint64
	nextID   uint64
	stopping bool
	ctx      context.Context

	acceptPaused bool
	pausedAt     time.Time

	active  atomic.Int64
	running atomic.Bool
}

// NewReactor binds the listening socket and prepares the poller. The inbox must be the one
// the CredentialSource posts to; Run closes it on return.
func NewReactor(cfg config.ServerConfig, inbox *Inbox, source CredentialSource, metrics service.Metrics, log logger.Logger) (*Reactor, error) {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if cfg.ReadBufferSize < constants.MinReadBufferSize {
		cfg.ReadBufferSize = constants.MinReadBufferSize
	}
	if cfg.MaxNameLength < 1 {
		cfg.MaxNameLength = constants.DefaultMaxNameLength
	}
	if cfg.AcceptBacklog < 1 {
		cfg.AcceptBacklog = constants.DefaultAcceptBacklog
	}

	p, err := newPoller(cfg.EventBatchSize)
	if err != nil {
		return nil, err
	}

	lfd, addr, err := listen(cfg.Addr(), cfg.AcceptBacklog)
	if err != nil {
		_ = p.close()
		return nil, err
	}

	r := &Reactor{
		cfg:      cfg,
		inbox:    inbox,
		source:   source,
		metrics:  metrics,
		logger:   log.WithComponent("reactor"),
		poller:   p,
		listenFD: lfd,
		addr:     addr,
		accept:   unix.Accept4,
		sessions: make(map[uint64]*Session),
		byFD:     make(map[int]uint64),
		ctx:      context.Background(),
	}

	if err := p.add(lfd, listenEvents); err != nil {
		_ = unix.Close(lfd)
		_ = p.close()
		return nil, err
	}
	if err := p.add(inbox.fd(), wakeEvents); err != nil {
		_ = unix.Close(lfd)
		_ = p.close()
		return nil, err
	}
	return r, nil
}

// Addr returns the bound listen address.
func (r *Reactor) Addr() net.Addr {
	return r.addr
}

// ActiveSessions returns the number of open connections.
func (r *Reactor) ActiveSessions() int {
	return int(r.active.Load())
}

// Running reports whether Run is executing.
func (r *Reactor) Running() bool {
	return r.running.Load()
}

// Run serves connections until ctx is cancelled. Each iteration drains the inbox, waits
// for readiness, drains the inbox again and then handles the ready descriptors.
func (r *Reactor) Run(ctx context.Context) error {
	r.ctx = ctx
	r.running.Store(true)
	defer r.running.Store(false)
	defer r.shutdown()

	stop := context.AfterFunc(ctx, func() {
		r.inbox.Post(func() { r.stopping = true })
	})
	defer stop()

	r.logger.Info(ctx, "Reactor listening", logger.String("addr", r.addr.String()))

	for {
		r.inbox.Drain()
		if r.stopping {
			return nil
		}

		timeout := -1
		if r.acceptPaused {
			timeout = int(acceptRetryInterval / time.Millisecond)
		}
		events, err := r.poller.wait(timeout)
		if err != nil {
			r.logger.Error(ctx, "Readiness wait failed", err)
			return err
		}
		if r.acceptPaused && time.Since(r.pausedAt) >= acceptRetryInterval {
			r.resumeAccept()
		}

		r.inbox.Drain()

		for _, ev := range events {
			r.handle(ev)
		}
	}
}

func (r *Reactor) handle(ev unix.EpollEvent) {
	fd := int(ev.Fd)
	switch fd {
	case r.inbox.fd():
		r.inbox.clearWake()
		return
	case r.listenFD:
		r.acceptAll()
		return
	}

	id, ok := r.byFD[fd]
	if !ok {
		return
	}
	s := r.sessions[id]

	if ev.Events&unix.EPOLLERR != 0 {
		r.closeSession(s, "socket error")
		return
	}
	if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
		r.handleRead(s)
	}
	if s.state != StateClosed && ev.Events&unix.EPOLLOUT != 0 {
		r.flush(s)
	}
}

func (r *Reactor) acceptAll() {
	for {
		nfd, _, err := r.accept(r.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
		case unix.EAGAIN:
			return
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
			// the pending connection stays queued; a level-triggered listener would wake at once
			r.logger.Warn(r.ctx, "Accept paused on resource exhaustion", logger.Error(err))
			r.pauseAccept()
			return
		default:
			r.logger.Error(r.ctx, "Accept failed", err)
			return
		}

		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		if err := r.poller.add(nfd, readEvents); err != nil {
			r.logger.Error(r.ctx, "Failed to register connection", err)
			_ = unix.Close(nfd)
			continue
		}

		r.nextID++
		s := newSession(r.nextID, nfd, r.cfg.ReadBufferSize, r.cfg.MaxNameLength)
		r.sessions[s.id] = s
		r.byFD[nfd] = s.id
		r.active.Add(1)
		r.metrics.SessionOpened()
		r.logger.Debug(r.sessionContext(s), "Connection accepted")
	}
}

// handleRead reads until the socket would block. The connection is edge-triggered.
// pauseAccept drops the listener from the poller until a connection closes or
// acceptRetryInterval passes.
func (r *Reactor) pauseAccept() {
	if r.acceptPaused {
		return
	}
	if err := r.poller.remove(r.listenFD); err != nil {
		r.logger.Error(r.ctx, "Failed to pause accept", err)
		return
	}
	r.acceptPaused = true
	r.pausedAt = time.Now()
}

func (r *Reactor) resumeAccept() {
	if !r.acceptPaused {
		return
	}
	if err := r.poller.add(r.listenFD, listenEvents); err != nil {
		r.logger.Error(r.ctx, "Failed to resume accept", err)
		r.pausedAt = time.Now()
		return
	}
	r.acceptPaused = false
	r.logger.Info(r.ctx, "Accept resumed")
}

func (r *Reactor) handleRead(s *Session) {
	for {
		space := s.readSpace()
		n, err := unix.Read(s.fd, space)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			// a protocol error is answered once the input is drained, so the close is a FIN
			if s.state == StateWriting && !s.wantWrite {
				r.flush(s)
			}
			return
		case err != nil:
			r.closeSession(s, "read error: "+err.Error())
			return
		case n == 0:
			r.closeSession(s, "peer closed")
			return
		}

		name, complete, perr := s.consume(n)
		if perr != nil {
			r.logger.Warn(r.sessionContext(s), "Protocol error", logger.Error(perr))
			r.queueResponse(s, nil, perr)
			continue
		}
		if complete {
			r.request(s, name)
		}
	}
}

func (r *Reactor) request(s *Session, name string) {
	id := s.id
	ctx := context.WithValue(r.sessionContext(s), constants.ContextKeyName, name)
	r.logger.Debug(ctx, "Credential requested")

	r.source.Request(ctx, name, func(bundle *models.CredentialBundle, err error) {
		target, ok := r.sessions[id]
		if !ok {
			r.logger.Debug(ctx, "Discarding outcome for closed connection")
			return
		}
		r.respond(target, bundle, err)
	})
}

// respond queues the response for s and starts flushing it.
func (r *Reactor) respond(s *Session, bundle *models.CredentialBundle, err error) {
	if r.queueResponse(s, bundle, err) {
		r.flush(s)
	}
}

func (r *Reactor) queueResponse(s *Session, bundle *models.CredentialBundle, err error) bool {
	result := constants.ResultSuccess
	switch {
	case err != nil && errors.IsProtocolError(err):
		result = constants.ResultProtocolError
		bundle = nil
	case err != nil:
		result = constants.ResultFailure
		bundle = nil
	}
	if !s.respond(bundle) {
		return false
	}
	r.metrics.RecordRequest(result)
	return true
}

// flush writes what the socket accepts, arms write interest when output remains and closes
// the session once a response is fully sent.
func (r *Reactor) flush(s *Session) {
	drained, err := s.flush(r.writer(s.fd))
	if err != nil {
		r.closeSession(s, "write error: "+err.Error())
		return
	}

	if drained {
		if s.closeAfterFlush {
			r.closeSession(s, "response sent")
			return
		}
		if s.wantWrite {
			if err := r.poller.modify(s.fd, readEvents); err != nil {
				r.closeSession(s, "rearm failed")
				return
			}
			s.wantWrite = false
		}
		return
	}

	if !s.wantWrite {
		if err := r.poller.modify(s.fd, readWriteEvent); err != nil {
			r.closeSession(s, "rearm failed")
			return
		}
		s.wantWrite = true
	}
}

func (r *Reactor) writer(fd int) socketWriter {
	return func(p []byte) (int, error) {
		for {
			n, err := unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
			switch err {
			case nil:
				return n, nil
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return 0, errWouldBlock
			default:
				return 0, err
			}
		}
	}
}

func (r *Reactor) closeSession(s *Session, reason string) {
	if s.state == StateClosed {
		return
	}
	if s.state == StateAwaitingCredential {
		r.metrics.RecordRequest(constants.ResultAborted)
	}

	_ = r.poller.remove(s.fd)
	_ = unix.Close(s.fd)
	delete(r.sessions, s.id)
	delete(r.byFD, s.fd)

	prev := s.state
	s.state = StateClosed
	s.outbound = nil
	r.active.Add(-1)
	r.metrics.SessionClosed()
	if !r.stopping {
		r.resumeAccept()
	}

	r.logger.Debug(r.sessionContext(s), "Connection closed",
		logger.String("reason", reason),
		logger.String("state", prev.String()))
}

func (r *Reactor) shutdown() {
	for _, s := range r.sessions {
		r.closeSession(s, "reactor stopped")
	}
	if !r.acceptPaused {
		_ = r.poller.remove(r.listenFD)
	}
	_ = unix.Close(r.listenFD)
	_ = r.poller.close()
	if err := r.inbox.Close(); err != nil {
		r.logger.Warn(context.Background(), "Failed to close inbox", logger.Error(err))
	}
	r.logger.Info(context.Background(), "Reactor stopped")
}

func (r *Reactor) sessionContext(s *Session) context.Context {
	return context.WithValue(r.ctx, constants.ContextKeyConnID, s.id)
}

// listen creates a non-blocking listening socket for addr.
func listen(addr string, backlog int) (int, *net.TCPAddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, nil, errors.Wrap(err, errors.CodeConfig, "resolve listen address %s", addr)
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		inet4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(inet4.Addr[:], ip4)
		sa = inet4
	} else {
		domain = unix.AF_INET6
		inet6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(inet6.Addr[:], tcpAddr.IP.To16())
		sa = inet6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, errors.Wrap(err, errors.CodeTransport, "create listen socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, nil, errors.Wrap(err, errors.CodeTransport, "set SO_REUSEADDR")
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, nil, errors.Wrap(err, errors.CodeTransport, "bind %s", addr)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, nil, errors.Wrap(err, errors.CodeTransport, "listen %s", addr)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, nil, errors.Wrap(err, errors.CodeTransport, "getsockname")
	}
	return fd, sockaddrToTCPAddr(bound), nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	default:
		return &net.TCPAddr{}
	}
}
