package tcp

import (
	"golang.org/x/sys/unix"

	"github.com/turtacn/certforge/pkg/errors"
)

const (
	listenEvents   = unix.EPOLLIN
	wakeEvents     = unix.EPOLLIN
	readEvents     = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLET
	readWriteEvent = readEvents | unix.EPOLLOUT
)

// poller wraps an epoll instance.
type poller struct {
	epfd   int
	events []unix.EpollEvent
}

func newPoller(batch int) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "epoll_create1")
	}
	if batch < 1 {
		batch = 1
	}
	return &poller{epfd: epfd, events: make([]unix.EpollEvent, batch)}, nil
}

func (p *poller) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrap(err, errors.CodeTransport, "epoll_ctl add fd %d", fd)
	}
	return nil
}

func (p *poller) modify(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return errors.Wrap(err, errors.CodeTransport, "epoll_ctl mod fd %d", fd)
	}
	return nil
}

func (p *poller) remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.Wrap(err, errors.CodeTransport, "epoll_ctl del fd %d", fd)
	}
	return nil
}

// wait blocks until at least one registered descriptor is ready. An interrupted wait
// returns no events and no error.
func (p *poller) wait(timeoutMs int) ([]unix.EpollEvent, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "epoll_wait")
	}
	return p.events[:n], nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}
