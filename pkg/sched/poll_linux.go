//go:build linux

package sched

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ReadyFunc is invoked when fd becomes readable.
type ReadyFunc func(fd int)

// Poller wraps a Linux epoll instance so the event loop can block waiting
// on every registered interface's socket at once instead of spawning a
// reader goroutine per interface (spec §5).
type Poller struct {
	epfd    int
	callbacks map[int]ReadyFunc
}

// NewPoller creates an epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("sched: epoll_create1: %w", err)
	}
	return &Poller{epfd: fd, callbacks: make(map[int]ReadyFunc)}, nil
}

// Register starts watching fd for readability, invoking onReady when data
// arrives. fd < 0 (transports with no pollable descriptor) is silently
// accepted as a no-op so callers don't need to special-case them.
func (p *Poller) Register(fd int, onReady ReadyFunc) error {
	if fd < 0 {
		return nil
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("sched: epoll_ctl add fd=%d: %w", fd, err)
	}
	p.callbacks[fd] = onReady
	return nil
}

// Unregister stops watching fd.
func (p *Poller) Unregister(fd int) error {
	if fd < 0 {
		return nil
	}
	delete(p.callbacks, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("sched: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Wait blocks up to timeoutMs (-1 for indefinitely) and invokes the
// registered callback for every fd that became ready.
func (p *Poller) Wait(timeoutMs int) error {
	var events [64]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("sched: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if cb, ok := p.callbacks[fd]; ok {
			cb(fd)
		}
	}
	return nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
