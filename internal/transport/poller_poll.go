package transport

import (
	"sync"

	"golang.org/x/sys/unix"
)

// pollPoller is the "portable fallback via ready-set polling" spec.md
// §4.1 explicitly allows. It is level-triggered (unlike epollPoller), which
// is fine: conn.go's read/write loops already drain until EAGAIN, so
// re-firing on leftover readiness is redundant work, not a correctness
// problem.
type pollPoller struct {
	mu         sync.Mutex
	fds        map[int]struct{}
	wantWrite  map[int]struct{}
}

func newPollPoller() *pollPoller {
	return &pollPoller{
		fds:       make(map[int]struct{}),
		wantWrite: make(map[int]struct{}),
	}
}

func (p *pollPoller) Add(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = struct{}{}
	return nil
}

func (p *pollPoller) EnableWrite(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wantWrite[fd] = struct{}{}
	return nil
}

func (p *pollPoller) DisableWrite(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.wantWrite, fd)
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	delete(p.wantWrite, fd)
	return nil
}

func (p *pollPoller) Wait(timeoutMs int) ([]Event, error) {
	p.mu.Lock()
	pfds := make([]unix.PollFd, 0, len(p.fds))
	for fd := range p.fds {
		ev := int16(unix.POLLIN)
		if _, ok := p.wantWrite[fd]; ok {
			ev |= unix.POLLOUT
		}
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: ev})
	}
	p.mu.Unlock()

	if len(pfds) == 0 {
		return nil, nil
	}
	n, err := unix.Poll(pfds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]Event, 0, n)
	for _, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		out = append(out, Event{
			Fd:       int(pfd.Fd),
			Readable: pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			Writable: pfd.Revents&unix.POLLOUT != 0,
			Err:      pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0,
		})
	}
	return out, nil
}

func (p *pollPoller) Close() error {
	return nil
}
