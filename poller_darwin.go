//go:build darwin

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// kqueuePoller implements Poller on Darwin using kqueue, the counterpart of
// eventloop's poller_darwin.go. kqueue reports read/write readiness as two
// independent filters (EVFILT_READ/EVFILT_WRITE) rather than epoll's single
// bitmask, so Register/Modify translate an InterestOps set into up to two
// kevent changes.
type kqueuePoller struct {
	mu     sync.Mutex
	kq     int
	tokens map[int]*Token

	wakeReadFD, wakeWriteFD int
	wakeToken               *Token
}

func newPoller() Poller {
	return &kqueuePoller{tokens: make(map[int]*Token)}
}

func (p *kqueuePoller) Open() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	p.kq = kq

	readFD, writeFD, err := createWakeFD()
	if err != nil {
		_ = unix.Close(kq)
		return err
	}
	p.wakeReadFD, p.wakeWriteFD = readFD, writeFD

	tok, err := p.Register(readFD, OpRead, nil)
	if err != nil {
		_ = closeWakeFD(readFD, writeFD)
		_ = unix.Close(kq)
		return err
	}
	p.wakeToken = tok
	return nil
}

func (p *kqueuePoller) Close() error {
	_ = closeWakeFD(p.wakeReadFD, p.wakeWriteFD)
	return unix.Close(p.kq)
}

func (p *kqueuePoller) Register(fd int, ops InterestOps, ch Channel) (*Token, error) {
	tok := newToken(fd, ops, ch, p)
	changes := kqueueChanges(fd, 0, ops, unix.EV_ADD|unix.EV_CLEAR)
	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	p.tokens[fd] = tok
	p.mu.Unlock()
	return tok, nil
}

func (p *kqueuePoller) Modify(tok *Token, ops InterestOps) error {
	prev := tok.InterestOps()
	changes := kqueueDiff(tok.fd, prev, ops)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Unregister(tok *Token) error {
	p.mu.Lock()
	delete(p.tokens, tok.fd)
	p.mu.Unlock()
	tok.cancel()
	changes := kqueueChanges(tok.fd, 0, tok.InterestOps(), unix.EV_DELETE)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Poll(timeoutMs int) ([]ReadyEvent, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1_000_000)
		ts = &t
	}

	events := make([]unix.Kevent_t, 256)
	n, err := unix.Kevent(p.kq, nil, events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	ready := make(map[int]InterestOps, n)
	invalid := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		fd := int(events[i].Ident)
		if events[i].Flags&unix.EV_ERROR != 0 {
			invalid[fd] = true
			continue
		}
		switch events[i].Filter {
		case unix.EVFILT_READ:
			ready[fd] |= OpRead | OpAccept
		case unix.EVFILT_WRITE:
			ready[fd] |= OpWrite | OpConnect
		}
	}

	var out []ReadyEvent
	for fd, ops := range ready {
		p.mu.Lock()
		tok, ok := p.tokens[fd]
		p.mu.Unlock()
		if !ok {
			continue
		}
		if tok == p.wakeToken {
			drainWakeFD(p.wakeReadFD)
			continue
		}
		out = append(out, ReadyEvent{Token: tok, Ready: ops & tok.InterestOps()})
	}
	for fd := range invalid {
		p.mu.Lock()
		tok, ok := p.tokens[fd]
		p.mu.Unlock()
		if ok && tok != p.wakeToken {
			out = append(out, ReadyEvent{Token: tok, Invalid: true})
		}
	}
	return out, nil
}

func (p *kqueuePoller) Wake() {
	writeWakeFD(p.wakeWriteFD)
}

// kqueueChanges builds the kevent change list needed to arm ops on fd with
// the given base flags (EV_ADD for register, EV_DELETE for unregister).
func kqueueChanges(fd int, _ InterestOps, ops InterestOps, flags uint16) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if ops.Has(OpRead) || ops.Has(OpAccept) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if ops.Has(OpWrite) || ops.Has(OpConnect) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return changes
}

// kqueueDiff computes the add/delete kevent changes needed to move from prev
// to next's armed filters.
func kqueueDiff(fd int, prev, next InterestOps) []unix.Kevent_t {
	var changes []unix.Kevent_t
	prevRead, nextRead := prev.Has(OpRead) || prev.Has(OpAccept), next.Has(OpRead) || next.Has(OpAccept)
	prevWrite, nextWrite := prev.Has(OpWrite) || prev.Has(OpConnect), next.Has(OpWrite) || next.Has(OpConnect)

	if nextRead && !prevRead {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR})
	} else if !nextRead && prevRead {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if nextWrite && !prevWrite {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_CLEAR})
	} else if !nextWrite && prevWrite {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	return changes
}
