package printer

import (
	"sync"
	"time"
)

// Signal is a binary availability flag with at most one pending wake-up.
// Notify on an already signalled Signal is a no-op, so several producer
// notifications collapse into a single wake-up of the consumer.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify sets the signal. It never blocks.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait clears the signal, waiting up to timeout for it to be set.
// It reports whether the signal was set.
func (s *Signal) Wait(timeout time.Duration) bool {
	select {
	case <-s.ch:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return false
	}
}

// Pending reports whether a wake-up is waiting
func (s *Signal) Pending() bool {
	return len(s.ch) == 1
}

// WriteFunc writes one chunk to the underlying link, e.g. a GATT
// characteristic write
type WriteFunc func(chunk []byte) error

// NotifyTransport adapts a notification-driven link such as a BLE GATT
// characteristic to the pull-style Transport. The link's notification
// callback calls Deliver; the reader loop calls Read.
type NotifyTransport struct {
	// MTU bounds the size of each chunk handed to the WriteFunc; 0 means
	// no splitting
	MTU         int
	ReadTimeout time.Duration

	// OnOpen and OnClose hook the link's connect and disconnect
	OnOpen  func() error
	OnClose func() error

	write WriteFunc
	avail *Signal

	mu      sync.Mutex
	pending []byte
	open    bool
}

// NewNotifyTransport returns a transport writing through write
func NewNotifyTransport(write WriteFunc) *NotifyTransport {
	return &NotifyTransport{
		ReadTimeout: DefaultReadTimeout,
		write:       write,
		avail:       NewSignal(),
	}
}

func (t *NotifyTransport) Open() error {
	if t.OnOpen != nil {
		if err := t.OnOpen(); err != nil {
			return err
		}
	}
	t.mu.Lock()
	t.open = true
	t.pending = t.pending[:0]
	t.mu.Unlock()
	return nil
}

func (t *NotifyTransport) Close() error {
	t.mu.Lock()
	wasOpen := t.open
	t.open = false
	t.pending = nil
	t.mu.Unlock()
	// wake a blocked reader so it observes the close
	t.avail.Notify()

	if wasOpen && t.OnClose != nil {
		return t.OnClose()
	}
	return nil
}

// Deliver queues an inbound chunk. Chunks arriving while closed are dropped.
func (t *NotifyTransport) Deliver(chunk []byte) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	t.pending = append(t.pending, chunk...)
	t.mu.Unlock()
	t.avail.Notify()
}

// Read waits for delivered bytes and drains up to len(p) of them. When
// bytes remain the signal is re-armed so the next Read does not wait.
func (t *NotifyTransport) Read(p []byte) (int, error) {
	if !t.avail.Wait(t.ReadTimeout) {
		if !t.isOpen() {
			return 0, ErrClosed
		}
		return 0, nil
	}

	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	n := copy(p, t.pending)
	t.pending = append(t.pending[:0], t.pending[n:]...)
	remaining := len(t.pending) > 0
	t.mu.Unlock()

	if remaining {
		t.avail.Notify()
	}
	return n, nil
}

// Write splits p at the MTU and hands each chunk to the link
func (t *NotifyTransport) Write(p []byte) (int, error) {
	if !t.isOpen() {
		return 0, ErrNotConnected
	}
	size := t.MTU
	if size <= 0 {
		size = len(p)
	}
	written := 0
	for written < len(p) {
		end := min(written+size, len(p))
		if err := t.write(p[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// Buffered returns the number of delivered bytes not yet read
func (t *NotifyTransport) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *NotifyTransport) isOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}
