package printer

import (
	"errors"
)

var (
	ErrNotConnected = errors.New("printer not connected")
	ErrClosed       = errors.New("transport closed")
)

// Transport is the byte link to the printer.
//
// Read is pull-style: it returns whatever is available up to len(p), and
// returns (0, nil) when nothing arrived within the transport's read timeout.
// It never blocks indefinitely. Read and Write may be called concurrently.
type Transport interface {
	Open() error
	Close() error
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
}
