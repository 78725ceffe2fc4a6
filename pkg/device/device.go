// Package device owns the serial connection to the humidistat MCU: port
// discovery with an identity handshake, bounded line reads, and a
// de-duplicating command writer.
package device

import (
	"errors"
	"time"
)

const (
	// DefaultBaudRate is the standard baud rate for the Adafruit Feather M4.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds a single blocking line read.
	DefaultReadTimeout = 2 * time.Second
)

var (
	// ErrTimeout is returned when no full line arrives within the read
	// window. A timeout is a routine condition on a noisy link and is
	// retried by the acquisition loop, distinct from a broken link.
	ErrTimeout = errors.New("read timeout")

	// ErrNotConnected is returned for operations on a closed session.
	ErrNotConnected = errors.New("not connected")

	// ErrNoDevice is returned when no port answers the identity handshake.
	ErrNoDevice = errors.New("no matching device found")
)

// Session is the connection to the device. The session moves bytes and does
// not interpret payload semantics; that is the proto package's job.
type Session interface {
	Connect() error
	ReadLine(timeout time.Duration) (string, error)
	Write(cmd string) error
	Close() error
	IsConnected() bool
}

var _ Session = (*Serial)(nil)
var _ Session = (*Mock)(nil)
