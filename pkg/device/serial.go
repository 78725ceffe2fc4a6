package device

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/fluidlab/humidistat/pkg/proto"
)

// probeTimeout bounds the identity handshake per candidate port.
const probeTimeout = 2 * time.Second

// Serial is the session over a physical serial port. The port is located
// by trying a last-known hint first and then scanning all ports for one
// that answers the identity handshake.
type Serial struct {
	identity string
	baudRate int
	hint     string // preferred port name, tried before scanning
	hintFile string // where the last working port is remembered, may be empty

	mu        sync.Mutex
	wmu       sync.Mutex
	port      serial.Port
	name      string
	rbuf      []byte // carry-over bytes between ReadLine calls
	connected bool
}

// NewSerial creates a session that will connect to the device identifying
// itself with the given identity string.
func NewSerial(identity string, baudRate int, hint, hintFile string) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{
		identity: identity,
		baudRate: baudRate,
		hint:     hint,
		hintFile: hintFile,
	}
}

// Connect locates and opens the device port. The hinted port is tried
// first, then every port reported by the OS. A port qualifies when its
// reply to the identity query contains the configured identity string.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected to %s", s.name)
	}

	for _, name := range s.candidates() {
		port, err := s.probe(name)
		if err != nil {
			logrus.Debugf("port %s: %v", name, err)
			continue
		}
		s.port = port
		s.name = name
		s.rbuf = nil
		s.connected = true
		s.rememberPort(name)
		logrus.Infof("connected to %q on %s", s.identity, name)
		return nil
	}

	return fmt.Errorf("%w (identity %q)", ErrNoDevice, s.identity)
}

// candidates returns port names to probe, most promising first.
func (s *Serial) candidates() []string {
	var names []string
	seen := map[string]bool{}
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	if s.hintFile != "" {
		if b, err := os.ReadFile(s.hintFile); err == nil {
			add(strings.TrimSpace(string(b)))
		}
	}
	add(s.hint)

	ports, err := serial.GetPortsList()
	if err != nil {
		logrus.Warnf("failed to list serial ports: %v", err)
	}
	for _, p := range ports {
		add(p)
	}
	return names
}

// probe opens a port and performs the identity handshake.
func (s *Serial) probe(name string) (serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	if _, err := port.Write([]byte(proto.EncodeIdentify() + "\n")); err != nil {
		port.Close()
		return nil, fmt.Errorf("identity query: %w", err)
	}

	reply, err := readLine(port, nil, probeTimeout)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("identity reply: %w", err)
	}
	if !strings.Contains(reply, s.identity) {
		port.Close()
		return nil, fmt.Errorf("identity mismatch: %q", reply)
	}
	return port, nil
}

// rememberPort persists the working port name so the next startup can skip
// the scan.
func (s *Serial) rememberPort(name string) {
	if s.hintFile == "" {
		return
	}
	if err := os.WriteFile(s.hintFile, []byte(name+"\n"), 0644); err != nil {
		logrus.Warnf("failed to persist port hint: %v", err)
	}
}

// ReadLine returns the next newline-terminated line, without the
// terminator, waiting at most timeout. Expiry yields ErrTimeout; transport
// failures are wrapped I/O errors.
func (s *Serial) ReadLine(timeout time.Duration) (string, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return "", ErrNotConnected
	}
	port := s.port
	s.mu.Unlock()

	line, err := readLine(port, &s.rbuf, timeout)
	if err != nil {
		return "", err
	}
	return line, nil
}

// readLine accumulates bytes until a newline or the deadline. buf carries
// partial data across calls so a line split over two reads is not lost.
func readLine(port serial.Port, buf *[]byte, timeout time.Duration) (string, error) {
	var local []byte
	if buf == nil {
		buf = &local
	}
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)

	for {
		if i := bytes.IndexByte(*buf, '\n'); i >= 0 {
			line := strings.TrimRight(string((*buf)[:i]), "\r")
			*buf = append((*buf)[:0], (*buf)[i+1:]...)
			return line, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrTimeout
		}
		if err := port.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("set read timeout: %w", err)
		}

		n, err := port.Read(chunk)
		if err != nil {
			return "", fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			// go.bug.st/serial signals an expired read timeout with a
			// zero-byte read and a nil error.
			return "", ErrTimeout
		}
		*buf = append(*buf, chunk[:n]...)
	}
}

// Write sends one command, terminated with a newline. Fire and forget: the
// protocol has no acknowledgement.
func (s *Serial) Write(cmd string) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	port := s.port
	s.mu.Unlock()

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("serial write %q: %w", cmd, err)
	}
	return nil
}

// Close releases the port. Idempotent.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			logrus.Warnf("error closing serial port: %v", err)
		}
		s.port = nil
	}
	return nil
}

// IsConnected returns whether the session currently holds an open port.
func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// PortName returns the connected port name, empty when disconnected.
func (s *Serial) PortName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}
