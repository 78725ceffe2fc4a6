package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fluidlab/humidistat/pkg/config"
)

// Mock simulates the humidistat apparatus for testing and development: it
// answers the identity query, serves telemetry on poll or free-running,
// executes actuator and burst commands, and drifts its humidity according
// to which air path is open.
type Mock struct {
	cfg *config.MockConfig

	mu        sync.Mutex
	connected bool
	start     time.Time
	last      time.Time

	humi  float64 // sensor 1 reading [% RH]
	temp1 float64
	temp2 float64

	v1, v2, pump bool
	burstActive  bool
	burstUntil   time.Time

	pending    []string // queued reply lines
	nextStream time.Time
	writes     []string // every raw command received, for tests
}

// NewMock creates a new mocked device instance.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			AmbientRH:  35,
			IncrRate:   1.5,
			DecrRate:   2.0,
			NoiseLevel: 0.05,
			SampleRate: time.Second,
		}
	}
	return &Mock{
		cfg:   cfg,
		humi:  cfg.AmbientRH,
		temp1: 22.1,
		temp2: 22.3,
	}
}

// Connect simulates connecting to the device.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	now := time.Now()
	m.connected = true
	m.start = now
	m.last = now
	m.nextStream = now.Add(m.cfg.SampleRate)
	return nil
}

// Close stops the mocked device. Idempotent.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.pending = nil
	return nil
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Write executes one command against the simulated apparatus.
func (m *Mock) Write(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}

	m.writes = append(m.writes, cmd)
	now := time.Now()
	m.advance(now)

	switch {
	case cmd == "id?":
		m.pending = append(m.pending, "Arduino, Humidistat v1")
	case cmd == "?":
		m.pending = append(m.pending, m.telemetryLine(now))
	case cmd == "r":
		// Sensor reconnect: nothing to do in simulation.
	case strings.HasPrefix(cmd, "a") && len(cmd) == 4:
		m.v1, m.v2, m.pump = cmd[1] == '1', cmd[2] == '1', cmd[3] == '1'
		m.burstActive = false
	case strings.HasPrefix(cmd, "b") && len(cmd) >= 5:
		ms, err := strconv.Atoi(cmd[4:])
		if err != nil {
			return fmt.Errorf("bad burst duration in %q: %w", cmd, err)
		}
		m.v1, m.v2, m.pump = cmd[1] == '1', cmd[2] == '1', cmd[3] == '1'
		m.burstActive = true
		m.burstUntil = now.Add(time.Duration(ms) * time.Millisecond)
	case strings.HasPrefix(cmd, "v1") && len(cmd) == 3:
		m.v1 = cmd[2] == '1'
	case strings.HasPrefix(cmd, "v2") && len(cmd) == 3:
		m.v2 = cmd[2] == '1'
	case strings.HasPrefix(cmd, "p") && len(cmd) == 2:
		m.pump = cmd[1] == '1'
	default:
		return fmt.Errorf("unrecognised command %q", cmd)
	}
	return nil
}

// ReadLine returns the next pending reply, or in streaming mode the next
// scheduled telemetry line. Expiry yields ErrTimeout like the real session.
func (m *Mock) ReadLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for {
		m.mu.Lock()
		if !m.connected {
			m.mu.Unlock()
			return "", ErrNotConnected
		}
		if len(m.pending) > 0 {
			line := m.pending[0]
			m.pending = append(m.pending[:0], m.pending[1:]...)
			m.mu.Unlock()
			return line, nil
		}
		now := time.Now()
		if m.cfg.SampleRate > 0 && !now.Before(m.nextStream) {
			m.advance(now)
			line := m.telemetryLine(now)
			m.nextStream = now.Add(m.cfg.SampleRate)
			m.mu.Unlock()
			return line, nil
		}
		m.mu.Unlock()

		if !now.Before(deadline) {
			return "", ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// advance integrates the humidity drift since the previous call and ends
// an elapsed burst. Caller holds the lock.
func (m *Mock) advance(now time.Time) {
	dt := now.Sub(m.last).Seconds()
	m.last = now
	if dt <= 0 {
		return
	}

	drive := 0.0
	if m.v1 {
		drive += m.cfg.IncrRate
	}
	if m.v2 {
		drive -= m.cfg.DecrRate
	}
	if !m.pump {
		// Without the pump there is barely any airflow through the
		// bubbler or the desiccant.
		drive *= 0.25
	}

	relax := (m.cfg.AmbientRH - m.humi) * 0.005
	m.humi += (drive + relax) * dt
	m.humi = math.Max(0, math.Min(100, m.humi))

	if m.burstActive && now.After(m.burstUntil) {
		m.burstActive = false
		m.v1, m.v2, m.pump = false, false, false
	}
}

// telemetryLine renders the current state as one 10-field device line.
// Caller holds the lock.
func (m *Mock) telemetryLine(now time.Time) string {
	noise := math.Sin(float64(now.Sub(m.start).Milliseconds())*0.37) * m.cfg.NoiseLevel
	humi1 := m.humi + noise
	humi2 := m.humi + 0.3 - noise

	return fmt.Sprintf("%d\t%d\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.0f\t%.0f",
		now.Sub(m.start).Milliseconds(),
		b2i(m.v1), b2i(m.v2), b2i(m.pump),
		humi1, humi2,
		m.temp1, m.temp2,
		101325.0, 101300.0)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SetHumidity forces the simulated sensor-1 humidity, for tests that need
// to place the system in a specific control band.
func (m *Mock) SetHumidity(rh float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.humi = rh
	m.last = time.Now()
}

// Actuators reports the simulated actuator states.
func (m *Mock) Actuators() (valve1, valve2, pump bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v1, m.v2, m.pump
}

// Writes returns every raw command received so far.
func (m *Mock) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}
