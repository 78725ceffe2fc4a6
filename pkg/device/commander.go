package device

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fluidlab/humidistat/pkg/proto"
)

// Commander is the sole writer of actuator commands. It tracks the
// last-sent state of each actuator and suppresses a command whose desired
// state matches it, so the control loop can re-assert its target every
// cycle without flooding the wire. "Last-sent" means written, not
// device-confirmed: the protocol has no acknowledgement.
type Commander struct {
	session Session

	mu sync.Mutex
	// Tracked steady state per actuator; known becomes true after the
	// first write touching that actuator.
	v1, v2, pump          bool
	v1Known, v2Known, pKnown bool
}

// NewCommander wraps a session with de-duplicating actuator writes.
func NewCommander(session Session) *Commander {
	return &Commander{session: session}
}

// SetValve1 commands valve 1, suppressing a repeat of the last-sent state.
func (c *Commander) SetValve1(on bool) error {
	return c.setOne(proto.Valve1, on)
}

// SetValve2 commands valve 2, suppressing a repeat of the last-sent state.
func (c *Commander) SetValve2(on bool) error {
	return c.setOne(proto.Valve2, on)
}

// SetPump commands the pump, suppressing a repeat of the last-sent state.
func (c *Commander) SetPump(on bool) error {
	return c.setOne(proto.Pump, on)
}

func (c *Commander) setOne(a proto.Actuator, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch a {
	case proto.Valve1:
		if c.v1Known && c.v1 == on {
			return nil
		}
	case proto.Valve2:
		if c.v2Known && c.v2 == on {
			return nil
		}
	case proto.Pump:
		if c.pKnown && c.pump == on {
			return nil
		}
	}

	if err := c.session.Write(proto.EncodeSet(a, on)); err != nil {
		return err
	}

	switch a {
	case proto.Valve1:
		c.v1, c.v1Known = on, true
	case proto.Valve2:
		c.v2, c.v2Known = on, true
	case proto.Pump:
		c.pump, c.pKnown = on, true
	}
	return nil
}

// SetAll commands all three actuators at once. The write is suppressed
// only when the whole tri-state matches the last-sent one.
func (c *Commander) SetAll(valve1, valve2, pump bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.v1Known && c.v2Known && c.pKnown &&
		c.v1 == valve1 && c.v2 == valve2 && c.pump == pump {
		return nil
	}

	if err := c.session.Write(proto.EncodeSetAll(valve1, valve2, pump)); err != nil {
		return err
	}

	c.v1, c.v2, c.pump = valve1, valve2, pump
	c.v1Known, c.v2Known, c.pKnown = true, true, true
	return nil
}

// Burst commands a timed actuator pulse. Bursts are never de-duplicated,
// and the device closes every actuator on its own when the duration
// elapses, so the tracked steady state becomes all-off: a follow-up "on"
// command must reach the wire even if that actuator was on before the
// burst.
func (c *Commander) Burst(valve1, valve2, pump bool, durationMs int) error {
	if err := c.session.Write(proto.EncodeBurst(valve1, valve2, pump, durationMs)); err != nil {
		return err
	}
	c.mu.Lock()
	c.v1, c.v2, c.pump = false, false, false
	c.v1Known, c.v2Known, c.pKnown = true, true, true
	c.mu.Unlock()
	return nil
}

// ReconnectSensors asks the MCU to reinitialise its BME280 sensors. The
// tracked actuator state is invalidated afterwards, since a reinitialising
// device is not trusted to have kept its pins.
func (c *Commander) ReconnectSensors() error {
	if err := c.session.Write(proto.EncodeReconnectSensors()); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Poll requests one telemetry line in request/response transport mode.
func (c *Commander) Poll() error {
	return c.session.Write(proto.EncodePoll())
}

// Invalidate forgets the tracked actuator state, forcing the next command
// of each actuator onto the wire. Called after events that may have
// changed device state behind our back, such as a sensor reconnect.
func (c *Commander) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v1Known, c.v2Known, c.pKnown = false, false, false
	logrus.Debug("commander state invalidated")
}
