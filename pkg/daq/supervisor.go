// Package daq runs the acquisition-and-control loop: once per interval it
// pulls a telemetry line from the device session, decodes it, feeds the
// control state machine, issues the resulting actuator commands, and hands
// the sample to the sinks. The Supervisor wraps the loop with lifecycle
// management and surfaces the lost-connection signal.
package daq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluidlab/humidistat/pkg/control"
	"github.com/fluidlab/humidistat/pkg/device"
	"github.com/fluidlab/humidistat/pkg/proto"
	"github.com/fluidlab/humidistat/pkg/sink"
)

// Config holds the acquisition loop parameters.
type Config struct {
	Interval    time.Duration // tick period, >= 1 s for BME280 sensors
	ReadTimeout time.Duration // bound on one blocking line read
	PollMode    bool          // request each line with "?" instead of free-running
	MaxFailures int           // consecutive failures before the link counts as lost
}

// State is the lifecycle state of the acquisition loop.
type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "idle"
}

// Event is a signal published by the supervisor.
type Event int

const (
	// ConnectionLost: the consecutive-failure threshold was reached and
	// the loop stopped. Emitted at most once per Start. Reconnection is
	// an explicit operator action, never automatic.
	ConnectionLost Event = iota
)

// publishQueueSize bounds the sample queue toward the sinks. A slow sink
// drops samples instead of stalling acquisition.
const publishQueueSize = 64

type publication struct {
	sample proto.Sample
	band   control.Band
}

// Supervisor owns the acquisition loop goroutine and the sink publisher
// goroutine, and exposes the operator command surface.
type Supervisor struct {
	cfg       Config
	session   device.Session
	commander *device.Commander
	settings  *control.Settings
	machine   *control.Machine
	out       sink.Sink

	pub    chan publication
	events chan Event

	state  atomic.Int32
	wg     sync.WaitGroup
	cancel context.CancelFunc

	stopOnce  sync.Once
	closeOnce sync.Once

	epoch time.Time

	mu          sync.Mutex
	latest      proto.Sample
	latestBand  control.Band
	haveSample  bool
	rate        float64
	lastSuccess time.Time
	failures    int
	lost        bool
}

// New creates a supervisor around an already-connected session.
func New(cfg Config, session device.Session, settings *control.Settings, out sink.Sink) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = device.DefaultReadTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	return &Supervisor{
		cfg:       cfg,
		session:   session,
		commander: device.NewCommander(session),
		settings:  settings,
		machine:   control.NewMachine(),
		out:       out,
		pub:       make(chan publication, publishQueueSize),
		events:    make(chan Event, 1),
	}
}

// Start launches the acquisition loop. May be called once.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.epoch = time.Now()
	s.state.Store(int32(Running))

	s.wg.Add(2)
	go s.runLoop(ctx)
	go s.runPublisher()
}

// Stop requests a cooperative stop and waits for the loop to finish. The
// in-flight read is allowed to time out naturally. Idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// Close stops the loop and releases the device session, exactly once even
// under concurrent shutdown requests.
func (s *Supervisor) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.Stop()
		err = s.session.Close()
	})
	return err
}

// Wait blocks until the loop has stopped.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Events returns the supervisor's event channel.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// State returns the loop lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Running reports whether the loop is actively acquiring.
func (s *Supervisor) Running() bool {
	return s.State() == Running
}

// Connected reports whether the device session holds an open link.
func (s *Supervisor) Connected() bool {
	return s.session.IsConnected()
}

// Settings returns the shared controller settings.
func (s *Supervisor) Settings() *control.Settings {
	return s.settings
}

// Latest returns the most recent sample and its control band. The third
// return is false until the first successful cycle.
func (s *Supervisor) Latest() (proto.Sample, control.Band, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latestBand, s.haveSample
}

// Rate returns the smoothed acquisition rate in samples per second.
func (s *Supervisor) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// SetMode flips the control mode; the loop observes it at the start of
// its next cycle. Switching Auto to Manual closes all actuators on that
// cycle as a fail-safe.
func (s *Supervisor) SetMode(m control.Mode) {
	s.settings.SetMode(m)
}

// Mode returns the current control mode.
func (s *Supervisor) Mode() control.Mode {
	return s.settings.Mode()
}

// SetValve1 directly commands valve 1 (manual operation).
func (s *Supervisor) SetValve1(on bool) error { return s.commander.SetValve1(on) }

// SetValve2 directly commands valve 2 (manual operation).
func (s *Supervisor) SetValve2(on bool) error { return s.commander.SetValve2(on) }

// SetPump directly commands the pump (manual operation).
func (s *Supervisor) SetPump(on bool) error { return s.commander.SetPump(on) }

// SetActuators directly commands all three actuators at once.
func (s *Supervisor) SetActuators(valve1, valve2, pump bool) error {
	return s.commander.SetAll(valve1, valve2, pump)
}

// BurstIncrease fires one humidify burst using the configured increase
// profile and burst length.
func (s *Supervisor) BurstIncrease() error {
	snap := s.settings.Snapshot()
	return s.commander.Burst(snap.Incr.Valve1, snap.Incr.Valve2, snap.Incr.Pump, snap.BurstIncrLength)
}

// BurstDecrease fires one dry-out burst using the configured decrease
// profile and burst length.
func (s *Supervisor) BurstDecrease() error {
	snap := s.settings.Snapshot()
	return s.commander.Burst(snap.Decr.Valve1, snap.Decr.Valve2, snap.Decr.Pump, snap.BurstDecrLength)
}

// ReconnectSensors asks the MCU to reinitialise its BME280 sensors.
func (s *Supervisor) ReconnectSensors() error {
	return s.commander.ReconnectSensors()
}
