// Package control implements the three-band humidity control state
// machine and the operator-editable settings it runs on. The machine is
// pure: it sees one sample at a time and returns the actuator commands to
// issue, without touching any I/O.
package control

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fluidlab/humidistat/pkg/config"
)

// Mode selects between direct operator actuation and closed-loop control.
type Mode int32

const (
	Manual Mode = iota
	Auto
)

func (m Mode) String() string {
	if m == Auto {
		return "auto"
	}
	return "manual"
}

// Profile is a set of actuator enable flags applied together to push the
// humidity in one direction.
type Profile struct {
	Valve1 bool
	Valve2 bool
	Pump   bool
}

// Settings is the mutable controller configuration, written by the
// presentation layer and read once per acquisition cycle. Each field is
// independently meaningful, so field-level atomicity is all the loop
// needs; Snapshot returns a value copy for one cycle.
type Settings struct {
	mu sync.RWMutex

	setpoint    float64 // [% RH], clamped to [0, 100]
	incr        Profile
	decr        Profile
	actOnSensor int // 1 or 2

	finebandDHI float64 // [% RH] relative to setpoint, >= 0
	finebandDLO float64 // <= 0
	deadbandDHI float64
	deadbandDLO float64

	burstUpdatePeriod float64 // [s], >= 1
	burstIncrLength   int     // [ms], >= 500
	burstDecrLength   int     // [ms], >= 500

	mode atomic.Int32
}

// Snapshot is the value copy of Settings one control cycle runs on.
type Snapshot struct {
	Setpoint    float64
	Incr        Profile
	Decr        Profile
	ActOnSensor int

	FinebandDHI float64
	FinebandDLO float64
	DeadbandDHI float64
	DeadbandDLO float64

	BurstUpdatePeriod float64
	BurstIncrLength   int
	BurstDecrLength   int
}

// NewSettings builds Settings from the persisted configuration, applying
// the same write-boundary clamps as the setters.
func NewSettings(cc config.ControlConfig) *Settings {
	s := &Settings{}
	s.SetSetpoint(cc.Setpoint)
	s.SetProfiles(
		Profile{Valve1: cc.ActuatorsIncrRH.Valve1, Valve2: cc.ActuatorsIncrRH.Valve2, Pump: cc.ActuatorsIncrRH.Pump},
		Profile{Valve1: cc.ActuatorsDecrRH.Valve1, Valve2: cc.ActuatorsDecrRH.Valve2, Pump: cc.ActuatorsDecrRH.Pump},
	)
	if err := s.SetActOnSensor(cc.ActOnSensor); err != nil {
		s.actOnSensor = 1
	}
	s.SetBands(cc.FinebandDHI, cc.FinebandDLO, cc.DeadbandDHI, cc.DeadbandDLO)
	s.SetBurst(float64(cc.BurstUpdatePeriod), cc.BurstIncrLength, cc.BurstDecrLength)
	return s
}

// Mode returns the current control mode.
func (s *Settings) Mode() Mode {
	return Mode(s.mode.Load())
}

// SetMode flips the control mode. The acquisition loop observes the new
// mode at the start of its next cycle.
func (s *Settings) SetMode(m Mode) {
	s.mode.Store(int32(m))
}

// Setpoint returns the current setpoint in % RH.
func (s *Settings) Setpoint() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.setpoint
}

// SetSetpoint sets the target humidity, clamped to [0, 100] % RH.
func (s *Settings) SetSetpoint(rh float64) {
	if rh < 0 {
		rh = 0
	}
	if rh > 100 {
		rh = 100
	}
	s.mu.Lock()
	s.setpoint = rh
	s.mu.Unlock()
}

// SetProfiles sets the actuator profiles for increasing and decreasing
// the humidity.
func (s *Settings) SetProfiles(incr, decr Profile) {
	s.mu.Lock()
	s.incr = incr
	s.decr = decr
	s.mu.Unlock()
}

// SetActOnSensor selects which humidity sensor drives control.
func (s *Settings) SetActOnSensor(n int) error {
	if n != 1 && n != 2 {
		return fmt.Errorf("act_on_sensor must be 1 or 2, got %d", n)
	}
	s.mu.Lock()
	s.actOnSensor = n
	s.mu.Unlock()
	return nil
}

// SetBands sets the fine-band and dead-band bounds relative to the
// setpoint. Bounds are used as given: dead-band containment inside the
// fine-band is the operator's responsibility and is deliberately not
// enforced here.
func (s *Settings) SetBands(fineDHI, fineDLO, deadDHI, deadDLO float64) {
	s.mu.Lock()
	s.finebandDHI = fineDHI
	s.finebandDLO = fineDLO
	s.deadbandDHI = deadDHI
	s.deadbandDLO = deadDLO
	s.mu.Unlock()
}

// SetBurst sets the burst timing parameters, clamping the period to >= 1 s
// and the lengths to >= 500 ms.
func (s *Settings) SetBurst(periodS float64, incrMs, decrMs int) {
	if periodS < 1 {
		periodS = 1
	}
	if incrMs < 500 {
		incrMs = 500
	}
	if decrMs < 500 {
		decrMs = 500
	}
	s.mu.Lock()
	s.burstUpdatePeriod = periodS
	s.burstIncrLength = incrMs
	s.burstDecrLength = decrMs
	s.mu.Unlock()
}

// Snapshot returns a value copy of the settings for one control cycle.
func (s *Settings) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Setpoint:          s.setpoint,
		Incr:              s.incr,
		Decr:              s.decr,
		ActOnSensor:       s.actOnSensor,
		FinebandDHI:       s.finebandDHI,
		FinebandDLO:       s.finebandDLO,
		DeadbandDHI:       s.deadbandDHI,
		DeadbandDLO:       s.deadbandDLO,
		BurstUpdatePeriod: s.burstUpdatePeriod,
		BurstIncrLength:   s.burstIncrLength,
		BurstDecrLength:   s.burstDecrLength,
	}
}

// ControlConfig renders the settings back into the persisted form.
func (s *Settings) ControlConfig() config.ControlConfig {
	snap := s.Snapshot()
	return config.ControlConfig{
		Setpoint:          snap.Setpoint,
		ActuatorsIncrRH:   config.Profile{Valve1: snap.Incr.Valve1, Valve2: snap.Incr.Valve2, Pump: snap.Incr.Pump},
		ActuatorsDecrRH:   config.Profile{Valve1: snap.Decr.Valve1, Valve2: snap.Decr.Valve2, Pump: snap.Decr.Pump},
		ActOnSensor:       snap.ActOnSensor,
		FinebandDHI:       snap.FinebandDHI,
		FinebandDLO:       snap.FinebandDLO,
		DeadbandDHI:       snap.DeadbandDHI,
		DeadbandDLO:       snap.DeadbandDLO,
		BurstUpdatePeriod: int(snap.BurstUpdatePeriod),
		BurstIncrLength:   snap.BurstIncrLength,
		BurstDecrLength:   snap.BurstDecrLength,
	}
}
