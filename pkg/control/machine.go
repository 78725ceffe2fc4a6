package control

import (
	"github.com/fluidlab/humidistat/pkg/proto"
)

// Band classifies how far the measured humidity is from the setpoint.
type Band int

const (
	// Coarse: far from setpoint, actuators run continuously.
	Coarse Band = iota
	// Fine: close to setpoint, actuators are pulsed periodically.
	Fine
	// Dead: close enough, no actuation.
	Dead
)

func (b Band) String() string {
	switch b {
	case Fine:
		return "fine"
	case Dead:
		return "dead"
	}
	return "coarse"
}

// CommandKind discriminates the outbound command variants.
type CommandKind int

const (
	CmdSetAll CommandKind = iota
	CmdBurst
)

// Command is one actuator command the machine wants issued this cycle.
type Command struct {
	Kind       CommandKind
	Valve1     bool
	Valve2     bool
	Pump       bool
	DurationMs int // burst only
}

func setAll(p Profile) Command {
	return Command{Kind: CmdSetAll, Valve1: p.Valve1, Valve2: p.Valve2, Pump: p.Pump}
}

func allOff() Command {
	return Command{Kind: CmdSetAll}
}

// classify places a humidity error in a control band. All bounds are open
// intervals: a value exactly on a bound falls through to the next wider,
// more aggressive band. The dead-band is checked first; a dead-band set
// wider than the fine-band therefore wins, matching the original
// controller's short-circuit order.
func classify(err float64, cfg Snapshot) Band {
	switch {
	case err > cfg.DeadbandDLO && err < cfg.DeadbandDHI:
		return Dead
	case err > cfg.FinebandDLO && err < cfg.FinebandDHI:
		return Fine
	default:
		// NaN errors also land here: every comparison above is false for
		// NaN, so a dead sensor drives the machine to Coarse.
		return Coarse
	}
}

// Machine is the per-cycle control state machine. It is owned by the
// acquisition loop goroutine and never shares its mutable state.
type Machine struct {
	band       Band
	prevBand   Band
	prevMode   Mode
	burstStart float64 // monotonic [s], reset on entering Fine
}

// NewMachine returns a machine starting in Manual mode, Coarse band.
func NewMachine() *Machine {
	return &Machine{band: Coarse, prevBand: Coarse, prevMode: Manual}
}

// Band returns the band computed by the latest Step.
func (m *Machine) Band() Band {
	return m.band
}

// Step runs one control cycle: classify the sample into a band and decide
// which commands to issue. now is a monotonic clock reading in seconds.
// The returned commands go through the de-duplicating writer, so
// re-asserting an unchanged state every cycle stays off the wire.
func (m *Machine) Step(s proto.Sample, cfg Snapshot, mode Mode, now float64) []Command {
	humi := s.Humi1
	if cfg.ActOnSensor == 2 {
		humi = s.Humi2
	}
	humiErr := humi - cfg.Setpoint
	band := classify(humiErr, cfg)

	var cmds []Command

	switch mode {
	case Auto:
		switch band {
		case Coarse:
			// Continuous assertion of the steady-state profile, not
			// edge-triggered.
			if humi < cfg.Setpoint {
				cmds = append(cmds, setAll(cfg.Incr))
			} else {
				cmds = append(cmds, setAll(cfg.Decr))
			}

		case Fine:
			if band != m.prevBand {
				// Restart the burst timer as soon as we enter the
				// fine-band, and make sure everything is closed before
				// burst timing begins.
				m.burstStart = now
				cmds = append(cmds, allOff())
			}
			if now-m.burstStart > cfg.BurstUpdatePeriod {
				if humi < cfg.Setpoint {
					p := cfg.Incr
					cmds = append(cmds, Command{Kind: CmdBurst, Valve1: p.Valve1, Valve2: p.Valve2, Pump: p.Pump, DurationMs: cfg.BurstIncrLength})
				} else {
					p := cfg.Decr
					cmds = append(cmds, Command{Kind: CmdBurst, Valve1: p.Valve1, Valve2: p.Valve2, Pump: p.Pump, DurationMs: cfg.BurstDecrLength})
				}
				m.burstStart = now
			}

		case Dead:
			cmds = append(cmds, allOff())
		}

	case Manual:
		// No band-driven commands; the operator drives the actuators
		// directly. Leaving Auto closes everything exactly once so no
		// actuator keeps running unattended.
		if m.prevMode == Auto {
			cmds = append(cmds, allOff())
		}
	}

	m.band = band
	m.prevBand = band
	m.prevMode = mode
	return cmds
}
