package daq

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fluidlab/humidistat/pkg/control"
	"github.com/fluidlab/humidistat/pkg/device"
	"github.com/fluidlab/humidistat/pkg/proto"
)

// rateSmoothing is the EMA weight of the newest rate observation.
const rateSmoothing = 0.2

// runLoop is the acquisition loop goroutine. One tick per interval; a
// stop request is honored at the top of the next tick.
func (s *Supervisor) runLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.pub)
	defer s.state.Store(int32(Stopped))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	logrus.Infof("acquisition loop started, interval %v", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			s.state.Store(int32(Stopping))
			logrus.Info("acquisition loop stopping")
			return
		case <-ticker.C:
		}

		if lost := s.tick(); lost {
			s.state.Store(int32(Stopping))
			s.signalConnectionLost()
			return
		}
	}
}

// runPublisher drains the publication queue into the sinks, keeping slow
// consumers off the acquisition goroutine.
func (s *Supervisor) runPublisher() {
	defer s.wg.Done()
	for p := range s.pub {
		s.out.OnSample(p.sample, p.band)
	}
}

// tick runs one acquisition cycle. Returns true when the failure
// threshold was reached and the loop must stop.
func (s *Supervisor) tick() (lost bool) {
	if s.cfg.PollMode {
		if err := s.commander.Poll(); err != nil {
			logrus.Warnf("telemetry poll failed: %v", err)
			return s.recordFailure()
		}
	}

	line, err := s.session.ReadLine(s.cfg.ReadTimeout)
	if err != nil {
		if errors.Is(err, device.ErrTimeout) {
			logrus.Debug("telemetry read timed out")
		} else {
			logrus.Warnf("telemetry read failed: %v", err)
		}
		return s.recordFailure()
	}

	sample, err := proto.DecodeSample(line)
	if err != nil {
		logrus.Debugf("telemetry discarded: %v", err)
		return s.recordFailure()
	}

	// The device clock drifts and resets; local monotonic time is the
	// source of truth for logging and plotting.
	now := time.Since(s.epoch).Seconds()
	sample.Time = now

	s.recordSuccess()

	mode := s.settings.Mode()
	snap := s.settings.Snapshot()
	cmds := s.machine.Step(sample, snap, mode, now)
	band := s.machine.Band()

	// Publish before issuing commands: a failing actuator write may stop
	// the loop, and this sample must still reach the sinks.
	select {
	case s.pub <- publication{sample: sample, band: band}:
	default:
		logrus.Warn("sink queue full, dropping sample")
	}

	s.mu.Lock()
	s.latest = sample
	s.latestBand = band
	s.haveSample = true
	s.mu.Unlock()

	for _, cmd := range cmds {
		if err := s.apply(cmd); err != nil {
			logrus.Warnf("actuator command failed: %v", err)
			if s.recordFailure() {
				return true
			}
		}
	}

	return false
}

// apply issues one machine command through the de-duplicating writer.
func (s *Supervisor) apply(cmd control.Command) error {
	switch cmd.Kind {
	case control.CmdBurst:
		return s.commander.Burst(cmd.Valve1, cmd.Valve2, cmd.Pump, cmd.DurationMs)
	default:
		return s.commander.SetAll(cmd.Valve1, cmd.Valve2, cmd.Pump)
	}
}

// recordFailure bumps the consecutive-failure counter and reports whether
// the link now counts as lost.
func (s *Supervisor) recordFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	if s.failures >= s.cfg.MaxFailures && !s.lost {
		s.lost = true
		logrus.Errorf("connection lost after %d consecutive failures", s.failures)
		return true
	}
	return false
}

// recordSuccess resets the failure counter and folds this cycle into the
// smoothed acquisition rate.
func (s *Supervisor) recordSuccess() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = 0
	if !s.lastSuccess.IsZero() {
		if dt := now.Sub(s.lastSuccess).Seconds(); dt > 0 {
			inst := 1 / dt
			if s.rate == 0 {
				s.rate = inst
			} else {
				s.rate = rateSmoothing*inst + (1-rateSmoothing)*s.rate
			}
		}
	}
	s.lastSuccess = now
}

// signalConnectionLost emits the ConnectionLost event, at most once.
func (s *Supervisor) signalConnectionLost() {
	select {
	case s.events <- ConnectionLost:
	default:
	}
}
