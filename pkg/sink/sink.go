// Package sink delivers acquired samples to their consumers: the recorded
// TSV log, the MQTT telemetry topic, and anything else registered on the
// fanout. Sinks run on the supervisor's publisher goroutine, never on the
// acquisition loop itself.
package sink

import (
	"sync"

	"github.com/fluidlab/humidistat/pkg/control"
	"github.com/fluidlab/humidistat/pkg/proto"
)

// Sink consumes one sample per successful acquisition cycle. OnSample must
// return quickly; anything slow belongs behind its own buffer.
type Sink interface {
	OnSample(s proto.Sample, band control.Band)
}

// Fanout distributes each sample to every registered sink in registration
// order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewFanout returns an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a sink. Safe to call while samples are flowing.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

// OnSample implements Sink.
func (f *Fanout) OnSample(s proto.Sample, band control.Band) {
	f.mu.RLock()
	sinks := make([]Sink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	for _, sk := range sinks {
		sk.OnSample(s, band)
	}
}

// Func adapts a function to the Sink interface.
type Func func(s proto.Sample, band control.Band)

// OnSample implements Sink.
func (fn Func) OnSample(s proto.Sample, band control.Band) {
	fn(s, band)
}
