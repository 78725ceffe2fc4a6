// Package proto implements the text protocol spoken by the humidistat MCU:
// tab-separated telemetry lines in, short ASCII actuator commands out.
package proto

import (
	"fmt"
	"strconv"
	"strings"
)

// NumFields is the field count of one telemetry line.
const NumFields = 10

// Sample holds the readings of one acquisition cycle. Time is assigned by
// the acquisition loop from its own monotonic clock; the device clock is
// informational only. Sensor readings may be NaN when a BME280 is absent
// or misbehaving.
type Sample struct {
	Time   float64 // [s]
	Valve1 bool
	Valve2 bool
	Pump   bool
	Humi1  float64 // [% RH]
	Humi2  float64 // [% RH]
	Temp1  float64 // [°C]
	Temp2  float64 // [°C]
	Pres1  float64 // [mbar]
	Pres2  float64 // [mbar]
}

// ParseError reports a malformed telemetry line. It is a routine condition
// on a noisy serial link and is retried by the caller.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Line, e.Reason)
}

// DecodeSample parses one telemetry line into a Sample. The wire order is
//
//	time_ms  valve_1  valve_2  pump  humi_1  humi_2  temp_1  temp_2  pres_1  pres_2
//
// with time in ms and pressures in Pa. "nan" is a valid token for any
// sensor field. A line with the wrong field count or a token that does not
// parse as a float yields a *ParseError and no partial Sample.
func DecodeSample(line string) (Sample, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != NumFields {
		return Sample{}, &ParseError{Line: line, Reason: fmt.Sprintf("expected %d fields, got %d", NumFields, len(fields))}
	}

	vals := make([]float64, NumFields)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Sample{}, &ParseError{Line: line, Reason: fmt.Sprintf("field %d: %v", i, err)}
		}
		vals[i] = v
	}

	return Sample{
		Time:   vals[0] / 1000, // [ms] to [s]
		Valve1: vals[1] != 0,
		Valve2: vals[2] != 0,
		Pump:   vals[3] != 0,
		Humi1:  vals[4],
		Humi2:  vals[5],
		Temp1:  vals[6],
		Temp2:  vals[7],
		Pres1:  vals[8] / 100, // [Pa] to [mbar]
		Pres2:  vals[9] / 100, // [Pa] to [mbar]
	}, nil
}

// Actuator identifies one of the three actuators on the apparatus.
type Actuator int

const (
	Valve1 Actuator = iota + 1
	Valve2
	Pump
)

func (a Actuator) String() string {
	switch a {
	case Valve1:
		return "valve_1"
	case Valve2:
		return "valve_2"
	case Pump:
		return "pump"
	}
	return "unknown"
}

func bit(b bool) byte {
	if b {
		return '1'
	}
	return '0'
}

// EncodeSet produces the command switching a single actuator, e.g. "v11"
// to open valve 1 or "p0" to stop the pump.
func EncodeSet(a Actuator, on bool) string {
	switch a {
	case Valve1:
		return "v1" + string(bit(on))
	case Valve2:
		return "v2" + string(bit(on))
	case Pump:
		return "p" + string(bit(on))
	}
	return ""
}

// EncodeSetAll produces the combined command setting all three actuators
// at once, e.g. "a101" to open valve 1, close valve 2 and run the pump.
func EncodeSetAll(valve1, valve2, pump bool) string {
	return "a" + string(bit(valve1)) + string(bit(valve2)) + string(bit(pump))
}

// EncodeBurst produces the burst command: the device opens the flagged
// actuators for durationMs milliseconds and closes them again on its own,
// e.g. "b101500" for valve 1 plus pump during 500 ms.
func EncodeBurst(valve1, valve2, pump bool, durationMs int) string {
	return "b" + string(bit(valve1)) + string(bit(valve2)) + string(bit(pump)) + strconv.Itoa(durationMs)
}

// EncodeReconnectSensors produces the command asking the MCU to
// reinitialise its BME280 sensors.
func EncodeReconnectSensors() string {
	return "r"
}

// EncodePoll produces the telemetry request used in request/response
// transport mode.
func EncodePoll() string {
	return "?"
}

// EncodeIdentify produces the identity query answered with the device
// identity string.
func EncodeIdentify() string {
	return "id?"
}
