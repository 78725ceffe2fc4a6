package sink

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidlab/humidistat/pkg/control"
	"github.com/fluidlab/humidistat/pkg/proto"
)

func testSample() proto.Sample {
	return proto.Sample{
		Time:   12.3,
		Valve1: true,
		Valve2: false,
		Pump:   true,
		Humi1:  45.23,
		Humi2:  44.81,
		Temp1:  22.14,
		Temp2:  22.31,
		Pres1:  1013.25,
		Pres2:  1013.00,
	}
}

func TestFanout_DeliversInRegistrationOrder(t *testing.T) {
	f := NewFanout()

	var order []string
	f.Add(Func(func(s proto.Sample, b control.Band) { order = append(order, "a") }))
	f.Add(Func(func(s proto.Sample, b control.Band) { order = append(order, "b") }))

	f.OnSample(testSample(), control.Fine)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestFanout_EmptyIsNoop(t *testing.T) {
	f := NewFanout()
	f.OnSample(testSample(), control.Dead) // must not panic
}

func TestTSVLogger_HeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	l := NewTSVLogger(dir)

	path, err := l.Start("chamber test run")
	require.NoError(t, err)

	l.OnSample(testSample(), control.Coarse)
	l.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 7)

	assert.Equal(t, "[HEADER]", lines[0])
	assert.Equal(t, "chamber test run", lines[1])
	assert.Equal(t, "", lines[2])
	assert.Equal(t, "[DATA]", lines[3])
	assert.Equal(t, "[s]\t[0/1]\t[0/1]\t[0/1]\t[±3 pct]\t[±0.5 °C]\t[±1 mbar]\t[±3 pct]\t[±0.5 °C]\t[±1 mbar]", lines[4])
	assert.Equal(t, "time\tvalve_1\tvalve_2\tpump\thumi_1\ttemp_1\tpres_1\thumi_2\ttemp_2\tpres_2", lines[5])
	// Row: elapsed rounds to 0 s, readings to one decimal, actuators 0/1,
	// columns grouped per sensor.
	assert.Equal(t, "0\t1\t0\t1\t45.2\t22.1\t1013.2\t44.8\t22.3\t1013.0", lines[6])
}

func TestTSVLogger_NoRecordingIsNoop(t *testing.T) {
	l := NewTSVLogger(t.TempDir())
	l.OnSample(testSample(), control.Coarse) // no panic, nothing written
	rec, _ := l.Recording()
	assert.False(t, rec)
}

func TestTSVLogger_RestartRollsFile(t *testing.T) {
	dir := t.TempDir()
	l := NewTSVLogger(dir)

	_, err := l.Start("first")
	require.NoError(t, err)
	rec, first := l.Recording()
	assert.True(t, rec)

	_, err = l.Start("second")
	require.NoError(t, err)
	rec, second := l.Recording()
	assert.True(t, rec)

	l.Stop()
	rec, _ = l.Recording()
	assert.False(t, rec)

	entries, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	require.NoError(t, err)
	if first != second {
		assert.Len(t, entries, 2)
	}
}

func TestFormatPayload(t *testing.T) {
	payload, err := FormatPayload(testSample(), control.Fine)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(payload, &doc))

	assert.Equal(t, true, doc["valve_1"])
	assert.Equal(t, false, doc["valve_2"])
	assert.Equal(t, true, doc["pump"])
	assert.Equal(t, 45.23, doc["humidity_1"])
	assert.Equal(t, "fine", doc["band"])
}

func TestFormatPayload_NaNBecomesNull(t *testing.T) {
	s := testSample()
	s.Humi1 = math.NaN()
	s.Pres1 = math.NaN()

	payload, err := FormatPayload(s, control.Coarse)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(payload, &doc))
	assert.Nil(t, doc["humidity_1"])
	assert.Nil(t, doc["pressure_1"])
	assert.Equal(t, 44.81, doc["humidity_2"])
}
