package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidlab/humidistat/pkg/config"
	"github.com/fluidlab/humidistat/pkg/control"
	"github.com/fluidlab/humidistat/pkg/daq"
	"github.com/fluidlab/humidistat/pkg/device"
	"github.com/fluidlab/humidistat/pkg/sink"
)

func newTestServer(t *testing.T, recorder *sink.TSVLogger) (*Server, *device.Mock, *daq.Supervisor) {
	t.Helper()

	mock := device.NewMock(&config.MockConfig{AmbientRH: 35, IncrRate: 1.5, DecrRate: 2.0})
	require.NoError(t, mock.Connect())

	settings := control.NewSettings(config.Default().Control)
	sup := daq.New(daq.Config{
		Interval:    10 * time.Millisecond,
		ReadTimeout: 50 * time.Millisecond,
		PollMode:    true,
	}, mock, settings, sink.NewFanout())

	return NewServer(sup, recorder), mock, sup
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

func TestStatus_BeforeFirstSample(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeBody(t, rec)
	assert.Equal(t, true, doc["connected"])
	assert.Equal(t, "manual", doc["mode"])
	assert.Equal(t, "idle", doc["state"])
	assert.Equal(t, 50.0, doc["setpoint"])
	assert.Nil(t, doc["sample"])
	assert.Equal(t, false, doc["recording"])
}

func TestSetpoint_ClampedAtWriteBoundary(t *testing.T) {
	srv, _, sup := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/api/setpoint", `{"setpoint": 150}`)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeBody(t, rec)
	assert.Equal(t, 100.0, doc["setpoint"])
	assert.Equal(t, 100.0, sup.Settings().Setpoint())
}

func TestSetpoint_RejectsMalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/api/setpoint", `{"setpoint": "high"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMode_SwitchAndValidate(t *testing.T) {
	srv, _, sup := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/api/mode", `{"mode": "auto"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, control.Auto, sup.Mode())

	rec = doJSON(t, srv.Handler(), http.MethodPut, "/api/mode", `{"mode": "manual"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, control.Manual, sup.Mode())

	rec = doJSON(t, srv.Handler(), http.MethodPut, "/api/mode", `{"mode": "hold"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActuators_ManualDrivesDevice(t *testing.T) {
	srv, mock, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/api/actuators",
		`{"valve_1": true, "valve_2": false, "pump": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	v1, v2, p := mock.Actuators()
	assert.True(t, v1)
	assert.False(t, v2)
	assert.True(t, p)
	assert.Equal(t, []string{"a101"}, mock.Writes())
}

func TestActuators_PartialUpdate(t *testing.T) {
	srv, mock, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/api/actuators", `{"pump": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, _, p := mock.Actuators()
	assert.True(t, p)
	assert.Equal(t, []string{"p1"}, mock.Writes())
}

func TestActuators_EmptyBodyRejected(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/api/actuators", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActuators_RefusedInAutoMode(t *testing.T) {
	srv, mock, sup := newTestServer(t, nil)
	sup.SetMode(control.Auto)

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/api/actuators", `{"pump": true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, mock.Writes())
}

func TestBursts_ManualOnly(t *testing.T) {
	srv, mock, sup := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/burst/increase", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/burst/decrease", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"b101500", "b0111000"}, mock.Writes())

	sup.SetMode(control.Auto)
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/burst/increase", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReconnect_AllowedInAnyMode(t *testing.T) {
	srv, mock, sup := newTestServer(t, nil)
	sup.SetMode(control.Auto)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/reconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"r"}, mock.Writes())
}

func TestConfig_GetReturnsCurrentSchema(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeBody(t, rec)
	assert.Equal(t, 50.0, doc["setpoint"])
	assert.Equal(t, 1.0, doc["act_on_sensor"])
	assert.Equal(t, 2.0, doc["fineband_dhi"])
	incr, ok := doc["actuators_incr_rh"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, incr["valve_1"])
	assert.Equal(t, true, incr["pump"])
}

func TestConfig_PartialPutChangesOnlyNamedFields(t *testing.T) {
	srv, _, sup := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/api/config", `{"setpoint": 62.5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	cc := sup.Settings().ControlConfig()
	assert.Equal(t, 62.5, cc.Setpoint)
	assert.Equal(t, 1, cc.ActOnSensor)
	assert.Equal(t, 10, cc.BurstUpdatePeriod)
	assert.Equal(t, 500, cc.BurstIncrLength)
}

func TestConfig_InvalidSensorRejected(t *testing.T) {
	srv, _, sup := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/api/config", `{"act_on_sensor": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, sup.Settings().ControlConfig().ActOnSensor)
}

func TestRecording_ToggleLifecycle(t *testing.T) {
	recorder := sink.NewTSVLogger(t.TempDir())
	srv, _, _ := newTestServer(t, recorder)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/recording",
		`{"enabled": true, "comment": "calibration run"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeBody(t, rec)
	assert.Equal(t, true, doc["recording"])
	assert.NotEmpty(t, doc["file"])

	on, _ := recorder.Recording()
	assert.True(t, on)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/recording", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	on, _ = recorder.Recording()
	assert.False(t, on)
}

func TestRecording_UnconfiguredReturns503(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/recording", `{"enabled": true}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
