package web

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/fluidlab/humidistat/pkg/control"
	"github.com/fluidlab/humidistat/pkg/sink"
)

// statusResponse is the GET /api/status document. Sample is the same JSON
// document the MQTT publisher emits, or null before the first cycle.
type statusResponse struct {
	Connected     bool            `json:"connected"`
	State         string          `json:"state"`
	Mode          string          `json:"mode"`
	Setpoint      float64         `json:"setpoint"`
	RateHz        float64         `json:"rate_hz"`
	Recording     bool            `json:"recording"`
	RecordingFile string          `json:"recording_file,omitempty"`
	Sample        json.RawMessage `json:"sample"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Connected: s.sup.Connected(),
		State:     s.sup.State().String(),
		Mode:      s.sup.Mode().String(),
		Setpoint:  s.sup.Settings().Setpoint(),
		RateHz:    s.sup.Rate(),
	}

	if s.recorder != nil {
		resp.Recording, resp.RecordingFile = s.recorder.Recording()
	}

	if sample, band, ok := s.sup.Latest(); ok {
		payload, err := sink.FormatPayload(sample, band)
		if err != nil {
			logrus.Warnf("status payload: %v", err)
		} else {
			resp.Sample = payload
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Setpoint float64 `json:"setpoint"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	s.sup.Settings().SetSetpoint(req.Setpoint)
	writeJSON(w, http.StatusOK, map[string]float64{"setpoint": s.sup.Settings().Setpoint()})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	var mode control.Mode
	switch req.Mode {
	case "auto":
		mode = control.Auto
	case "manual":
		mode = control.Manual
	default:
		writeError(w, http.StatusBadRequest, "mode must be \"auto\" or \"manual\"")
		return
	}

	s.sup.SetMode(mode)
	writeJSON(w, http.StatusOK, map[string]string{"mode": mode.String()})
}

// requireManual refuses direct actuation while closed-loop control owns
// the actuators.
func (s *Server) requireManual(w http.ResponseWriter) bool {
	if s.sup.Mode() == control.Auto {
		writeError(w, http.StatusConflict, "controller is in auto mode")
		return false
	}
	return true
}

func (s *Server) handleActuators(w http.ResponseWriter, r *http.Request) {
	if !s.requireManual(w) {
		return
	}

	// Absent fields leave the corresponding actuator untouched.
	var req struct {
		Valve1 *bool `json:"valve_1"`
		Valve2 *bool `json:"valve_2"`
		Pump   *bool `json:"pump"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Valve1 == nil && req.Valve2 == nil && req.Pump == nil {
		writeError(w, http.StatusBadRequest, "no actuators given")
		return
	}

	var err error
	switch {
	case req.Valve1 != nil && req.Valve2 != nil && req.Pump != nil:
		err = s.sup.SetActuators(*req.Valve1, *req.Valve2, *req.Pump)
	default:
		if req.Valve1 != nil {
			err = s.sup.SetValve1(*req.Valve1)
		}
		if err == nil && req.Valve2 != nil {
			err = s.sup.SetValve2(*req.Valve2)
		}
		if err == nil && req.Pump != nil {
			err = s.sup.SetPump(*req.Pump)
		}
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "device write failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBurstIncrease(w http.ResponseWriter, r *http.Request) {
	if !s.requireManual(w) {
		return
	}
	if err := s.sup.BurstIncrease(); err != nil {
		writeError(w, http.StatusBadGateway, "device write failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBurstDecrease(w http.ResponseWriter, r *http.Request) {
	if !s.requireManual(w) {
		return
	}
	if err := s.sup.BurstDecrease(); err != nil {
		writeError(w, http.StatusBadGateway, "device write failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.ReconnectSensors(); err != nil {
		writeError(w, http.StatusBadGateway, "device write failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Settings().ControlConfig())
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	// Decode over the current values so a partial document only changes
	// the fields it names.
	cc := s.sup.Settings().ControlConfig()
	if !readJSON(w, r, &cc) {
		return
	}

	settings := s.sup.Settings()
	if err := settings.SetActOnSensor(cc.ActOnSensor); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings.SetSetpoint(cc.Setpoint)
	settings.SetProfiles(
		control.Profile{Valve1: cc.ActuatorsIncrRH.Valve1, Valve2: cc.ActuatorsIncrRH.Valve2, Pump: cc.ActuatorsIncrRH.Pump},
		control.Profile{Valve1: cc.ActuatorsDecrRH.Valve1, Valve2: cc.ActuatorsDecrRH.Valve2, Pump: cc.ActuatorsDecrRH.Pump},
	)
	settings.SetBands(cc.FinebandDHI, cc.FinebandDLO, cc.DeadbandDHI, cc.DeadbandDLO)
	settings.SetBurst(float64(cc.BurstUpdatePeriod), cc.BurstIncrLength, cc.BurstDecrLength)

	writeJSON(w, http.StatusOK, settings.ControlConfig())
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "file recording is not configured")
		return
	}

	var req struct {
		Enabled bool   `json:"enabled"`
		Comment string `json:"comment"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	if !req.Enabled {
		s.recorder.Stop()
		writeJSON(w, http.StatusOK, map[string]interface{}{"recording": false})
		return
	}

	path, err := s.recorder.Start(req.Comment)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "start recording: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recording": true, "file": path})
}
