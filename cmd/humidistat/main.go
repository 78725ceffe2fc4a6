package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koding/multiconfig"
	"github.com/sirupsen/logrus"

	"github.com/fluidlab/humidistat/pkg/config"
	"github.com/fluidlab/humidistat/pkg/control"
	"github.com/fluidlab/humidistat/pkg/daq"
	"github.com/fluidlab/humidistat/pkg/device"
	"github.com/fluidlab/humidistat/pkg/sink"
	"github.com/fluidlab/humidistat/pkg/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()
	if err := Run(ctx); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func Run(ctx context.Context) error {
	cli := &config.CliConfig{}
	if err := multiconfig.New().Load(cli); err != nil {
		return err
	}
	lvl, err := logrus.ParseLevel(cli.LogLevel)
	if err != nil {
		return fmt.Errorf("error setting logrus loglevel: %w", err)
	}
	logrus.SetLevel(lvl)

	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}
	if cli.Port != "" {
		cfg.Serial.Port = cli.Port
	}
	if cli.WebAddr != "" {
		cfg.Web.Addr = cli.WebAddr
	}

	session, err := openSession(cli, cfg)
	if err != nil {
		return err
	}

	settings := control.NewSettings(cfg.Control)
	fanout := sink.NewFanout()

	recorder := sink.NewTSVLogger(cfg.Log.Dir)
	fanout.Add(recorder)

	if cfg.MQTT.Broker != "" {
		mqtt, err := sink.NewMQTTPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic)
		if err != nil {
			logrus.Warnf("mqtt disabled: %v", err)
		} else {
			defer mqtt.Close()
			fanout.Add(mqtt)
		}
	}

	sup := daq.New(daq.Config{
		Interval:    time.Duration(cfg.DAQ.IntervalMs) * time.Millisecond,
		ReadTimeout: time.Duration(cfg.DAQ.ReadTimeoutMs) * time.Millisecond,
		PollMode:    cfg.DAQ.PollMode,
		MaxFailures: cfg.DAQ.MaxFailures,
	}, session, settings, fanout)
	defer sup.Close()

	var srv *web.Server
	if cfg.Web.Addr != "" {
		srv = web.NewServer(sup, recorder)
		go func() {
			if err := srv.Run(cfg.Web.Addr); err != nil {
				logrus.Errorf("http api: %v", err)
			}
		}()
	}

	sup.Start(ctx)
	logrus.Info("humidistat running")

	// A lost connection stops the loop but keeps the process, and with it
	// the status API, alive until the operator intervenes.
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case ev := <-sup.Events():
			if ev == daq.ConnectionLost {
				logrus.Error("device connection lost, acquisition halted")
			}
		}
	}

	recorder.Stop()

	if srv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logrus.Warnf("http shutdown: %v", err)
		}
	}
	return nil
}

// openSession connects either to the real apparatus or to the simulator.
func openSession(cli *config.CliConfig, cfg *config.Config) (device.Session, error) {
	if cli.Mock {
		logrus.Info("running against the simulated apparatus")
		m := device.NewMock(&cfg.Mock)
		return m, m.Connect()
	}

	s := device.NewSerial(cfg.Serial.Identity, cfg.Serial.BaudRate, cfg.Serial.Port, cfg.Serial.PortHintFile)
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}
